package controller

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldreach/models"
	"coldreach/utils"
)

type SequenceController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, logger *log.Logger) *SequenceController {
	return &SequenceController{DB: db, Logger: logger}
}

type sequenceStepInput struct {
	TemplateID uint   `json:"template_id" validate:"required"`
	StepNumber int    `json:"step_number"`
	DelayDays  int    `json:"delay_days" validate:"gte=0"`
	DelayHours int    `json:"delay_hours" validate:"gte=0"`
	Condition  string `json:"condition"`
}

// validateSteps checks the step list forms a dense 0-based order with known
// conditions and templates the user can actually use.
func (sc *SequenceController) validateSteps(userID uint, steps []sequenceStepInput) error {
	if len(steps) == 0 {
		return fmt.Errorf("a sequence needs at least one step")
	}
	seen := make(map[int]bool, len(steps))
	for i := range steps {
		s := &steps[i]
		if err := utils.ValidateStruct(*s); err != nil {
			return err
		}
		if s.StepNumber < 0 || s.StepNumber >= len(steps) || seen[s.StepNumber] {
			return fmt.Errorf("step_number values must be 0..%d with no gaps or duplicates", len(steps)-1)
		}
		seen[s.StepNumber] = true

		if s.Condition == "" {
			s.Condition = models.ConditionAlways
		}
		switch s.Condition {
		case models.ConditionAlways, models.ConditionIfNotOpened, models.ConditionIfNotClicked:
		default:
			return fmt.Errorf("unknown step condition %q", s.Condition)
		}

		var count int64
		sc.DB.Model(&models.Template{}).
			Where("id = ? AND (user_id = ? OR is_public = ?)", s.TemplateID, userID, true).
			Count(&count)
		if count == 0 {
			return fmt.Errorf("template %d not found", s.TemplateID)
		}
	}
	return nil
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name        string              `json:"name" validate:"required"`
		Description string              `json:"description"`
		SenderID    uint                `json:"sender_id" validate:"required"`
		Steps       []sequenceStepInput `json:"steps"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var sender models.Sender
	if err := sc.DB.Where("id = ? AND user_id = ?", input.SenderID, user.ID).First(&sender).Error; err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}
	if err := sc.validateSteps(user.ID, input.Steps); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	sequence := models.Sequence{
		UserID:      user.ID,
		SenderID:    input.SenderID,
		Name:        input.Name,
		Description: input.Description,
		Status:      "draft",
	}
	err := sc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&sequence).Error; err != nil {
			return err
		}
		for _, s := range input.Steps {
			step := models.SequenceStep{
				SequenceID: sequence.ID,
				TemplateID: s.TemplateID,
				StepNumber: s.StepNumber,
				DelayDays:  s.DelayDays,
				DelayHours: s.DelayHours,
				Condition:  s.Condition,
			}
			if step.Condition == "" {
				step.Condition = models.ConditionAlways
			}
			if err := tx.Create(&step).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		sc.Logger.Printf("Failed to create sequence: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number")
	}).First(&sequence, sequence.ID)
	return c.Status(fiber.StatusCreated).JSON(sequence)
}

func (sc *SequenceController) ListSequences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := sc.DB.Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var sequences []models.Sequence
	if err := query.Order("id DESC").Find(&sequences).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sequences",
		})
	}
	return c.JSON(sequences)
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequence models.Sequence
	if err := sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number")
	}).Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	return c.JSON(sequence)
}

func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var input struct {
		Name        *string             `json:"name"`
		Description *string             `json:"description"`
		SenderID    *uint               `json:"sender_id"`
		Steps       []sequenceStepInput `json:"steps"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	// Step list replacement is only allowed while the sequence is still a
	// draft. Active enrollments index into step_number and would otherwise
	// point at the wrong email.
	if input.Steps != nil && sequence.Status != "draft" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Steps can only be edited while the sequence is a draft",
		})
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		updates["name"] = *input.Name
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.SenderID != nil {
		var count int64
		sc.DB.Model(&models.Sender{}).Where("id = ? AND user_id = ?", *input.SenderID, user.ID).Count(&count)
		if count == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Sender not found",
			})
		}
		updates["sender_id"] = *input.SenderID
	}

	err := sc.DB.Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&sequence).Updates(updates).Error; err != nil {
				return err
			}
		}
		if input.Steps != nil {
			if err := sc.validateSteps(user.ID, input.Steps); err != nil {
				return err
			}
			if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.SequenceStep{}).Error; err != nil {
				return err
			}
			for _, s := range input.Steps {
				step := models.SequenceStep{
					SequenceID: sequence.ID,
					TemplateID: s.TemplateID,
					StepNumber: s.StepNumber,
					DelayDays:  s.DelayDays,
					DelayHours: s.DelayHours,
					Condition:  s.Condition,
				}
				if step.Condition == "" {
					step.Condition = models.ConditionAlways
				}
				if err := tx.Create(&step).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number")
	}).First(&sequence, sequence.ID)
	return c.JSON(sequence)
}

func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	var active int64
	sc.DB.Model(&models.SequenceEnrollment{}).
		Where("sequence_id = ? AND status = ?", sequence.ID, models.EnrollmentActive).
		Count(&active)
	if active > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Sequence has active enrollments",
		})
	}

	err := sc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.SequenceStep{}).Error; err != nil {
			return err
		}
		return tx.Delete(&sequence).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sequence",
		})
	}
	return c.JSON(fiber.Map{"message": "Sequence deleted"})
}

// ActivateSequence flips a draft or paused sequence to active so the
// scheduler starts sending its due enrollments again.
func (sc *SequenceController) ActivateSequence(c *fiber.Ctx) error {
	return sc.setSequenceStatus(c, "active")
}

func (sc *SequenceController) PauseSequence(c *fiber.Ctx) error {
	return sc.setSequenceStatus(c, "paused")
}

func (sc *SequenceController) setSequenceStatus(c *fiber.Ctx, status string) error {
	user := c.Locals("user").(*models.User)

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	if status == "active" {
		var steps int64
		sc.DB.Model(&models.SequenceStep{}).Where("sequence_id = ?", sequence.ID).Count(&steps)
		if steps == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Sequence has no steps",
			})
		}
	}
	if err := sc.DB.Model(&sequence).Update("status", status).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sequence status",
		})
	}
	return c.JSON(fiber.Map{"message": "Sequence " + status, "status": status})
}

// EnrollContact binds a contact to the sequence starting at step 0, due
// immediately. Enrolling the same contact twice is a no-op.
func (sc *SequenceController) EnrollContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var input struct {
		ContactID uint `json:"contact_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var contact models.Contact
	if err := sc.DB.Where("id = ? AND user_id = ?", input.ContactID, user.ID).First(&contact).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}
	if !contact.Mailable() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Contact cannot be mailed",
		})
	}

	var existing models.SequenceEnrollment
	if err := sc.DB.Where("contact_id = ? AND sequence_id = ?", contact.ID, sequence.ID).
		First(&existing).Error; err == nil {
		return c.JSON(fiber.Map{
			"message":    "Contact already enrolled",
			"enrollment": existing,
		})
	}

	now := time.Now()
	enrollment := models.SequenceEnrollment{
		UserID:     user.ID,
		SequenceID: sequence.ID,
		ContactID:  contact.ID,
		Status:     models.EnrollmentActive,
		NextSendAt: &now,
	}
	if err := sc.DB.Create(&enrollment).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to enroll contact",
		})
	}
	sc.DB.Model(&sequence).UpdateColumn("enrolled_count", gorm.Expr("enrolled_count + 1"))

	return c.Status(fiber.StatusCreated).JSON(enrollment)
}

func (sc *SequenceController) ListEnrollments(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := sc.DB.Where("user_id = ? AND sequence_id = ?", user.ID, c.Params("id"))
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var enrollments []models.SequenceEnrollment
	if err := query.Order("id DESC").Find(&enrollments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch enrollments",
		})
	}
	return c.JSON(enrollments)
}

// PauseEnrollment stops sending on one contact without touching the rest of
// the sequence. The due timestamp is cleared so the scheduler ignores it.
func (sc *SequenceController) PauseEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var enrollment models.SequenceEnrollment
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("enrollmentID"), user.ID).
		First(&enrollment).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Enrollment not found",
		})
	}
	if enrollment.Status != models.EnrollmentActive {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Only active enrollments can be paused",
		})
	}
	if err := sc.DB.Model(&enrollment).Updates(map[string]interface{}{
		"status":       models.EnrollmentPaused,
		"next_send_at": nil,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to pause enrollment",
		})
	}
	return c.JSON(fiber.Map{"message": "Enrollment paused"})
}

// ResumeEnrollment reactivates a paused enrollment, making its current step
// due immediately.
func (sc *SequenceController) ResumeEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var enrollment models.SequenceEnrollment
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("enrollmentID"), user.ID).
		First(&enrollment).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Enrollment not found",
		})
	}
	if enrollment.Status != models.EnrollmentPaused {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Only paused enrollments can be resumed",
		})
	}
	now := time.Now()
	if err := sc.DB.Model(&enrollment).Updates(map[string]interface{}{
		"status":       models.EnrollmentActive,
		"next_send_at": now,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resume enrollment",
		})
	}
	return c.JSON(fiber.Map{"message": "Enrollment resumed"})
}
