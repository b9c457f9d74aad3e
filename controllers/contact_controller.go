package controller

import (
	"log"
	"time"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldreach/engine"
	"coldreach/models"
	"coldreach/utils"
)

type ContactController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Engine *engine.Engine
}

func NewContactController(db *gorm.DB, logger *log.Logger, eng *engine.Engine) *ContactController {
	return &ContactController{DB: db, Logger: logger, Engine: eng}
}

func (cc *ContactController) CreateContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Email     string `json:"email" validate:"required,email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Company   string `json:"company"`
		Position  string `json:"position"`
		Phone     string `json:"phone"`
		ListID    *uint  `json:"list_id"`
		BatchID   string `json:"batch_id"`
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
	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	contact := models.Contact{
		UserID:    user.ID,
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Company:   input.Company,
		Position:  input.Position,
		Phone:     input.Phone,
		ListID:    input.ListID,
		BatchID:   input.BatchID,
		Source:    "api",
	}
	if err := cc.DB.Create(&contact).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create contact",
		})
	}
	if input.ListID != nil {
		cc.DB.Model(&models.ContactList{}).Where("id = ?", *input.ListID).
			UpdateColumn("contact_count", gorm.Expr("contact_count + 1"))
	}

	return c.Status(fiber.StatusCreated).JSON(contact)
}

func (cc *ContactController) ListContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	query := cc.DB.Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if listID := c.Query("list_id"); listID != "" {
		query = query.Where("list_id = ?", utils.ParseUint(listID))
	}

	var total int64
	query.Model(&models.Contact{}).Count(&total)

	var contacts []models.Contact
	if err := query.Offset((page - 1) * limit).Limit(limit).Order("id DESC").Find(&contacts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch contacts",
		})
	}

	return c.JSON(utils.PaginatedResponse{Data: contacts, Total: total, Page: page, Limit: limit})
}

func (cc *ContactController) GetContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&contact).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}
	return c.JSON(contact)
}

func (cc *ContactController) UpdateContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&contact).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}

	var input map[string]interface{}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	// Only whitelisted fields are patchable
	allowed := map[string]bool{
		"first_name": true, "last_name": true, "company": true,
		"position": true, "phone": true, "website": true, "list_id": true,
	}
	updates := map[string]interface{}{}
	for k, v := range input {
		if allowed[k] {
			updates[k] = v
		}
	}
	if len(updates) > 0 {
		if err := cc.DB.Model(&contact).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update contact",
			})
		}
	}
	return c.JSON(contact)
}

func (cc *ContactController) DeleteContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	res := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).Delete(&models.Contact{})
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete contact",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}
	return c.JSON(fiber.Map{"message": "Contact deleted"})
}

// UnsubscribeContact marks the contact unsubscribed and records the
// lifecycle event. The scheduler picks the status change up on the next due
// poll and closes any active enrollments.
func (cc *ContactController) UnsubscribeContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&contact).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}

	now := time.Now()
	if err := cc.DB.Model(&contact).Updates(map[string]interface{}{
		"status":            "unsubscribed",
		"last_contacted_at": now,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to unsubscribe contact",
		})
	}

	if err := cc.Engine.LogEmailEvent(user.ID, models.EventUnsubscribed, engine.EventRef{
		ContactID: &contact.ID,
	}); err != nil {
		cc.Logger.Printf("Failed to log unsubscribe event for contact %d: %v", contact.ID, err)
	}

	return c.JSON(fiber.Map{"message": "Contact unsubscribed"})
}
