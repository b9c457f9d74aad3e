package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldreach/engine"
	"coldreach/models"
	"coldreach/utils"
)

type DealController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Engine *engine.Engine
}

func NewDealController(db *gorm.DB, logger *log.Logger, eng *engine.Engine) *DealController {
	return &DealController{DB: db, Logger: logger, Engine: eng}
}

func (dc *DealController) ListDeals(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := dc.DB.Where("user_id = ?", user.ID)
	if stage := c.Query("stage"); stage != "" {
		query = query.Where("stage = ?", stage)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var deals []models.Deal
	if err := query.Order("id DESC").Find(&deals).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch deals",
		})
	}
	return c.JSON(deals)
}

func (dc *DealController) GetDeal(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var deal models.Deal
	if err := dc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&deal).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Deal not found",
		})
	}
	return c.JSON(deal)
}

// UpdateDealStage moves a deal through the pipeline and fires the
// stage_change automation trigger so downstream rules can react.
func (dc *DealController) UpdateDealStage(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var deal models.Deal
	if err := dc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&deal).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Deal not found",
		})
	}

	var input struct {
		Stage string `json:"stage" validate:"required"`
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
	if input.Stage == deal.Stage {
		return c.JSON(deal)
	}

	previous := deal.Stage
	if err := dc.DB.Model(&deal).Update("stage", input.Stage).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update deal stage",
		})
	}

	if err := dc.Engine.ExecuteForTrigger(user.ID, models.TriggerStageChange, deal.ContactID, engine.TriggerContext{
		DealID: &deal.ID,
		Metadata: map[string]string{
			"from_stage": previous,
			"to_stage":   input.Stage,
		},
	}); err != nil {
		dc.Logger.Printf("stage_change automation failed for deal %d: %v", deal.ID, err)
	}

	return c.JSON(deal)
}

func (dc *DealController) ListTasks(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := dc.DB.Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var tasks []models.Task
	if err := query.Order("due_at ASC").Find(&tasks).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch tasks",
		})
	}
	return c.JSON(tasks)
}

func (dc *DealController) CompleteTask(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var task models.Task
	if err := dc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&task).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Task not found",
		})
	}
	if task.Status == "done" {
		return c.JSON(task)
	}

	now := time.Now()
	if err := dc.DB.Model(&task).Updates(map[string]interface{}{
		"status":  "done",
		"done_at": now,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to complete task",
		})
	}
	return c.JSON(task)
}
