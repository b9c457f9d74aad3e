package controller

import (
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldreach/models"
	"coldreach/utils"
)

type AutomationController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewAutomationController(db *gorm.DB, logger *log.Logger) *AutomationController {
	return &AutomationController{DB: db, Logger: logger}
}

// validateActionConfig rejects configs the action would fail on at execution
// time. Rules are validated once here so the engine can trust its defaults.
func (ac *AutomationController) validateActionConfig(userID uint, actionType string, cfg models.ActionConfig) error {
	switch actionType {
	case models.ActionSendSequence:
		if cfg.SequenceID == 0 {
			return fmt.Errorf("send_sequence requires sequence_id")
		}
		var count int64
		ac.DB.Model(&models.Sequence{}).Where("id = ? AND user_id = ?", cfg.SequenceID, userID).Count(&count)
		if count == 0 {
			return fmt.Errorf("sequence %d not found", cfg.SequenceID)
		}
	case models.ActionSendEmail:
		if cfg.TemplateID == 0 {
			return fmt.Errorf("send_email requires template_id")
		}
		var count int64
		ac.DB.Model(&models.Template{}).
			Where("id = ? AND (user_id = ? OR is_public = ?)", cfg.TemplateID, userID, true).
			Count(&count)
		if count == 0 {
			return fmt.Errorf("template %d not found", cfg.TemplateID)
		}
	case models.ActionSendBookingLink:
		if cfg.BookingURL == "" {
			return fmt.Errorf("send_booking_link requires booking_url")
		}
		if !strings.HasPrefix(cfg.BookingURL, "http://") && !strings.HasPrefix(cfg.BookingURL, "https://") {
			return fmt.Errorf("booking_url must be an absolute http(s) URL")
		}
	case models.ActionAddTask:
		switch cfg.TaskPriority {
		case "", "low", "medium", "high":
		default:
			return fmt.Errorf("task_priority must be low, medium or high")
		}
		if cfg.DueInDays < 0 {
			return fmt.Errorf("due_in_days cannot be negative")
		}
	case models.ActionCreateDeal:
		if cfg.DealValue < 0 {
			return fmt.Errorf("deal_value cannot be negative")
		}
		if cfg.DealProbability < 0 || cfg.DealProbability > 100 {
			return fmt.Errorf("deal_probability must be 0..100")
		}
	case models.ActionNotifyUser:
		if cfg.Message == "" {
			return fmt.Errorf("notify_user requires a message")
		}
	case models.ActionUpdateStage:
		// Stage defaults to "qualified"; the DealID comes from the trigger
		// context at execution time, nothing to check here.
	}
	return nil
}

func (ac *AutomationController) CreateRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name         string              `json:"name" validate:"required"`
		TriggerType  string              `json:"trigger_type" validate:"required"`
		ActionType   string              `json:"action_type" validate:"required"`
		ActionConfig models.ActionConfig `json:"action_config"`
		Priority     *int                `json:"priority"`
		IsActive     *bool               `json:"is_active"`
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
	if !models.IsValidTriggerType(input.TriggerType) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown trigger type: " + input.TriggerType,
		})
	}
	if !models.IsValidActionType(input.ActionType) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown action type: " + input.ActionType,
		})
	}
	if err := ac.validateActionConfig(user.ID, input.ActionType, input.ActionConfig); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	rule := models.AutomationRule{
		UserID:       user.ID,
		Name:         input.Name,
		TriggerType:  input.TriggerType,
		ActionType:   input.ActionType,
		ActionConfig: input.ActionConfig,
		IsActive:     true,
	}
	if input.Priority != nil {
		rule.Priority = *input.Priority
	} else {
		rule.Priority = 100
	}
	if input.IsActive != nil {
		rule.IsActive = *input.IsActive
	}

	if err := ac.DB.Create(&rule).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create rule",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (ac *AutomationController) ListRules(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := ac.DB.Where("user_id = ?", user.ID)
	if trigger := c.Query("trigger_type"); trigger != "" {
		query = query.Where("trigger_type = ?", trigger)
	}

	var rules []models.AutomationRule
	if err := query.Order("priority ASC, id ASC").Find(&rules).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch rules",
		})
	}
	return c.JSON(rules)
}

func (ac *AutomationController) GetRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.AutomationRule
	if err := ac.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}
	return c.JSON(rule)
}

func (ac *AutomationController) UpdateRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rule models.AutomationRule
	if err := ac.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&rule).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}

	var input struct {
		Name         *string              `json:"name"`
		TriggerType  *string              `json:"trigger_type"`
		ActionType   *string              `json:"action_type"`
		ActionConfig *models.ActionConfig `json:"action_config"`
		Priority     *int                 `json:"priority"`
		IsActive     *bool                `json:"is_active"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if input.Name != nil {
		rule.Name = *input.Name
	}
	if input.TriggerType != nil {
		if !models.IsValidTriggerType(*input.TriggerType) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown trigger type: " + *input.TriggerType,
			})
		}
		rule.TriggerType = *input.TriggerType
	}
	if input.ActionType != nil {
		if !models.IsValidActionType(*input.ActionType) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown action type: " + *input.ActionType,
			})
		}
		rule.ActionType = *input.ActionType
	}
	if input.ActionConfig != nil {
		rule.ActionConfig = *input.ActionConfig
	}
	if input.Priority != nil {
		rule.Priority = *input.Priority
	}
	if input.IsActive != nil {
		rule.IsActive = *input.IsActive
	}

	// Action type or config changes must still pass save-time validation.
	if err := ac.validateActionConfig(user.ID, rule.ActionType, rule.ActionConfig); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := ac.DB.Save(&rule).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update rule",
		})
	}
	return c.JSON(rule)
}

func (ac *AutomationController) DeleteRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	res := ac.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).Delete(&models.AutomationRule{})
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete rule",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}
	return c.JSON(fiber.Map{"message": "Rule deleted"})
}

// ListLogs returns the execution audit trail, newest first.
func (ac *AutomationController) ListLogs(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	query := ac.DB.Where("user_id = ?", user.ID)
	if ruleID := c.Query("rule_id"); ruleID != "" {
		query = query.Where("rule_id = ?", utils.ParseUint(ruleID))
	}
	if contactID := c.Query("contact_id"); contactID != "" {
		query = query.Where("contact_id = ?", utils.ParseUint(contactID))
	}
	if success := c.Query("success"); success != "" {
		query = query.Where("success = ?", success == "true")
	}

	var total int64
	query.Model(&models.AutomationLog{}).Count(&total)

	var logs []models.AutomationLog
	if err := query.Offset((page - 1) * limit).Limit(limit).Order("id DESC").Find(&logs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch automation logs",
		})
	}
	return c.JSON(utils.PaginatedResponse{Data: logs, Total: total, Page: page, Limit: limit})
}
