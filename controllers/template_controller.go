package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldreach/models"
	"coldreach/utils"
)

type TemplateController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTemplateController(db *gorm.DB, logger *log.Logger) *TemplateController {
	return &TemplateController{DB: db, Logger: logger}
}

func (tc *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name        string `json:"name" validate:"required"`
		Subject     string `json:"subject" validate:"required"`
		HTMLContent string `json:"html_content"`
		TextContent string `json:"text_content"`
		Category    string `json:"category"`
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
	if input.HTMLContent == "" && input.TextContent == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Template needs html_content or text_content",
		})
	}

	template := models.Template{
		UserID:      user.ID,
		Name:        input.Name,
		Subject:     input.Subject,
		HTMLContent: input.HTMLContent,
		TextContent: input.TextContent,
		Category:    input.Category,
	}
	if err := tc.DB.Create(&template).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create template",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(template)
}

func (tc *TemplateController) ListTemplates(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := tc.DB.Where("user_id = ? OR is_public = ?", user.ID, true)
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}

	var templates []models.Template
	if err := query.Order("id DESC").Find(&templates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch templates",
		})
	}
	return c.JSON(templates)
}

func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.Template
	if err := tc.DB.Where("id = ? AND (user_id = ? OR is_public = ?)", c.Params("id"), user.ID, true).
		First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}
	return c.JSON(template)
}

func (tc *TemplateController) UpdateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.Template
	if err := tc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&template).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	var input struct {
		Name        *string `json:"name"`
		Subject     *string `json:"subject"`
		HTMLContent *string `json:"html_content"`
		TextContent *string `json:"text_content"`
		Category    *string `json:"category"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		updates["name"] = *input.Name
	}
	if input.Subject != nil {
		updates["subject"] = *input.Subject
	}
	if input.HTMLContent != nil {
		updates["html_content"] = *input.HTMLContent
	}
	if input.TextContent != nil {
		updates["text_content"] = *input.TextContent
	}
	if input.Category != nil {
		updates["category"] = *input.Category
	}
	if len(updates) > 0 {
		if err := tc.DB.Model(&template).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update template",
			})
		}
	}
	return c.JSON(template)
}

func (tc *TemplateController) DeleteTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	// Refuse to delete templates still referenced by sequence steps.
	var inUse int64
	tc.DB.Model(&models.SequenceStep{}).
		Joins("JOIN sequences ON sequences.id = sequence_steps.sequence_id").
		Where("sequence_steps.template_id = ? AND sequences.user_id = ?", c.Params("id"), user.ID).
		Count(&inUse)
	if inUse > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Template is used by a sequence step",
		})
	}

	res := tc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).Delete(&models.Template{})
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete template",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Template not found",
		})
	}
	return c.JSON(fiber.Map{"message": "Template deleted"})
}
