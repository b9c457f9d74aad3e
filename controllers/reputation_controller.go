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

type ReputationController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Engine *engine.Engine
}

func NewReputationController(db *gorm.DB, logger *log.Logger, eng *engine.Engine) *ReputationController {
	return &ReputationController{DB: db, Logger: logger, Engine: eng}
}

// GetReputation returns aggregated deliverability stats and the reputation
// score over the requested lookback window.
func (rc *ReputationController) GetReputation(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	days := c.QueryInt("days", engine.DefaultReputationWindowDays)
	if days < 1 || days > 365 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "days must be between 1 and 365",
		})
	}

	stats, err := rc.Engine.GetReputationStats(user.ID, days)
	if err != nil {
		rc.Logger.Printf("Failed to compute reputation for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute reputation stats",
		})
	}
	return c.JSON(stats)
}

// ListDailyStats returns the per-day aggregate rows in the window, oldest
// first, for charting.
func (rc *ReputationController) ListDailyStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	days := c.QueryInt("days", engine.DefaultReputationWindowDays)
	if days < 1 || days > 365 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "days must be between 1 and 365",
		})
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	var stats []models.DailyStat
	if err := rc.DB.Where("user_id = ? AND day >= ?", user.ID, since).
		Order("day ASC").Find(&stats).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch daily stats",
		})
	}
	return c.JSON(stats)
}

// ListEvents exposes the raw lifecycle event feed, newest first.
func (rc *ReputationController) ListEvents(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	query := rc.DB.Where("user_id = ?", user.ID)
	if eventType := c.Query("event_type"); eventType != "" {
		if !models.IsValidEventType(eventType) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown event type: " + eventType,
			})
		}
		query = query.Where("event_type = ?", eventType)
	}
	if contactID := c.Query("contact_id"); contactID != "" {
		query = query.Where("contact_id = ?", utils.ParseUint(contactID))
	}
	if sequenceID := c.Query("sequence_id"); sequenceID != "" {
		query = query.Where("sequence_id = ?", utils.ParseUint(sequenceID))
	}

	var total int64
	query.Model(&models.EmailEvent{}).Count(&total)

	var events []models.EmailEvent
	if err := query.Offset((page - 1) * limit).Limit(limit).Order("id DESC").Find(&events).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch events",
		})
	}
	return c.JSON(utils.PaginatedResponse{Data: events, Total: total, Page: page, Limit: limit})
}
