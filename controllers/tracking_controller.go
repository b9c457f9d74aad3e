package controller

import (
	"encoding/base64"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldreach/engine"
	"coldreach/models"
	"coldreach/utils"
)

// transparentPixel is a 1x1 transparent GIF served on open tracking hits.
var transparentPixel, _ = base64.StdEncoding.DecodeString(
	"R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

type TrackingController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Engine *engine.Engine
}

func NewTrackingController(db *gorm.DB, logger *log.Logger, eng *engine.Engine) *TrackingController {
	return &TrackingController{DB: db, Logger: logger, Engine: eng}
}

// sentEventFor resolves a message ID back to the "sent" event that produced
// it, which carries the owner and contact references.
func (tc *TrackingController) sentEventFor(messageID string) (*models.EmailEvent, error) {
	var event models.EmailEvent
	err := tc.DB.Where("message_id = ? AND event_type = ?", messageID, models.EventSent).
		Order("id DESC").First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// HandleOpenTracking serves the tracking pixel and records an opened event.
// Always returns the pixel, even on bad tokens, so mail clients render
// nothing unusual.
func (tc *TrackingController) HandleOpenTracking(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")

	if utils.ValidTrackingToken(messageID, token) {
		if event, err := tc.sentEventFor(messageID); err == nil {
			if err := tc.Engine.LogEmailEvent(event.UserID, models.EventOpened, engine.EventRef{
				ContactID:  event.ContactID,
				SequenceID: event.SequenceID,
				CampaignID: event.CampaignID,
				MessageID:  messageID,
			}); err != nil {
				tc.Logger.Printf("Failed to log open for message %s: %v", messageID, err)
			}
		}
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Send(transparentPixel)
}

// HandleClickTracking records a clicked event and redirects to the original
// URL. Invalid tokens still redirect so the recipient is never stranded.
func (tc *TrackingController) HandleClickTracking(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")
	targetURL := c.Query("url")

	if targetURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing url parameter",
		})
	}

	if utils.ValidTrackingToken(messageID, token) {
		if event, err := tc.sentEventFor(messageID); err == nil {
			if err := tc.Engine.LogEmailEvent(event.UserID, models.EventClicked, engine.EventRef{
				ContactID:  event.ContactID,
				SequenceID: event.SequenceID,
				CampaignID: event.CampaignID,
				MessageID:  messageID,
				Metadata:   map[string]string{"url": targetURL},
			}); err != nil {
				tc.Logger.Printf("Failed to log click for message %s: %v", messageID, err)
			}
		}
	}

	return c.Redirect(targetURL, fiber.StatusFound)
}

// HandleEventWebhook ingests delivery events posted by an upstream MTA or
// ESP: delivered, bounced, complained. The message ID ties the event back to
// the send that produced it.
func (tc *TrackingController) HandleEventWebhook(c *fiber.Ctx) error {
	var input struct {
		MessageID string            `json:"message_id" validate:"required"`
		EventType string            `json:"event_type" validate:"required,oneof=delivered bounced complained"`
		Timestamp *time.Time        `json:"timestamp"`
		Metadata  map[string]string `json:"metadata"`
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

	event, err := tc.sentEventFor(input.MessageID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown message ID",
		})
	}

	if err := tc.Engine.LogEmailEvent(event.UserID, input.EventType, engine.EventRef{
		ContactID:  event.ContactID,
		SequenceID: event.SequenceID,
		CampaignID: event.CampaignID,
		MessageID:  input.MessageID,
		Metadata:   input.Metadata,
	}); err != nil {
		tc.Logger.Printf("Failed to log %s for message %s: %v", input.EventType, input.MessageID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record event",
		})
	}

	// A hard bounce also flags the contact so the scheduler stops mailing it.
	if input.EventType == models.EventBounced && event.ContactID != nil {
		tc.DB.Model(&models.Contact{}).Where("id = ?", *event.ContactID).
			Update("status", "bounced")
	}

	return c.JSON(fiber.Map{"message": "Event recorded"})
}
