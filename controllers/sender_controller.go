package controller

import (
	"log"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldreach/models"
	"coldreach/utils"
)

type SenderController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSenderController(db *gorm.DB, logger *log.Logger) *SenderController {
	return &SenderController{DB: db, Logger: logger}
}

func (sc *SenderController) CreateSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name      string `json:"name" validate:"required"`
		FromEmail string `json:"from_email" validate:"required,email"`
		FromName  string `json:"from_name" validate:"required"`

		SMTPHost     string `json:"smtp_host" validate:"required"`
		SMTPPort     int    `json:"smtp_port" validate:"required"`
		SMTPUsername string `json:"smtp_username" validate:"required"`
		SMTPPassword string `json:"smtp_password" validate:"required"`
		Encryption   string `json:"encryption" validate:"required,oneof=SSL TLS STARTTLS"`

		IMAPHost       string `json:"imap_host"`
		IMAPPort       int    `json:"imap_port"`
		IMAPUsername   string `json:"imap_username"`
		IMAPPassword   string `json:"imap_password"`
		IMAPEncryption string `json:"imap_encryption"`
		IMAPMailbox    string `json:"imap_mailbox"`

		DailyLimit int `json:"daily_limit"`
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
	if err := checkmail.ValidateFormat(input.FromEmail); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid from_email address",
		})
	}

	encryptedSMTP, err := utils.Encrypt(input.SMTPPassword)
	if err != nil {
		sc.Logger.Printf("Failed to encrypt SMTP password: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store credentials",
		})
	}
	var encryptedIMAP string
	if input.IMAPPassword != "" {
		encryptedIMAP, err = utils.Encrypt(input.IMAPPassword)
		if err != nil {
			sc.Logger.Printf("Failed to encrypt IMAP password: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to store credentials",
			})
		}
	}

	sender := models.Sender{
		UserID:       user.ID,
		Name:         input.Name,
		FromEmail:    input.FromEmail,
		FromName:     input.FromName,
		SMTPHost:     input.SMTPHost,
		SMTPPort:     input.SMTPPort,
		SMTPUsername: input.SMTPUsername,
		SMTPPassword: encryptedSMTP,
		Encryption:   input.Encryption,
		IMAPHost:     input.IMAPHost,
		IMAPPort:     input.IMAPPort,
		IMAPUsername: input.IMAPUsername,
		IMAPPassword: encryptedIMAP,
	}
	if input.IMAPEncryption != "" {
		sender.IMAPEncryption = input.IMAPEncryption
	}
	if input.IMAPMailbox != "" {
		sender.IMAPMailbox = input.IMAPMailbox
	}
	if input.DailyLimit > 0 {
		sender.DailyLimit = input.DailyLimit
	}

	if err := sc.DB.Create(&sender).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sender",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(sender)
}

func (sc *SenderController) ListSenders(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var senders []models.Sender
	if err := sc.DB.Where("user_id = ?", user.ID).Order("id").Find(&senders).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch senders",
		})
	}
	return c.JSON(senders)
}

func (sc *SenderController) GetSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sender models.Sender
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sender).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}
	return c.JSON(sender)
}

func (sc *SenderController) UpdateSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sender models.Sender
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&sender).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}

	var input struct {
		Name         *string `json:"name"`
		FromName     *string `json:"from_name"`
		SMTPHost     *string `json:"smtp_host"`
		SMTPPort     *int    `json:"smtp_port"`
		SMTPUsername *string `json:"smtp_username"`
		SMTPPassword *string `json:"smtp_password"`
		Encryption   *string `json:"encryption"`
		IMAPHost     *string `json:"imap_host"`
		IMAPPort     *int    `json:"imap_port"`
		IMAPUsername *string `json:"imap_username"`
		IMAPPassword *string `json:"imap_password"`
		IsActive     *bool   `json:"is_active"`
		DailyLimit   *int    `json:"daily_limit"`
		TrackOpens   *bool   `json:"track_opens"`
		TrackClicks  *bool   `json:"track_clicks"`
		TrackReplies *bool   `json:"track_replies"`
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
	if input.FromName != nil {
		updates["from_name"] = *input.FromName
	}
	if input.SMTPHost != nil {
		updates["smtp_host"] = *input.SMTPHost
	}
	if input.SMTPPort != nil {
		updates["smtp_port"] = *input.SMTPPort
	}
	if input.SMTPUsername != nil {
		updates["smtp_username"] = *input.SMTPUsername
	}
	if input.Encryption != nil {
		updates["encryption"] = *input.Encryption
	}
	if input.IMAPHost != nil {
		updates["imap_host"] = *input.IMAPHost
	}
	if input.IMAPPort != nil {
		updates["imap_port"] = *input.IMAPPort
	}
	if input.IMAPUsername != nil {
		updates["imap_username"] = *input.IMAPUsername
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}
	if input.DailyLimit != nil {
		updates["daily_limit"] = *input.DailyLimit
	}
	if input.TrackOpens != nil {
		updates["track_opens"] = *input.TrackOpens
	}
	if input.TrackClicks != nil {
		updates["track_clicks"] = *input.TrackClicks
	}
	if input.TrackReplies != nil {
		updates["track_replies"] = *input.TrackReplies
	}

	if input.SMTPPassword != nil {
		encrypted, err := utils.Encrypt(*input.SMTPPassword)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to store credentials",
			})
		}
		updates["smtp_password"] = encrypted
		// Credentials changed, force a re-verification.
		updates["smtp_verified"] = false
	}
	if input.IMAPPassword != nil {
		encrypted, err := utils.Encrypt(*input.IMAPPassword)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to store credentials",
			})
		}
		updates["imap_password"] = encrypted
		updates["imap_verified"] = false
	}

	if len(updates) > 0 {
		if err := sc.DB.Model(&sender).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update sender",
			})
		}
	}
	return c.JSON(sender)
}

func (sc *SenderController) DeleteSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var inUse int64
	sc.DB.Model(&models.Sequence{}).
		Where("sender_id = ? AND user_id = ? AND status = ?", c.Params("id"), user.ID, "active").
		Count(&inUse)
	if inUse > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Sender is used by an active sequence",
		})
	}

	res := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).Delete(&models.Sender{})
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sender",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}
	return c.JSON(fiber.Map{"message": "Sender deleted"})
}
