package controller

import (
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"coldreach/engine"
	"coldreach/models"
	"coldreach/utils"
)

type ReplyController struct {
	DB         *gorm.DB
	Logger     *log.Logger
	Engine     *engine.Engine
	Classifier engine.Classifier
}

func NewReplyController(db *gorm.DB, logger *log.Logger, eng *engine.Engine, cls engine.Classifier) *ReplyController {
	return &ReplyController{DB: db, Logger: logger, Engine: eng, Classifier: cls}
}

// HandleReplyWebhook ingests a reply posted by an upstream inbound-parse
// service. The to_email identifies which sender identity received it, which
// in turn identifies the owning user.
func (rc *ReplyController) HandleReplyWebhook(c *fiber.Ctx) error {
	var input struct {
		ToEmail   string `json:"to_email" validate:"required,email"`
		FromEmail string `json:"from_email" validate:"required,email"`
		Subject   string `json:"subject"`
		Body      string `json:"body"`
		MessageID string `json:"message_id"`
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
	if err := rc.DB.Where("from_email = ?", input.ToEmail).First(&sender).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No sender matches to_email",
		})
	}

	reply, err := rc.storeReply(sender.UserID, &sender.ID, input.FromEmail, input.Subject, input.Body, input.MessageID, time.Now())
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "No contact matches from_email",
			})
		}
		rc.Logger.Printf("Failed to store webhook reply: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store reply",
		})
	}
	if reply == nil {
		return c.JSON(fiber.Map{"message": "Duplicate reply ignored"})
	}

	rc.classifyAndHandle(reply)
	return c.Status(fiber.StatusCreated).JSON(reply)
}

// ListReplies returns the user's classified inbound replies, newest first.
func (rc *ReplyController) ListReplies(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	query := rc.DB.Where("user_id = ?", user.ID)
	if classification := c.Query("classification"); classification != "" {
		query = query.Where("classification = ?", classification)
	}
	if contactID := c.Query("contact_id"); contactID != "" {
		query = query.Where("contact_id = ?", utils.ParseUint(contactID))
	}

	var total int64
	query.Model(&models.InboundReply{}).Count(&total)

	var replies []models.InboundReply
	if err := query.Offset((page - 1) * limit).Limit(limit).Order("id DESC").Find(&replies).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch replies",
		})
	}
	return c.JSON(utils.PaginatedResponse{Data: replies, Total: total, Page: page, Limit: limit})
}

// FetchReplies polls the user's IMAP-enabled senders for unseen mail and runs
// each matched reply through classification. Also invoked on a schedule by
// the reply worker.
func (rc *ReplyController) FetchReplies(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var senders []models.Sender
	if err := rc.DB.Where("user_id = ? AND is_active = ? AND track_replies = ? AND imap_host != ''",
		user.ID, true, true).Find(&senders).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch senders",
		})
	}

	fetched := 0
	for i := range senders {
		n, err := rc.fetchFromIMAP(&senders[i])
		if err != nil {
			rc.Logger.Printf("IMAP fetch failed for sender %d: %v", senders[i].ID, err)
			errMsg := err.Error()
			rc.DB.Model(&senders[i]).Update("last_error", &errMsg)
			continue
		}
		fetched += n
	}

	return c.JSON(fiber.Map{
		"message": "Reply fetch completed",
		"fetched": fetched,
	})
}

func (rc *ReplyController) fetchFromIMAP(sender *models.Sender) (int, error) {
	password, err := utils.Decrypt(sender.IMAPPassword)
	if err != nil {
		return 0, fmt.Errorf("failed to decrypt IMAP password: %v", err)
	}

	var imapClient *client.Client
	imapAddr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)

	switch strings.ToUpper(sender.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(imapAddr, &tls.Config{
			ServerName: sender.IMAPHost,
		})
	case "STARTTLS":
		imapClient, err = client.Dial(imapAddr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{
				ServerName: sender.IMAPHost,
			})
		}
	default:
		imapClient, err = client.Dial(imapAddr)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(sender.IMAPUsername, password); err != nil {
		return 0, fmt.Errorf("failed to login to IMAP server: %v", err)
	}

	mailbox := sender.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := imapClient.Select(mailbox, false); err != nil {
		return 0, fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search messages: %v", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	fetched := 0
	for msg := range messages {
		reply, err := rc.processIMAPMessage(msg, sender)
		if err != nil {
			rc.Logger.Printf("Failed to process message %d: %v", msg.SeqNum, err)
			continue
		}
		if reply == nil {
			continue // no matching contact, or already ingested
		}
		rc.classifyAndHandle(reply)
		fetched++
	}
	if err := <-done; err != nil {
		return fetched, fmt.Errorf("error during fetch: %v", err)
	}
	return fetched, nil
}

func (rc *ReplyController) processIMAPMessage(msg *imap.Message, sender *models.Sender) (*models.InboundReply, error) {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return nil, fmt.Errorf("message has no envelope sender")
	}
	from := msg.Envelope.From[0]
	fromEmail := strings.ToLower(from.MailboxName + "@" + from.HostName)

	var bodyText, bodyHTML string
	if msg.Body != nil {
		section := imap.BodySectionName{}
		literal, ok := msg.Body[&section]
		if !ok {
			return nil, fmt.Errorf("message body not found")
		}

		mr, err := mail.CreateReader(literal)
		if err != nil {
			return nil, fmt.Errorf("failed to create message reader: %v", err)
		}
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			} else if err != nil {
				return nil, fmt.Errorf("failed to read next part: %v", err)
			}

			if h, ok := p.Header.(*mail.InlineHeader); ok {
				contentType, _, _ := h.ContentType()
				b, err := io.ReadAll(p.Body)
				if err != nil {
					return nil, fmt.Errorf("failed to read body: %v", err)
				}
				if strings.Contains(contentType, "text/html") {
					bodyHTML = string(b)
				} else if strings.Contains(contentType, "text/plain") {
					bodyText = string(b)
				}
			}
		}
	}
	body := bodyText
	if body == "" {
		body = bodyHTML
	}

	reply, err := rc.storeReply(sender.UserID, &sender.ID, fromEmail,
		msg.Envelope.Subject, body, msg.Envelope.MessageId, msg.Envelope.Date)
	if err == gorm.ErrRecordNotFound {
		return nil, nil // mail from an address we never contacted
	}
	return reply, err
}

// storeReply matches the from address to a contact and persists the reply.
// Returns (nil, nil) for duplicates and gorm.ErrRecordNotFound when no
// contact owns the address.
func (rc *ReplyController) storeReply(userID uint, senderID *uint, fromEmail, subject, body, messageID string, receivedAt time.Time) (*models.InboundReply, error) {
	var contact models.Contact
	if err := rc.DB.Where("user_id = ? AND LOWER(email) = LOWER(?)", userID, fromEmail).First(&contact).Error; err != nil {
		return nil, err
	}

	if messageID != "" {
		var existing models.InboundReply
		if err := rc.DB.Where("user_id = ? AND message_id = ?", userID, messageID).First(&existing).Error; err == nil {
			return nil, nil
		}
	}

	reply := models.InboundReply{
		UserID:     userID,
		SenderID:   senderID,
		ContactID:  contact.ID,
		MessageID:  messageID,
		FromEmail:  fromEmail,
		Subject:    subject,
		Body:       body,
		ReceivedAt: receivedAt,
	}
	if err := rc.DB.Create(&reply).Error; err != nil {
		return nil, err
	}
	return &reply, nil
}

// classifyAndHandle runs the classifier and hands the outcome to the
// automation engine. Classification failures leave the reply stored but
// unprocessed so a later pass can retry it.
func (rc *ReplyController) classifyAndHandle(reply *models.InboundReply) {
	cls, err := rc.Classifier.Classify(engine.ReplyInput{
		Subject:   reply.Subject,
		Body:      reply.Body,
		FromEmail: reply.FromEmail,
	})
	if err != nil {
		rc.Logger.Printf("Classification failed for reply %d: %v", reply.ID, err)
		return
	}
	if err := rc.Engine.HandleClassifiedReply(reply, cls); err != nil {
		rc.Logger.Printf("Automation failed for reply %d: %v", reply.ID, err)
	}
}
