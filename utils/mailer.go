package utils

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"coldreach/models"
)

// Email is one outbound message handed to a sender identity. MessageID may
// be preset when the caller injected tracking URLs that reference it; left
// empty, one is generated.
type Email struct {
	To        string
	Subject   string
	Body      string
	MessageID string
}

// NewMessageID generates an RFC 5322 Message-ID scoped to the sender's
// domain.
func NewMessageID(sender *models.Sender) string {
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(sender.FromEmail))
}

// Mailer delivers email through the owner's configured sender identities.
// It is the send collaborator sitting between the engine's "should send"
// decision and its advancement commit.
type Mailer struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewMailer(db *gorm.DB, logger *log.Logger) *Mailer {
	return &Mailer{DB: db, Logger: logger}
}

// SendFromSender delivers one email through a specific sender identity and
// returns the generated Message-ID. Counters are only bumped after the SMTP
// conversation succeeded.
func (m *Mailer) SendFromSender(sender *models.Sender, email Email) (string, error) {
	password, err := Decrypt(sender.SMTPPassword)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	messageID := email.MessageID
	if messageID == "" {
		messageID = NewMessageID(sender)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("Message-ID", messageID)
	msg.SetAddressHeader("From", sender.FromEmail, sender.FromName)
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/html", email.Body)

	dialer := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, password)
	if err := dialer.DialAndSend(msg); err != nil {
		return "", fmt.Errorf("smtp send via %s failed: %w", sender.FromEmail, err)
	}

	if err := m.DB.Model(sender).Updates(map[string]interface{}{
		"sent_today": gorm.Expr("sent_today + ?", 1),
		"total_sent": gorm.Expr("total_sent + ?", 1),
	}).Error; err != nil {
		m.Logger.Printf("Failed to update sender counters for %d: %v", sender.ID, err)
	}

	return messageID, nil
}

// RotateSender selects the owner's active sender with the most capacity left
// today.
func (m *Mailer) RotateSender(userID uint) (*models.Sender, error) {
	var senders []models.Sender
	if err := m.DB.Where("user_id = ? AND is_active = ?", userID, true).Find(&senders).Error; err != nil {
		return nil, err
	}
	if len(senders) == 0 {
		return nil, errors.New("no active senders available")
	}

	var bestSender *models.Sender
	maxAvailable := 0
	for i := range senders {
		available := senders[i].DailyLimit - senders[i].SentToday
		if available > maxAvailable {
			maxAvailable = available
			bestSender = &senders[i]
		}
	}
	if bestSender == nil || maxAvailable <= 0 {
		return nil, errors.New("no senders with available capacity")
	}
	return bestSender, nil
}

// Send implements engine.MailSender: pick a sender for the owner and deliver.
func (m *Mailer) Send(userID uint, to, subject, body string) (string, error) {
	sender, err := m.RotateSender(userID)
	if err != nil {
		return "", err
	}
	return m.SendFromSender(sender, Email{To: to, Subject: subject, Body: body})
}

func domainOf(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 && at+1 < len(email) {
		return email[at+1:]
	}
	return "localhost"
}
