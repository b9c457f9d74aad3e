package engine

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MailSender sends a one-off email on behalf of an owner using one of their
// configured sender identities. Implemented by utils.Mailer; automation
// actions that send email depend on it.
type MailSender interface {
	Send(userID uint, to, subject, body string) (string, error)
}

// Engine holds the sequence scheduler, the automation rule engine and the
// reputation aggregator. It is stateless between calls; all state lives in
// the database.
type Engine struct {
	db     *gorm.DB
	log    *logrus.Entry
	mailer MailSender // optional; nil disables send_email/send_booking_link actions
}

func New(db *gorm.DB) *Engine {
	return &Engine{
		db:  db,
		log: logrus.WithField("component", "engine"),
	}
}

// WithMailer attaches the mail collaborator used by send-type automation
// actions and returns the engine for chaining.
func (e *Engine) WithMailer(m MailSender) *Engine {
	e.mailer = m
	return e
}
