package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// ContactList represents a named list of contacts
type ContactList struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"` // manual, csv, api, etc.

	// Statistics
	ContactCount      int `gorm:"default:0" json:"contact_count"`
	UnsubscribedCount int `gorm:"default:0" json:"unsubscribed_count"`

	// Relations
	Contacts []Contact `gorm:"foreignKey:ListID" json:"contacts,omitempty"`
}

// Contact represents a single outreach contact
type Contact struct {
	gorm.Model
	UserID uint  `gorm:"not null;index" json:"user_id"`
	ListID *uint `gorm:"index" json:"list_id,omitempty"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Phone     string `json:"phone"`
	Website   string `json:"website"`

	Status  string `gorm:"default:'active'" json:"status"` // active, unsubscribed, bounced, do_not_contact
	BatchID string `gorm:"index" json:"batch_id"`          // import batch this contact arrived with

	// Metadata
	Source          string     `json:"source"`
	LastContactedAt *time.Time `json:"last_contacted_at"`

	// Relations
	List *ContactList `gorm:"foreignKey:ListID" json:"-"`
}

// Mailable reports whether the contact may still receive sequence email.
// Unsubscribed, hard-bounced and do_not_contact are all terminal.
func (c *Contact) Mailable() bool {
	switch c.Status {
	case "unsubscribed", "bounced", "do_not_contact":
		return false
	}
	return true
}

// FullName returns the contact's display name, falling back to the email
// local part when no name is set.
func (c *Contact) FullName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name != "" {
		return name
	}
	if at := strings.Index(c.Email, "@"); at > 0 {
		return c.Email[:at]
	}
	return c.Email
}
