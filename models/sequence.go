package models

import (
	"time"

	"gorm.io/gorm"
)

// Step branch conditions
const (
	ConditionAlways       = "always"
	ConditionIfNotOpened  = "if_not_opened"
	ConditionIfNotClicked = "if_not_clicked"
)

// Enrollment statuses
const (
	EnrollmentActive       = "active"
	EnrollmentPaused       = "paused"
	EnrollmentCompleted    = "completed"
	EnrollmentUnsubscribed = "unsubscribed"
)

// Sequence represents an automated multi-step email sequence
type Sequence struct {
	gorm.Model
	UserID   uint `gorm:"not null;index" json:"user_id"`
	SenderID uint `gorm:"not null;index" json:"sender_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused

	// Statistics (denormalized for performance)
	EnrolledCount  int `gorm:"default:0" json:"enrolled_count"`
	CompletedCount int `gorm:"default:0" json:"completed_count"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// SequenceStep represents one templated email within a sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	TemplateID uint `gorm:"not null;index" json:"template_id"`

	StepNumber int    `gorm:"not null" json:"step_number"` // dense 0-based order within the sequence
	DelayDays  int    `gorm:"not null;default:0" json:"delay_days"`
	DelayHours int    `gorm:"not null;default:0" json:"delay_hours"`
	Condition  string `gorm:"default:'always'" json:"condition"` // always, if_not_opened, if_not_clicked

	// Tracking
	SentCount    int `gorm:"default:0" json:"sent_count"`
	SkippedCount int `gorm:"default:0" json:"skipped_count"`

	// Relations
	Template Template `json:"-"`
}

// Delay returns the combined step delay as a duration.
func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}

// SequenceEnrollment binds one contact to one sequence and tracks its progress.
// At most one enrollment should exist per (contact, sequence) pair; the
// automation engine checks this before creating new ones.
type SequenceEnrollment struct {
	gorm.Model
	UserID     uint `gorm:"not null;index" json:"user_id"`
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	ContactID  uint `gorm:"not null;index" json:"contact_id"`

	CurrentStep int    `gorm:"default:0" json:"current_step"`
	Status      string `gorm:"default:'active';index" json:"status"` // active, paused, completed, unsubscribed

	// Set iff status is active and there are steps left to send
	NextSendAt  *time.Time `gorm:"index" json:"next_send_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Sequence Sequence `json:"-"`
	Contact  Contact  `json:"-"`
}
