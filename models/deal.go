package models

import (
	"time"

	"gorm.io/gorm"
)

// Deal represents a sales opportunity created for a contact, typically by an
// automation rule reacting to a positive reply.
type Deal struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	ContactID uint `gorm:"not null;index" json:"contact_id"`

	Name        string  `gorm:"not null" json:"name"`
	Value       float64 `gorm:"default:0" json:"value"`
	Probability int     `gorm:"default:20" json:"probability"`      // percent
	Stage       string  `gorm:"default:'lead';index" json:"stage"`  // lead, qualified, proposal, negotiation, won, lost
	Source      string  `gorm:"default:'automation'" json:"source"` // automation, manual
	Status      string  `gorm:"default:'open'" json:"status"`       // open, won, lost

	ClosedAt *time.Time `json:"closed_at"`

	// Relations
	Contact Contact `json:"-"`
	Tasks   []Task  `gorm:"foreignKey:DealID" json:"tasks,omitempty"`
}

// Task represents a follow-up item for a contact or deal.
type Task struct {
	gorm.Model
	UserID    uint  `gorm:"not null;index" json:"user_id"`
	ContactID *uint `gorm:"index" json:"contact_id,omitempty"`
	DealID    *uint `gorm:"index" json:"deal_id,omitempty"`

	Title    string     `gorm:"not null" json:"title"`
	Notes    string     `gorm:"type:text" json:"notes"`
	Priority string     `gorm:"default:'medium'" json:"priority"`   // low, medium, high
	Status   string     `gorm:"default:'open';index" json:"status"` // open, done, canceled
	DueAt    *time.Time `json:"due_at"`
	DoneAt   *time.Time `json:"done_at"`
}
