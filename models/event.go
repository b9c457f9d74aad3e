package models

import (
	"time"

	"gorm.io/gorm"
)

// Email lifecycle event types
const (
	EventSent         = "sent"
	EventDelivered    = "delivered"
	EventOpened       = "opened"
	EventClicked      = "clicked"
	EventBounced      = "bounced"
	EventComplained   = "complained"
	EventUnsubscribed = "unsubscribed"
)

// EventTypes lists every valid lifecycle event type.
var EventTypes = []string{
	EventSent,
	EventDelivered,
	EventOpened,
	EventClicked,
	EventBounced,
	EventComplained,
	EventUnsubscribed,
}

// IsValidEventType reports whether t is a known lifecycle event type.
func IsValidEventType(t string) bool {
	for _, et := range EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// EmailEvent is one immutable row in the append-only email lifecycle log.
// Rows are created by the engine's LogEmailEvent and never updated or deleted.
type EmailEvent struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	EventType string `gorm:"not null;index" json:"event_type"` // sent, delivered, opened, clicked, bounced, complained, unsubscribed

	ContactID  *uint `gorm:"index" json:"contact_id,omitempty"`
	SequenceID *uint `gorm:"index" json:"sequence_id,omitempty"`
	CampaignID *uint `gorm:"index" json:"campaign_id,omitempty"`

	MessageID string            `gorm:"index" json:"message_id"`
	Metadata  map[string]string `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
}

// DailyStat aggregates lifecycle event counts per (owner, calendar day).
// Upserted by LogEmailEvent; the reputation score is derived from these rows.
type DailyStat struct {
	gorm.Model
	UserID uint      `gorm:"not null;index:idx_daily_stats_user_day,unique" json:"user_id"`
	Day    time.Time `gorm:"not null;index:idx_daily_stats_user_day,unique" json:"day"`

	SentCount         int `gorm:"default:0" json:"sent_count"`
	DeliveredCount    int `gorm:"default:0" json:"delivered_count"`
	OpenedCount       int `gorm:"default:0" json:"opened_count"`
	ClickedCount      int `gorm:"default:0" json:"clicked_count"`
	BouncedCount      int `gorm:"default:0" json:"bounced_count"`
	ComplainedCount   int `gorm:"default:0" json:"complained_count"`
	UnsubscribedCount int `gorm:"default:0" json:"unsubscribed_count"`
}
