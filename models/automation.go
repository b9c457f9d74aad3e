package models

import (
	"time"

	"gorm.io/gorm"
)

// Automation trigger types
const (
	TriggerReplyPositive   = "reply_positive"
	TriggerReplyObjection  = "reply_objection"
	TriggerReplyNotNow     = "reply_not_now"
	TriggerReplyPrice      = "reply_price"
	TriggerReplyCompetitor = "reply_competitor"
	TriggerReplyAngry      = "reply_angry"
	TriggerNoReplyAfter    = "no_reply_after"
	TriggerDemoNoShow      = "demo_no_show"
	TriggerProposalSent    = "proposal_sent"
	TriggerProposalViewed  = "proposal_viewed"
	TriggerProposalAccept  = "proposal_accepted"
	TriggerStageChange     = "stage_change"
)

// TriggerTypes lists every valid automation trigger.
var TriggerTypes = []string{
	TriggerReplyPositive,
	TriggerReplyObjection,
	TriggerReplyNotNow,
	TriggerReplyPrice,
	TriggerReplyCompetitor,
	TriggerReplyAngry,
	TriggerNoReplyAfter,
	TriggerDemoNoShow,
	TriggerProposalSent,
	TriggerProposalViewed,
	TriggerProposalAccept,
	TriggerStageChange,
}

// Automation action types
const (
	ActionCreateDeal      = "create_deal"
	ActionSendSequence    = "send_sequence"
	ActionUpdateStage     = "update_stage"
	ActionAddTask         = "add_task"
	ActionSendBookingLink = "send_booking_link"
	ActionSendEmail       = "send_email"
	ActionNotifyUser      = "notify_user"
)

// ActionTypes lists every valid automation action.
var ActionTypes = []string{
	ActionCreateDeal,
	ActionSendSequence,
	ActionUpdateStage,
	ActionAddTask,
	ActionSendBookingLink,
	ActionSendEmail,
	ActionNotifyUser,
}

// IsValidTriggerType reports whether t is a known trigger type.
func IsValidTriggerType(t string) bool {
	for _, tt := range TriggerTypes {
		if tt == t {
			return true
		}
	}
	return false
}

// IsValidActionType reports whether a is a known action type.
func IsValidActionType(a string) bool {
	for _, at := range ActionTypes {
		if at == a {
			return true
		}
	}
	return false
}

// ActionConfig holds the per-action parameters of an automation rule. Which
// fields apply depends on the rule's action type; unused fields stay zero.
// Validated at rule save time, so execution can rely on documented defaults
// instead of failing on malformed config.
type ActionConfig struct {
	// send_sequence
	SequenceID uint `json:"sequence_id,omitempty"`

	// update_stage
	Stage string `json:"stage,omitempty"` // defaults to "qualified"

	// add_task
	TaskTitle    string `json:"task_title,omitempty"`    // defaults to "Follow up"
	TaskPriority string `json:"task_priority,omitempty"` // low, medium, high; defaults to medium
	DueInDays    int    `json:"due_in_days,omitempty"`   // defaults to 1

	// create_deal
	DealValue       float64 `json:"deal_value,omitempty"`
	DealProbability int     `json:"deal_probability,omitempty"`
	DealStage       string  `json:"deal_stage,omitempty"`

	// send_email
	TemplateID uint `json:"template_id,omitempty"`

	// send_booking_link
	BookingURL string `json:"booking_url,omitempty"`

	// notify_user, send_booking_link
	Message string `json:"message,omitempty"`
}

// AutomationRule is a trigger→action rule owned by a user. All active rules
// matching a trigger execute, in ascending priority order.
type AutomationRule struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name     string `gorm:"not null" json:"name"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	TriggerType  string       `gorm:"not null;index" json:"trigger_type"`
	ActionType   string       `gorm:"not null" json:"action_type"`
	ActionConfig ActionConfig `gorm:"type:jsonb;serializer:json" json:"action_config"`

	Priority int `gorm:"default:100" json:"priority"` // lower fires first

	// Statistics
	ExecutionCount int        `gorm:"default:0" json:"execution_count"`
	LastExecutedAt *time.Time `json:"last_executed_at"`
}

// AutomationLog is the immutable audit record of one rule execution attempt.
type AutomationLog struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	RuleID    uint `gorm:"not null;index" json:"rule_id"`
	ContactID uint `gorm:"not null;index" json:"contact_id"`

	DealID  *uint `json:"deal_id,omitempty"`
	ReplyID *uint `json:"reply_id,omitempty"`

	TriggerType string `gorm:"not null" json:"trigger_type"`
	ActionType  string `json:"action_type"`
	Description string `gorm:"type:text" json:"description"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`

	Metadata map[string]string `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`

	// Relations
	Rule    AutomationRule `json:"-"`
	Contact Contact        `json:"-"`
}

// InboundReply stores an inbound email reply fetched from a sender's mailbox
// or posted by the reply webhook, along with its classification outcome.
type InboundReply struct {
	gorm.Model
	UserID    uint  `gorm:"not null;index" json:"user_id"`
	SenderID  *uint `gorm:"index" json:"sender_id,omitempty"`
	ContactID uint  `gorm:"not null;index" json:"contact_id"`

	MessageID string `gorm:"index" json:"message_id"`
	FromEmail string `gorm:"not null" json:"from_email"`
	Subject   string `json:"subject"`
	Body      string `gorm:"type:text" json:"body"`

	// Classification outcome from the external classifier
	Classification     string   `json:"classification"` // positive, not_now, price_objection, competitor, angry, unsubscribe, out_of_office, question, unknown
	Sentiment          string   `json:"sentiment"`
	BuyingSignals      []string `gorm:"type:jsonb;serializer:json" json:"buying_signals,omitempty"`
	SuggestedResponses []string `gorm:"type:jsonb;serializer:json" json:"suggested_responses,omitempty"`

	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`

	// Relations
	Contact Contact `json:"-"`
}
