package engine

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coldreach/models"
)

// DefaultReputationWindowDays is the lookback window for reputation stats
// when the caller does not specify one.
const DefaultReputationWindowDays = 30

// statColumns maps event types to their DailyStat counter column. Also acts
// as the whitelist for the upsert expression.
var statColumns = map[string]string{
	models.EventSent:         "sent_count",
	models.EventDelivered:    "delivered_count",
	models.EventOpened:       "opened_count",
	models.EventClicked:      "clicked_count",
	models.EventBounced:      "bounced_count",
	models.EventComplained:   "complained_count",
	models.EventUnsubscribed: "unsubscribed_count",
}

// EventRef carries the optional references attached to a lifecycle event.
type EventRef struct {
	ContactID  *uint
	SequenceID *uint
	CampaignID *uint
	MessageID  string
	Metadata   map[string]string
}

// LogEmailEvent appends one immutable lifecycle event and bumps the matching
// counter on the owner's daily aggregate row. Each write commits on its own;
// the event log is the source of truth and the aggregates are replayable
// from it.
func (e *Engine) LogEmailEvent(userID uint, eventType string, ref EventRef) error {
	column, ok := statColumns[eventType]
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}

	event := models.EmailEvent{
		UserID:     userID,
		EventType:  eventType,
		ContactID:  ref.ContactID,
		SequenceID: ref.SequenceID,
		CampaignID: ref.CampaignID,
		MessageID:  ref.MessageID,
		Metadata:   ref.Metadata,
	}
	if err := e.db.Create(&event).Error; err != nil {
		return err
	}

	// Atomic upsert on the (user, day) unique index; two events landing on a
	// fresh day must not race the first insert.
	day := startOfDay(time.Now().UTC())
	stat := models.DailyStat{UserID: userID, Day: day}
	bumpCounter(&stat, eventType)
	return e.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{column: gorm.Expr(column + " + 1")}),
	}).Create(&stat).Error
}

func bumpCounter(stat *models.DailyStat, eventType string) {
	switch eventType {
	case models.EventSent:
		stat.SentCount = 1
	case models.EventDelivered:
		stat.DeliveredCount = 1
	case models.EventOpened:
		stat.OpenedCount = 1
	case models.EventClicked:
		stat.ClickedCount = 1
	case models.EventBounced:
		stat.BouncedCount = 1
	case models.EventComplained:
		stat.ComplainedCount = 1
	case models.EventUnsubscribed:
		stat.UnsubscribedCount = 1
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ReputationStats is the aggregated sending health over a lookback window.
type ReputationStats struct {
	WindowDays int `json:"window_days"`

	Sent         int64 `json:"sent"`
	Delivered    int64 `json:"delivered"`
	Opened       int64 `json:"opened"`
	Clicked      int64 `json:"clicked"`
	Bounced      int64 `json:"bounced"`
	Complained   int64 `json:"complained"`
	Unsubscribed int64 `json:"unsubscribed"`

	DeliveryRate  string `json:"delivery_rate"`
	OpenRate      string `json:"open_rate"`
	ClickRate     string `json:"click_rate"`
	BounceRate    string `json:"bounce_rate"`
	ComplaintRate string `json:"complaint_rate"`

	Score int `json:"score"` // 0-100
}

// GetReputationStats sums the owner's daily aggregates over the window and
// derives rates and the reputation score. Stateless and fully replayable
// from the event store.
func (e *Engine) GetReputationStats(userID uint, days int) (*ReputationStats, error) {
	if days <= 0 {
		days = DefaultReputationWindowDays
	}
	since := startOfDay(time.Now().UTC()).AddDate(0, 0, -days)

	var totals struct {
		Sent         int64
		Delivered    int64
		Opened       int64
		Clicked      int64
		Bounced      int64
		Complained   int64
		Unsubscribed int64
	}
	err := e.db.Model(&models.DailyStat{}).
		Select(`COALESCE(SUM(sent_count),0) AS sent,
			COALESCE(SUM(delivered_count),0) AS delivered,
			COALESCE(SUM(opened_count),0) AS opened,
			COALESCE(SUM(clicked_count),0) AS clicked,
			COALESCE(SUM(bounced_count),0) AS bounced,
			COALESCE(SUM(complained_count),0) AS complained,
			COALESCE(SUM(unsubscribed_count),0) AS unsubscribed`).
		Where("user_id = ? AND day >= ?", userID, since).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	stats := &ReputationStats{
		WindowDays:   days,
		Sent:         totals.Sent,
		Delivered:    totals.Delivered,
		Opened:       totals.Opened,
		Clicked:      totals.Clicked,
		Bounced:      totals.Bounced,
		Complained:   totals.Complained,
		Unsubscribed: totals.Unsubscribed,

		DeliveryRate:  formatRate(totals.Delivered, totals.Sent, 1),
		OpenRate:      formatRate(totals.Opened, totals.Delivered, 1),
		ClickRate:     formatRate(totals.Clicked, totals.Opened, 1),
		BounceRate:    formatRate(totals.Bounced, totals.Sent, 1),
		ComplaintRate: formatRate(totals.Complained, totals.Delivered, 2),
	}
	stats.Score = reputationScore(
		percentage(totals.Bounced, totals.Sent),
		percentage(totals.Complained, totals.Delivered),
	)
	return stats, nil
}

// reputationScore starts at 100 and penalizes complaint and bounce rates.
// Thresholds are strict greater-than: a bounce rate of exactly 5% takes the
// smaller penalty.
func reputationScore(bounceRate, complaintRate float64) int {
	score := 100
	if complaintRate > 0.3 {
		score -= 40
	} else if complaintRate > 0.1 {
		score -= 20
	}
	if bounceRate > 5 {
		score -= 30
	} else if bounceRate > 2 {
		score -= 15
	}
	if score < 0 {
		score = 0
	}
	return score
}

func percentage(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) * 100 / float64(d)
}

// formatRate renders n/d as a percentage string. A zero denominator yields
// "0" rather than an error or NaN.
func formatRate(n, d int64, decimals int) string {
	if d == 0 {
		return "0"
	}
	return strconv.FormatFloat(percentage(n, d), 'f', decimals, 64)
}
