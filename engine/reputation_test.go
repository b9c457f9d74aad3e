package engine

import (
	"testing"
	"time"

	"coldreach/models"
)

func TestLogEmailEventUpsertsDailyStat(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")

	for i := 0; i < 2; i++ {
		if err := eng.LogEmailEvent(1, models.EventSent, EventRef{ContactID: &contact.ID}); err != nil {
			t.Fatalf("LogEmailEvent sent: %v", err)
		}
	}
	if err := eng.LogEmailEvent(1, models.EventOpened, EventRef{ContactID: &contact.ID}); err != nil {
		t.Fatalf("LogEmailEvent opened: %v", err)
	}

	var events int64
	db.Model(&models.EmailEvent{}).Count(&events)
	if events != 3 {
		t.Errorf("expected 3 event rows, got %d", events)
	}

	var stats []models.DailyStat
	if err := db.Find(&stats).Error; err != nil {
		t.Fatalf("failed to load stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected a single daily stat row, got %d", len(stats))
	}
	stat := stats[0]
	if stat.SentCount != 2 || stat.OpenedCount != 1 {
		t.Errorf("expected sent=2 opened=1, got sent=%d opened=%d", stat.SentCount, stat.OpenedCount)
	}
	if stat.DeliveredCount != 0 || stat.BouncedCount != 0 {
		t.Errorf("untouched counters must stay zero: %+v", stat)
	}
}

func TestLogEmailEventRejectsUnknownType(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	if err := eng.LogEmailEvent(1, "forwarded", EventRef{}); err == nil {
		t.Fatal("expected an error for an unknown event type")
	}
	var events int64
	db.Model(&models.EmailEvent{}).Count(&events)
	if events != 0 {
		t.Errorf("no event row should be written for an unknown type, got %d", events)
	}
}

func TestGetReputationStatsRates(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	stat := models.DailyStat{
		UserID: 1, Day: startOfDay(time.Now().UTC()),
		SentCount: 100, DeliveredCount: 95, OpenedCount: 40,
		ClickedCount: 10, BouncedCount: 5, ComplainedCount: 0,
	}
	if err := db.Create(&stat).Error; err != nil {
		t.Fatalf("failed to seed stat: %v", err)
	}

	got, err := eng.GetReputationStats(1, 30)
	if err != nil {
		t.Fatalf("GetReputationStats: %v", err)
	}

	if got.DeliveryRate != "95.0" {
		t.Errorf("delivery rate = %q, want 95.0", got.DeliveryRate)
	}
	if got.OpenRate != "42.1" {
		t.Errorf("open rate = %q, want 42.1", got.OpenRate)
	}
	if got.ClickRate != "25.0" {
		t.Errorf("click rate = %q, want 25.0", got.ClickRate)
	}
	if got.BounceRate != "5.0" {
		t.Errorf("bounce rate = %q, want 5.0", got.BounceRate)
	}
	if got.ComplaintRate != "0.00" {
		t.Errorf("complaint rate = %q, want 0.00", got.ComplaintRate)
	}

	// Bounce rate of exactly 5% takes the >2 penalty, not the >5 one.
	if got.Score != 85 {
		t.Errorf("score = %d, want 85", got.Score)
	}
}

func TestReputationScoreBounceBoundary(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	stat := models.DailyStat{
		UserID: 1, Day: startOfDay(time.Now().UTC()),
		SentCount: 10000, DeliveredCount: 9499, BouncedCount: 501,
	}
	if err := db.Create(&stat).Error; err != nil {
		t.Fatalf("failed to seed stat: %v", err)
	}

	got, err := eng.GetReputationStats(1, 30)
	if err != nil {
		t.Fatalf("GetReputationStats: %v", err)
	}
	if got.BounceRate != "5.0" {
		t.Errorf("bounce rate = %q, want 5.0 (rounded display of 5.01)", got.BounceRate)
	}
	if got.Score != 70 {
		t.Errorf("score = %d, want 70 (5.01%% bounce crosses the >5 threshold)", got.Score)
	}
}

func TestReputationScoreComplaintThresholds(t *testing.T) {
	cases := []struct {
		name       string
		complained int
		wantScore  int
	}{
		{"exactly 0.3 percent", 3, 80},  // >0.1 penalty only
		{"above 0.3 percent", 4, 60},    // 0.4% crosses >0.3
		{"exactly 0.1 percent", 1, 100}, // no penalty
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newTestDB(t)
			eng := New(db)

			stat := models.DailyStat{
				UserID: 1, Day: startOfDay(time.Now().UTC()),
				SentCount: 1000, DeliveredCount: 1000, ComplainedCount: tc.complained,
			}
			if err := db.Create(&stat).Error; err != nil {
				t.Fatalf("failed to seed stat: %v", err)
			}

			got, err := eng.GetReputationStats(1, 30)
			if err != nil {
				t.Fatalf("GetReputationStats: %v", err)
			}
			if got.Score != tc.wantScore {
				t.Errorf("score = %d, want %d", got.Score, tc.wantScore)
			}
		})
	}
}

func TestGetReputationStatsEmptyWindow(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	got, err := eng.GetReputationStats(1, 0)
	if err != nil {
		t.Fatalf("GetReputationStats: %v", err)
	}
	if got.WindowDays != DefaultReputationWindowDays {
		t.Errorf("window = %d, want default %d", got.WindowDays, DefaultReputationWindowDays)
	}
	if got.DeliveryRate != "0" || got.BounceRate != "0" || got.ComplaintRate != "0" {
		t.Errorf("zero denominators must yield \"0\": %+v", got)
	}
	if got.Score != 100 {
		t.Errorf("score with no traffic = %d, want 100", got.Score)
	}
}

func TestGetReputationStatsHonorsWindow(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	inside := models.DailyStat{UserID: 1, Day: startOfDay(time.Now().UTC()).AddDate(0, 0, -5), SentCount: 10, DeliveredCount: 10}
	outside := models.DailyStat{UserID: 1, Day: startOfDay(time.Now().UTC()).AddDate(0, 0, -40), SentCount: 90, BouncedCount: 90}
	for _, s := range []models.DailyStat{inside, outside} {
		stat := s
		if err := db.Create(&stat).Error; err != nil {
			t.Fatalf("failed to seed stat: %v", err)
		}
	}

	got, err := eng.GetReputationStats(1, 30)
	if err != nil {
		t.Fatalf("GetReputationStats: %v", err)
	}
	if got.Sent != 10 {
		t.Errorf("sent = %d, want 10 (40-day-old row excluded)", got.Sent)
	}
	if got.Score != 100 {
		t.Errorf("score = %d, want 100", got.Score)
	}
}
