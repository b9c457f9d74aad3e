package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"coldreach/config"
	"coldreach/engine"
	"coldreach/models"
	"coldreach/utils"
)

// SequenceWorker is the periodic driver behind the sequence scheduler: each
// tick it pulls one batch of due enrollments and processes them one by one.
// Sends commit advancement only after the SMTP conversation succeeded, so a
// crash between the two leaves the enrollment due again rather than skipped.
type SequenceWorker struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Mailer *utils.Mailer
	Logger *log.Logger
}

func NewSequenceWorker(db *gorm.DB, eng *engine.Engine, mailer *utils.Mailer, logger *log.Logger) *SequenceWorker {
	return &SequenceWorker{
		DB:     db,
		Engine: eng,
		Mailer: mailer,
		Logger: logger,
	}
}

func (sw *SequenceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sequence worker started")

	interval := time.Duration(config.AppConfig.SchedulerIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sequence worker shutting down...")
			return
		case <-ticker.C:
			sw.processDueEnrollments()
		}
	}
}

func (sw *SequenceWorker) processDueEnrollments() {
	due, err := sw.Engine.DueEnrollments(engine.DueBatchSize)
	if err != nil {
		sw.Logger.Printf("Error fetching due enrollments: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}
	sw.Logger.Printf("Processing %d due enrollment(s)", len(due))

	for _, enrollment := range due {
		if err := sw.processOne(enrollment.ID); err != nil {
			// One bad enrollment never aborts the batch.
			sw.Logger.Printf("Error processing enrollment %d: %v", enrollment.ID, err)
		}
	}
}

func (sw *SequenceWorker) processOne(enrollmentID uint) error {
	result, err := sw.Engine.ProcessEnrollment(enrollmentID)
	if err != nil {
		return err
	}

	switch result.Outcome {
	case engine.OutcomeSend:
		return sw.deliver(result.Send)
	case engine.OutcomeError:
		sw.Logger.Printf("Enrollment %d needs attention: %s", enrollmentID, result.Reason)
	}
	return nil
}

func (sw *SequenceWorker) deliver(d *engine.SendDescriptor) error {
	var sender models.Sender
	if err := sw.DB.First(&sender, d.SenderID).Error; err != nil {
		return fmt.Errorf("sender %d not found: %v", d.SenderID, err)
	}
	if !sender.IsActive {
		return fmt.Errorf("sender %d is disabled", sender.ID)
	}
	if sender.SentToday >= sender.DailyLimit {
		// Leave next_send_at untouched; the enrollment comes due again after
		// the daily counter reset.
		sw.Logger.Printf("Sender %d hit its daily limit, enrollment %d deferred", sender.ID, d.EnrollmentID)
		return nil
	}

	messageID := utils.NewMessageID(&sender)
	body := personalize(d.Body, d)
	subject := personalize(d.Subject, d)
	if sender.TrackOpens || sender.TrackClicks {
		body = utils.InjectTracking(body, config.AppConfig.BaseURL, messageID)
	}

	if _, err := sw.Mailer.SendFromSender(&sender, utils.Email{
		To:        d.Email,
		Subject:   subject,
		Body:      body,
		MessageID: messageID,
	}); err != nil {
		return err
	}

	if err := sw.Engine.LogEmailEvent(sender.UserID, models.EventSent, engine.EventRef{
		ContactID:  &d.ContactID,
		SequenceID: &d.SequenceID,
		MessageID:  messageID,
		Metadata:   map[string]string{"step": fmt.Sprint(d.StepIndex)},
	}); err != nil {
		sw.Logger.Printf("Failed to log sent event for enrollment %d: %v", d.EnrollmentID, err)
	}
	sw.DB.Model(&models.SequenceStep{}).Where("id = ?", d.StepID).
		UpdateColumn("sent_count", gorm.Expr("sent_count + 1"))
	sw.DB.Model(&models.Contact{}).Where("id = ?", d.ContactID).
		Update("last_contacted_at", time.Now())

	return sw.Engine.MarkEnrollmentSent(d.EnrollmentID, d.NextDelayDays, d.NextDelayHours, d.TotalSteps)
}

// personalize substitutes template variables with values from the send
// descriptor.
func personalize(content string, d *engine.SendDescriptor) string {
	return strings.NewReplacer(
		"{{name}}", d.Name,
		"{{first_name}}", firstWord(d.Name),
		"{{company}}", d.Company,
		"{{email}}", d.Email,
	).Replace(content)
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}

// ResetDailyCounters zeroes sent_today on every sender shortly after
// midnight UTC, releasing enrollments deferred on daily limits.
func (sw *SequenceWorker) ResetDailyCounters(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 5, 0, time.UTC).AddDate(0, 0, 1)

		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			if err := sw.DB.Model(&models.Sender{}).Where("sent_today > 0").
				Update("sent_today", 0).Error; err != nil {
				sw.Logger.Printf("Failed to reset daily sender counters: %v", err)
			} else {
				sw.Logger.Println("Daily sender counters reset")
			}
		}
	}
}
