package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"coldreach/models"
)

const (
	// DueBatchSize bounds how many due enrollments one poll tick processes.
	DueBatchSize = 50

	// recentEventWindow is how many of a contact's most recent events a
	// branch condition inspects. Deliberately a window, not a full history
	// scan; an engagement older than the window counts as "not engaged".
	recentEventWindow = 10
)

// Outcome describes what ProcessEnrollment decided for one due enrollment.
type Outcome string

const (
	OutcomeSkipped      Outcome = "skipped"      // enrollment no longer active, nothing done
	OutcomePaused       Outcome = "paused"       // owning sequence paused, enrollment paused
	OutcomeCompleted    Outcome = "completed"    // no steps left, enrollment completed
	OutcomeUnsubscribed Outcome = "unsubscribed" // contact gone or unsubscribed, terminal
	OutcomeAdvanced     Outcome = "advanced"     // branch condition matched, step skipped
	OutcomeSend         Outcome = "send"         // caller should send Send and confirm via MarkEnrollmentSent
	OutcomeError        Outcome = "error"        // data-integrity gap, see Reason
)

// SendDescriptor carries everything the send collaborator needs to deliver
// the current step's email and report back via MarkEnrollmentSent.
type SendDescriptor struct {
	EnrollmentID uint
	SequenceID   uint
	SenderID     uint
	StepID       uint
	StepIndex    int
	TotalSteps   int

	ContactID uint
	Email     string
	Name      string
	Company   string

	Subject string
	Body    string

	// Delay parameters of the next step, zero when this is the last step
	NextDelayDays  int
	NextDelayHours int
}

// ProcessResult is the structured outcome of one ProcessEnrollment call.
type ProcessResult struct {
	Outcome Outcome
	Reason  string
	Send    *SendDescriptor // set iff Outcome is OutcomeSend
}

// DueEnrollments returns up to limit active enrollments whose next send time
// has passed. The periodic driver feeds these to ProcessEnrollment one by one.
func (e *Engine) DueEnrollments(limit int) ([]models.SequenceEnrollment, error) {
	if limit <= 0 || limit > DueBatchSize {
		limit = DueBatchSize
	}
	var due []models.SequenceEnrollment
	err := e.db.
		Where("status = ? AND next_send_at IS NOT NULL AND next_send_at <= ?", models.EnrollmentActive, time.Now()).
		Order("next_send_at ASC").
		Limit(limit).
		Find(&due).Error
	return due, err
}

// ProcessEnrollment decides what to do with one due enrollment: pause,
// complete, unsubscribe, skip the step, or hand back a send descriptor.
// It never sends email itself; the caller performs the send and then commits
// advancement with MarkEnrollmentSent, so a duplicate invocation of an
// already-advanced enrollment is a no-op rather than a double send.
func (e *Engine) ProcessEnrollment(enrollmentID uint) (*ProcessResult, error) {
	var enrollment models.SequenceEnrollment
	if err := e.db.First(&enrollment, enrollmentID).Error; err != nil {
		return nil, fmt.Errorf("enrollment %d not found: %w", enrollmentID, err)
	}

	// Idempotent guard: a stale or duplicate trigger for an enrollment that
	// already moved on must not cause a second send.
	if enrollment.Status != models.EnrollmentActive {
		return &ProcessResult{Outcome: OutcomeSkipped, Reason: "enrollment not active"}, nil
	}

	var sequence models.Sequence
	if err := e.db.First(&sequence, enrollment.SequenceID).Error; err != nil {
		return nil, fmt.Errorf("sequence %d not found: %w", enrollment.SequenceID, err)
	}

	// Pausing the sequence pauses every enrollment as it comes due, without
	// the user touching each one.
	if sequence.Status != "active" {
		if err := e.db.Model(&enrollment).Update("status", models.EnrollmentPaused).Error; err != nil {
			return nil, err
		}
		e.log.WithFields(logFields(enrollment)).Info("sequence not active, enrollment paused")
		return &ProcessResult{Outcome: OutcomePaused, Reason: "sequence is " + sequence.Status}, nil
	}

	var steps []models.SequenceStep
	if err := e.db.Where("sequence_id = ?", sequence.ID).Find(&steps).Error; err != nil {
		return nil, err
	}
	// Do not trust storage order
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })

	if enrollment.CurrentStep >= len(steps) {
		if err := e.completeEnrollment(&enrollment); err != nil {
			return nil, err
		}
		return &ProcessResult{Outcome: OutcomeCompleted, Reason: "no steps remaining"}, nil
	}

	step := steps[enrollment.CurrentStep]

	var contact models.Contact
	err := e.db.First(&contact, enrollment.ContactID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !contact.Mailable()) {
		// Unsubscribe, hard bounce and do_not_contact are terminal and
		// override any in-flight step.
		if uerr := e.db.Model(&enrollment).Updates(map[string]interface{}{
			"status":       models.EnrollmentUnsubscribed,
			"next_send_at": nil,
		}).Error; uerr != nil {
			return nil, uerr
		}
		e.log.WithFields(logFields(enrollment)).Info("contact not mailable, enrollment closed")
		return &ProcessResult{Outcome: OutcomeUnsubscribed, Reason: "contact not mailable or missing"}, nil
	}
	if err != nil {
		return nil, err
	}

	if skip, reason := e.shouldSkipStep(&step, contact.ID); skip {
		if err := e.advanceToNextStep(&enrollment, nextStepDelay(steps, enrollment.CurrentStep+1), len(steps)); err != nil {
			return nil, err
		}
		e.db.Model(&step).UpdateColumn("skipped_count", gorm.Expr("skipped_count + 1"))
		e.log.WithFields(logFields(enrollment)).WithField("condition", step.Condition).Info("branch condition matched, step skipped")
		return &ProcessResult{Outcome: OutcomeAdvanced, Reason: reason}, nil
	}

	var template models.Template
	if err := e.db.First(&template, step.TemplateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Template deleted while a live step still references it. Not
			// retryable; surfaced as a structured result so the caller can
			// alert an operator.
			return &ProcessResult{
				Outcome: OutcomeError,
				Reason:  fmt.Sprintf("template %d referenced by step %d no longer exists", step.TemplateID, step.ID),
			}, nil
		}
		return nil, err
	}

	delay := nextStepDelay(steps, enrollment.CurrentStep+1)
	return &ProcessResult{
		Outcome: OutcomeSend,
		Send: &SendDescriptor{
			EnrollmentID:   enrollment.ID,
			SequenceID:     sequence.ID,
			SenderID:       sequence.SenderID,
			StepID:         step.ID,
			StepIndex:      enrollment.CurrentStep,
			TotalSteps:     len(steps),
			ContactID:      contact.ID,
			Email:          contact.Email,
			Name:           contact.FullName(),
			Company:        contact.Company,
			Subject:        template.Subject,
			Body:           template.HTMLContent,
			NextDelayDays:  delay.days,
			NextDelayHours: delay.hours,
		},
	}, nil
}

// MarkEnrollmentSent commits advancement after the caller confirmed the send.
// Splitting decide from commit keeps the (slow, fallible) SMTP conversation
// outside any engine state change: a failed send leaves next_send_at untouched
// and the enrollment comes due again on a later poll.
func (e *Engine) MarkEnrollmentSent(enrollmentID uint, nextDelayDays, nextDelayHours, totalSteps int) error {
	var enrollment models.SequenceEnrollment
	if err := e.db.First(&enrollment, enrollmentID).Error; err != nil {
		return err
	}
	return e.advanceToNextStep(&enrollment, stepDelay{days: nextDelayDays, hours: nextDelayHours}, totalSteps)
}

type stepDelay struct {
	days  int
	hours int
}

func (d stepDelay) duration() time.Duration {
	return time.Duration(d.days)*24*time.Hour + time.Duration(d.hours)*time.Hour
}

func nextStepDelay(steps []models.SequenceStep, index int) stepDelay {
	if index >= len(steps) {
		return stepDelay{}
	}
	return stepDelay{days: steps[index].DelayDays, hours: steps[index].DelayHours}
}

// shouldSkipStep evaluates the step's branch condition against the contact's
// recent engagement. Unknown condition values fall through to sending; they
// are rejected at save time, this is just the runtime fallback.
func (e *Engine) shouldSkipStep(step *models.SequenceStep, contactID uint) (bool, string) {
	if step.Condition == "" || step.Condition == models.ConditionAlways {
		return false, ""
	}

	var recent []models.EmailEvent
	if err := e.db.
		Where("contact_id = ?", contactID).
		Order("created_at DESC").
		Limit(recentEventWindow).
		Find(&recent).Error; err != nil {
		e.log.WithError(err).Warn("failed to load recent events, step proceeds to send")
		return false, ""
	}

	switch step.Condition {
	case models.ConditionIfNotOpened:
		if hasEventType(recent, models.EventOpened) {
			return true, "contact opened a recent email"
		}
	case models.ConditionIfNotClicked:
		if hasEventType(recent, models.EventClicked) {
			return true, "contact clicked a recent email"
		}
	}
	return false, ""
}

func hasEventType(events []models.EmailEvent, eventType string) bool {
	for _, ev := range events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}

// advanceToNextStep moves the enrollment forward by one step, either
// scheduling the next send or completing the enrollment when the sequence is
// exhausted. A zero delay means "due again on the next poll".
func (e *Engine) advanceToNextStep(enrollment *models.SequenceEnrollment, delay stepDelay, totalSteps int) error {
	next := enrollment.CurrentStep + 1
	if next >= totalSteps {
		return e.completeEnrollment(enrollment)
	}

	nextSendAt := time.Now().Add(delay.duration())
	return e.db.Model(enrollment).Updates(map[string]interface{}{
		"current_step": next,
		"next_send_at": nextSendAt,
	}).Error
}

func (e *Engine) completeEnrollment(enrollment *models.SequenceEnrollment) error {
	now := time.Now()
	if err := e.db.Model(enrollment).Updates(map[string]interface{}{
		"status":       models.EnrollmentCompleted,
		"next_send_at": nil,
		"completed_at": now,
	}).Error; err != nil {
		return err
	}
	e.db.Model(&models.Sequence{}).Where("id = ?", enrollment.SequenceID).
		UpdateColumn("completed_count", gorm.Expr("completed_count + 1"))
	e.log.WithFields(logFields(*enrollment)).Info("enrollment completed")
	return nil
}

func logFields(enrollment models.SequenceEnrollment) map[string]interface{} {
	return map[string]interface{}{
		"enrollment_id": enrollment.ID,
		"sequence_id":   enrollment.SequenceID,
		"contact_id":    enrollment.ContactID,
		"current_step":  enrollment.CurrentStep,
	}
}
