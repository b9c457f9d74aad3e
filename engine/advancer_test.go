package engine

import (
	"strings"
	"testing"
	"time"

	"coldreach/models"
)

func TestProcessEnrollmentNotActiveIsNoOp(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{{}, {DelayDays: 2}})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	if err := db.Model(enrollment).Update("status", models.EnrollmentCompleted).Error; err != nil {
		t.Fatalf("failed to update enrollment: %v", err)
	}

	for i := 0; i < 2; i++ {
		result, err := eng.ProcessEnrollment(enrollment.ID)
		if err != nil {
			t.Fatalf("ProcessEnrollment: %v", err)
		}
		if result.Outcome != OutcomeSkipped {
			t.Fatalf("call %d: expected outcome %q, got %q", i+1, OutcomeSkipped, result.Outcome)
		}
	}

	got := reloadEnrollment(t, db, enrollment.ID)
	if got.CurrentStep != 0 || got.Status != models.EnrollmentCompleted {
		t.Errorf("enrollment mutated by no-op: step=%d status=%s", got.CurrentStep, got.Status)
	}
}

func TestProcessEnrollmentPausesWithSequence(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{{}})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	if err := db.Model(sequence).Update("status", "paused").Error; err != nil {
		t.Fatalf("failed to pause sequence: %v", err)
	}

	result, err := eng.ProcessEnrollment(enrollment.ID)
	if err != nil {
		t.Fatalf("ProcessEnrollment: %v", err)
	}
	if result.Outcome != OutcomePaused {
		t.Fatalf("expected outcome %q, got %q", OutcomePaused, result.Outcome)
	}
	if got := reloadEnrollment(t, db, enrollment.ID); got.Status != models.EnrollmentPaused {
		t.Errorf("expected enrollment paused, got %s", got.Status)
	}
}

func TestProcessEnrollmentUnsubscribePrecedence(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{{}})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	if err := db.Model(contact).Update("status", "unsubscribed").Error; err != nil {
		t.Fatalf("failed to unsubscribe contact: %v", err)
	}

	result, err := eng.ProcessEnrollment(enrollment.ID)
	if err != nil {
		t.Fatalf("ProcessEnrollment: %v", err)
	}
	if result.Outcome != OutcomeUnsubscribed {
		t.Fatalf("expected outcome %q, got %q", OutcomeUnsubscribed, result.Outcome)
	}
	got := reloadEnrollment(t, db, enrollment.ID)
	if got.Status != models.EnrollmentUnsubscribed {
		t.Errorf("expected enrollment unsubscribed, got %s", got.Status)
	}
	if got.NextSendAt != nil {
		t.Errorf("expected next_send_at cleared, got %v", got.NextSendAt)
	}
}

func TestProcessEnrollmentSuppressesUnmailableContacts(t *testing.T) {
	for _, status := range []string{"bounced", "do_not_contact"} {
		t.Run(status, func(t *testing.T) {
			db := newTestDB(t)
			eng := New(db)

			sequence := seedSequence(t, db, 1, []models.SequenceStep{{}})
			contact := seedContact(t, db, 1, "ada@example.com")
			enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

			if err := db.Model(contact).Update("status", status).Error; err != nil {
				t.Fatalf("failed to flag contact: %v", err)
			}

			result, err := eng.ProcessEnrollment(enrollment.ID)
			if err != nil {
				t.Fatalf("ProcessEnrollment: %v", err)
			}
			if result.Outcome != OutcomeUnsubscribed {
				t.Fatalf("expected outcome %q, got %q", OutcomeUnsubscribed, result.Outcome)
			}
			if result.Send != nil {
				t.Fatal("unmailable contact must not produce a send descriptor")
			}
			got := reloadEnrollment(t, db, enrollment.ID)
			if got.Status != models.EnrollmentUnsubscribed {
				t.Errorf("expected enrollment closed, got %s", got.Status)
			}
			if got.NextSendAt != nil {
				t.Errorf("expected next_send_at cleared, got %v", got.NextSendAt)
			}
		})
	}
}

func TestProcessEnrollmentDefensiveCompletion(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{{}})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 5)

	result, err := eng.ProcessEnrollment(enrollment.ID)
	if err != nil {
		t.Fatalf("ProcessEnrollment: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected outcome %q, got %q", OutcomeCompleted, result.Outcome)
	}
	got := reloadEnrollment(t, db, enrollment.ID)
	if got.Status != models.EnrollmentCompleted || got.NextSendAt != nil {
		t.Errorf("expected completed with cleared next_send_at, got status=%s next=%v", got.Status, got.NextSendAt)
	}
}

func TestBranchConditionSkipsWhenOpened(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{
		{Condition: models.ConditionIfNotOpened},
		{DelayDays: 3},
	})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	seedEvent(t, db, 1, contact.ID, models.EventOpened, time.Now().Add(-time.Hour))

	result, err := eng.ProcessEnrollment(enrollment.ID)
	if err != nil {
		t.Fatalf("ProcessEnrollment: %v", err)
	}
	if result.Outcome != OutcomeAdvanced {
		t.Fatalf("expected outcome %q, got %q", OutcomeAdvanced, result.Outcome)
	}
	if result.Send != nil {
		t.Fatal("skip must not produce a send descriptor")
	}
	got := reloadEnrollment(t, db, enrollment.ID)
	if got.CurrentStep != 1 {
		t.Errorf("expected current step 1, got %d", got.CurrentStep)
	}
	if got.NextSendAt == nil {
		t.Fatal("expected next_send_at scheduled for the following step")
	}
}

func TestBranchConditionSendsWhenNotOpened(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{
		{Condition: models.ConditionIfNotOpened},
		{DelayDays: 2, DelayHours: 12},
	})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	seedEvent(t, db, 1, contact.ID, models.EventSent, time.Now().Add(-time.Hour))

	result, err := eng.ProcessEnrollment(enrollment.ID)
	if err != nil {
		t.Fatalf("ProcessEnrollment: %v", err)
	}
	if result.Outcome != OutcomeSend || result.Send == nil {
		t.Fatalf("expected send outcome with descriptor, got %q", result.Outcome)
	}

	send := result.Send
	if send.Email != "ada@example.com" || send.Name != "Ada Lovelace" || send.Company != "Acme" {
		t.Errorf("descriptor contact fields wrong: %+v", send)
	}
	if send.Subject != "Subject 0" || !strings.Contains(send.Body, "Body 0") {
		t.Errorf("descriptor template fields wrong: subject=%q body=%q", send.Subject, send.Body)
	}
	if send.StepIndex != 0 || send.TotalSteps != 2 {
		t.Errorf("descriptor position wrong: step=%d total=%d", send.StepIndex, send.TotalSteps)
	}
	if send.NextDelayDays != 2 || send.NextDelayHours != 12 {
		t.Errorf("descriptor next delay wrong: days=%d hours=%d", send.NextDelayDays, send.NextDelayHours)
	}

	// Deciding to send must not advance anything yet.
	if got := reloadEnrollment(t, db, enrollment.ID); got.CurrentStep != 0 {
		t.Errorf("enrollment advanced before MarkEnrollmentSent: step=%d", got.CurrentStep)
	}
}

func TestBranchConditionRecencyWindow(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{
		{Condition: models.ConditionIfNotOpened},
		{},
	})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	// An open pushed out of the 10-event window by newer events no longer
	// counts as engagement.
	base := time.Now().Add(-24 * time.Hour)
	seedEvent(t, db, 1, contact.ID, models.EventOpened, base)
	for i := 0; i < recentEventWindow; i++ {
		seedEvent(t, db, 1, contact.ID, models.EventSent, base.Add(time.Duration(i+1)*time.Minute))
	}

	result, err := eng.ProcessEnrollment(enrollment.ID)
	if err != nil {
		t.Fatalf("ProcessEnrollment: %v", err)
	}
	if result.Outcome != OutcomeSend {
		t.Fatalf("open outside the recency window should not skip, got %q", result.Outcome)
	}
}

func TestBranchConditionIfNotClicked(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{
		{Condition: models.ConditionIfNotClicked},
		{},
	})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	seedEvent(t, db, 1, contact.ID, models.EventClicked, time.Now().Add(-time.Hour))

	result, err := eng.ProcessEnrollment(enrollment.ID)
	if err != nil {
		t.Fatalf("ProcessEnrollment: %v", err)
	}
	if result.Outcome != OutcomeAdvanced {
		t.Fatalf("expected outcome %q, got %q", OutcomeAdvanced, result.Outcome)
	}
}

func TestProcessEnrollmentMissingTemplate(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{{TemplateID: 99999}})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	result, err := eng.ProcessEnrollment(enrollment.ID)
	if err != nil {
		t.Fatalf("ProcessEnrollment: %v", err)
	}
	if result.Outcome != OutcomeError {
		t.Fatalf("expected outcome %q, got %q", OutcomeError, result.Outcome)
	}
	if !strings.Contains(result.Reason, "template") {
		t.Errorf("reason should name the missing template, got %q", result.Reason)
	}
}

func TestMarkEnrollmentSentDelayArithmetic(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{{}, {DelayDays: 2, DelayHours: 12}})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	before := time.Now()
	if err := eng.MarkEnrollmentSent(enrollment.ID, 2, 12, 2); err != nil {
		t.Fatalf("MarkEnrollmentSent: %v", err)
	}

	got := reloadEnrollment(t, db, enrollment.ID)
	if got.CurrentStep != 1 {
		t.Fatalf("expected current step 1, got %d", got.CurrentStep)
	}
	if got.NextSendAt == nil {
		t.Fatal("expected next_send_at to be scheduled")
	}
	want := before.Add(2*24*time.Hour + 12*time.Hour)
	if diff := got.NextSendAt.Sub(want); diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("next_send_at off by %v (got %v, want ~%v)", diff, got.NextSendAt, want)
	}
}

func TestMarkEnrollmentSentCompletesOnLastStep(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{{}, {}})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 1)

	if err := eng.MarkEnrollmentSent(enrollment.ID, 0, 0, 2); err != nil {
		t.Fatalf("MarkEnrollmentSent: %v", err)
	}

	got := reloadEnrollment(t, db, enrollment.ID)
	if got.Status != models.EnrollmentCompleted {
		t.Fatalf("expected status completed, got %s", got.Status)
	}
	if got.NextSendAt != nil {
		t.Errorf("expected next_send_at cleared, got %v", got.NextSendAt)
	}

	// A later poll of the completed enrollment is a no-op.
	result, err := eng.ProcessEnrollment(enrollment.ID)
	if err != nil {
		t.Fatalf("ProcessEnrollment: %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Errorf("expected outcome %q after completion, got %q", OutcomeSkipped, result.Outcome)
	}
}

func TestMarkEnrollmentSentZeroDelayIsDueImmediately(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{{}, {}, {}})
	contact := seedContact(t, db, 1, "ada@example.com")
	enrollment := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	if err := eng.MarkEnrollmentSent(enrollment.ID, 0, 0, 3); err != nil {
		t.Fatalf("MarkEnrollmentSent: %v", err)
	}

	due, err := eng.DueEnrollments(DueBatchSize)
	if err != nil {
		t.Fatalf("DueEnrollments: %v", err)
	}
	if len(due) != 1 || due[0].ID != enrollment.ID {
		t.Errorf("zero-delay step should be due on the next poll, got %d due", len(due))
	}
}

func TestDueEnrollmentsSelection(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	sequence := seedSequence(t, db, 1, []models.SequenceStep{{}})
	contact := seedContact(t, db, 1, "ada@example.com")

	due := seedEnrollment(t, db, 1, sequence.ID, contact.ID, 0)

	future := time.Now().Add(time.Hour)
	notDue := models.SequenceEnrollment{UserID: 1, SequenceID: sequence.ID, ContactID: contact.ID, Status: models.EnrollmentActive, NextSendAt: &future}
	if err := db.Create(&notDue).Error; err != nil {
		t.Fatalf("failed to create enrollment: %v", err)
	}
	paused := models.SequenceEnrollment{UserID: 1, SequenceID: sequence.ID, ContactID: contact.ID, Status: models.EnrollmentPaused}
	if err := db.Create(&paused).Error; err != nil {
		t.Fatalf("failed to create enrollment: %v", err)
	}

	got, err := eng.DueEnrollments(DueBatchSize)
	if err != nil {
		t.Fatalf("DueEnrollments: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("expected exactly the due enrollment, got %d rows", len(got))
	}
}
