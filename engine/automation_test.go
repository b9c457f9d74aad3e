package engine

import (
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"coldreach/models"
)

func seedRule(t *testing.T, db *gorm.DB, rule models.AutomationRule) *models.AutomationRule {
	t.Helper()
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}
	return &rule
}

func TestExecuteForTriggerFanOut(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")

	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "open a deal", IsActive: true,
		TriggerType: models.TriggerReplyPositive, ActionType: models.ActionCreateDeal, Priority: 1,
	})
	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "follow up task", IsActive: true,
		TriggerType: models.TriggerReplyPositive, ActionType: models.ActionAddTask, Priority: 2,
	})
	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "disabled", IsActive: false,
		TriggerType: models.TriggerReplyPositive, ActionType: models.ActionNotifyUser, Priority: 3,
	})

	if err := eng.ExecuteForTrigger(1, models.TriggerReplyPositive, contact.ID, TriggerContext{}); err != nil {
		t.Fatalf("ExecuteForTrigger: %v", err)
	}

	var logs []models.AutomationLog
	if err := db.Order("id ASC").Find(&logs).Error; err != nil {
		t.Fatalf("failed to load logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected one log per active rule, got %d", len(logs))
	}
	for _, l := range logs {
		if !l.Success {
			t.Errorf("rule %d logged failure: %s", l.RuleID, l.Error)
		}
	}
	if logs[0].ActionType != models.ActionCreateDeal || logs[1].ActionType != models.ActionAddTask {
		t.Errorf("rules executed out of priority order: %s then %s", logs[0].ActionType, logs[1].ActionType)
	}

	var dealCount, taskCount int64
	db.Model(&models.Deal{}).Count(&dealCount)
	db.Model(&models.Task{}).Count(&taskCount)
	if dealCount != 1 || taskCount != 1 {
		t.Errorf("expected 1 deal and 1 task, got %d and %d", dealCount, taskCount)
	}
}

func TestCreateDealNameFallsBackToEmail(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)

	contact := models.Contact{UserID: 1, Email: "noname@example.com"}
	if err := db.Create(&contact).Error; err != nil {
		t.Fatalf("failed to create contact: %v", err)
	}
	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "deal", IsActive: true,
		TriggerType: models.TriggerReplyPositive, ActionType: models.ActionCreateDeal,
	})

	if err := eng.ExecuteForTrigger(1, models.TriggerReplyPositive, contact.ID, TriggerContext{}); err != nil {
		t.Fatalf("ExecuteForTrigger: %v", err)
	}

	var deal models.Deal
	if err := db.First(&deal).Error; err != nil {
		t.Fatalf("no deal created: %v", err)
	}
	if !strings.Contains(deal.Name, "noname@example.com") {
		t.Errorf("deal name should fall back to the contact email, got %q", deal.Name)
	}
}

func TestSendSequenceEnrollIdempotent(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")
	sequence := seedSequence(t, db, 1, []models.SequenceStep{{}})

	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "nurture", IsActive: true,
		TriggerType: models.TriggerReplyNotNow, ActionType: models.ActionSendSequence,
		ActionConfig: models.ActionConfig{SequenceID: sequence.ID},
	})

	for i := 0; i < 2; i++ {
		if err := eng.ExecuteForTrigger(1, models.TriggerReplyNotNow, contact.ID, TriggerContext{}); err != nil {
			t.Fatalf("ExecuteForTrigger call %d: %v", i+1, err)
		}
	}

	var enrollments int64
	db.Model(&models.SequenceEnrollment{}).
		Where("contact_id = ? AND sequence_id = ?", contact.ID, sequence.ID).
		Count(&enrollments)
	if enrollments != 1 {
		t.Fatalf("expected exactly one enrollment, got %d", enrollments)
	}

	var logs []models.AutomationLog
	if err := db.Order("id ASC").Find(&logs).Error; err != nil {
		t.Fatalf("failed to load logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected two log rows, got %d", len(logs))
	}
	if !strings.Contains(logs[1].Description, "Already enrolled") {
		t.Errorf("second run should report the existing enrollment, got %q", logs[1].Description)
	}
	if !logs[1].Success {
		t.Error("already-enrolled is not a failure")
	}
}

func TestRuleExecutionCounterAccumulates(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")

	rule := seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "notify", IsActive: true,
		TriggerType: models.TriggerReplyPositive, ActionType: models.ActionNotifyUser,
		ActionConfig: models.ActionConfig{Message: "positive reply"},
	})

	for i := 0; i < 2; i++ {
		if err := eng.ExecuteForTrigger(1, models.TriggerReplyPositive, contact.ID, TriggerContext{}); err != nil {
			t.Fatalf("ExecuteForTrigger call %d: %v", i+1, err)
		}
	}

	var got models.AutomationRule
	if err := db.First(&got, rule.ID).Error; err != nil {
		t.Fatalf("failed to reload rule: %v", err)
	}
	if got.ExecutionCount != 2 {
		t.Errorf("execution_count = %d, want 2", got.ExecutionCount)
	}
	if got.LastExecutedAt == nil {
		t.Error("last_executed_at should be set after execution")
	}
}

func TestSendSequenceLookupErrorFailsAction(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")
	sequence := seedSequence(t, db, 1, []models.SequenceStep{{}})

	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "nurture", IsActive: true,
		TriggerType: models.TriggerReplyNotNow, ActionType: models.ActionSendSequence,
		ActionConfig: models.ActionConfig{SequenceID: sequence.ID},
	})

	// Take the enrollment store away; the existing-enrollment check must
	// surface the error instead of treating it as "not enrolled".
	if err := db.Migrator().DropTable(&models.SequenceEnrollment{}); err != nil {
		t.Fatalf("failed to drop enrollments table: %v", err)
	}

	if err := eng.ExecuteForTrigger(1, models.TriggerReplyNotNow, contact.ID, TriggerContext{}); err != nil {
		t.Fatalf("ExecuteForTrigger: %v", err)
	}

	var logEntry models.AutomationLog
	if err := db.First(&logEntry).Error; err != nil {
		t.Fatalf("failed to load log: %v", err)
	}
	if logEntry.Success {
		t.Error("a failed enrollment lookup must be logged as a failure")
	}
	if logEntry.Error == "" {
		t.Error("expected the lookup error recorded on the log row")
	}
}

func TestUpdateStageAction(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")

	deal := models.Deal{UserID: 1, ContactID: contact.ID, Name: "Acme deal", Stage: "lead"}
	if err := db.Create(&deal).Error; err != nil {
		t.Fatalf("failed to create deal: %v", err)
	}

	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "qualify", IsActive: true,
		TriggerType: models.TriggerProposalViewed, ActionType: models.ActionUpdateStage,
	})

	if err := eng.ExecuteForTrigger(1, models.TriggerProposalViewed, contact.ID, TriggerContext{DealID: &deal.ID}); err != nil {
		t.Fatalf("ExecuteForTrigger: %v", err)
	}

	var got models.Deal
	if err := db.First(&got, deal.ID).Error; err != nil {
		t.Fatalf("failed to reload deal: %v", err)
	}
	if got.Stage != "qualified" {
		t.Errorf("expected default stage %q, got %q", "qualified", got.Stage)
	}
}

func TestUpdateStageWithoutDealFailsButContinues(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")

	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "broken", IsActive: true,
		TriggerType: models.TriggerReplyPositive, ActionType: models.ActionUpdateStage, Priority: 1,
	})
	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "task anyway", IsActive: true,
		TriggerType: models.TriggerReplyPositive, ActionType: models.ActionAddTask, Priority: 2,
	})

	if err := eng.ExecuteForTrigger(1, models.TriggerReplyPositive, contact.ID, TriggerContext{}); err != nil {
		t.Fatalf("ExecuteForTrigger: %v", err)
	}

	var logs []models.AutomationLog
	if err := db.Order("id ASC").Find(&logs).Error; err != nil {
		t.Fatalf("failed to load logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected both rules to log, got %d rows", len(logs))
	}
	if logs[0].Success {
		t.Error("update_stage without a deal should log a failure")
	}
	if logs[0].Error == "" {
		t.Error("failure log should carry the error message")
	}
	if !logs[1].Success {
		t.Errorf("sibling rule should still run, got failure: %s", logs[1].Error)
	}

	var tasks int64
	db.Model(&models.Task{}).Count(&tasks)
	if tasks != 1 {
		t.Errorf("expected the sibling rule's task, got %d", tasks)
	}
}

func TestUnknownActionTypeLoggedNotThrown(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")

	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "legacy", IsActive: true,
		TriggerType: models.TriggerReplyPositive, ActionType: "carrier_pigeon",
	})

	if err := eng.ExecuteForTrigger(1, models.TriggerReplyPositive, contact.ID, TriggerContext{}); err != nil {
		t.Fatalf("unknown action must not abort the trigger: %v", err)
	}

	var logEntry models.AutomationLog
	if err := db.First(&logEntry).Error; err != nil {
		t.Fatalf("expected a log row: %v", err)
	}
	if logEntry.Success {
		t.Error("unknown action should log success=false")
	}
	if !strings.Contains(logEntry.Description, "not implemented") {
		t.Errorf("expected a not-implemented description, got %q", logEntry.Description)
	}
}

func TestAddTaskDefaults(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")

	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "follow up", IsActive: true,
		TriggerType: models.TriggerDemoNoShow, ActionType: models.ActionAddTask,
	})

	if err := eng.ExecuteForTrigger(1, models.TriggerDemoNoShow, contact.ID, TriggerContext{}); err != nil {
		t.Fatalf("ExecuteForTrigger: %v", err)
	}

	var task models.Task
	if err := db.First(&task).Error; err != nil {
		t.Fatalf("no task created: %v", err)
	}
	if task.Title != "Follow up" || task.Priority != "medium" {
		t.Errorf("expected default title/priority, got %q/%q", task.Title, task.Priority)
	}
	if task.DueAt == nil {
		t.Fatal("expected a due date")
	}
	want := time.Now().AddDate(0, 0, 1)
	if diff := task.DueAt.Sub(want); diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("expected due in 1 day, off by %v", diff)
	}
}

func TestHandleClassifiedReplyFiresMappedTrigger(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")

	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "hot lead", IsActive: true,
		TriggerType: models.TriggerReplyPositive, ActionType: models.ActionCreateDeal,
	})

	reply := models.InboundReply{
		UserID: 1, ContactID: contact.ID,
		FromEmail: contact.Email, Subject: "Re: intro", Body: "sounds good, let's talk",
		ReceivedAt: time.Now(),
	}
	if err := db.Create(&reply).Error; err != nil {
		t.Fatalf("failed to create reply: %v", err)
	}

	cls := &ReplyClassification{Classification: "positive", Sentiment: "positive"}
	if err := eng.HandleClassifiedReply(&reply, cls); err != nil {
		t.Fatalf("HandleClassifiedReply: %v", err)
	}

	var logEntry models.AutomationLog
	if err := db.First(&logEntry).Error; err != nil {
		t.Fatalf("expected an automation log: %v", err)
	}
	if logEntry.TriggerType != models.TriggerReplyPositive {
		t.Errorf("expected trigger %q, got %q", models.TriggerReplyPositive, logEntry.TriggerType)
	}
	if logEntry.ReplyID == nil || *logEntry.ReplyID != reply.ID {
		t.Error("log should reference the triggering reply")
	}
	if reply.ProcessedAt == nil {
		t.Error("reply should be marked processed")
	}
}

func TestHandleClassifiedReplyUnmappedLabelFiresNothing(t *testing.T) {
	db := newTestDB(t)
	eng := New(db)
	contact := seedContact(t, db, 1, "ada@example.com")

	seedRule(t, db, models.AutomationRule{
		UserID: 1, Name: "hot lead", IsActive: true,
		TriggerType: models.TriggerReplyPositive, ActionType: models.ActionCreateDeal,
	})

	reply := models.InboundReply{UserID: 1, ContactID: contact.ID, FromEmail: contact.Email, ReceivedAt: time.Now()}
	if err := db.Create(&reply).Error; err != nil {
		t.Fatalf("failed to create reply: %v", err)
	}

	for _, label := range []string{"unsubscribe", "out_of_office", "question", "unknown"} {
		if err := eng.HandleClassifiedReply(&reply, &ReplyClassification{Classification: label}); err != nil {
			t.Fatalf("label %q: %v", label, err)
		}
	}

	var logs int64
	db.Model(&models.AutomationLog{}).Count(&logs)
	if logs != 0 {
		t.Errorf("unmapped labels must fire no automation, got %d logs", logs)
	}
}

func TestTriggerForLabel(t *testing.T) {
	cases := map[string]string{
		"positive":        models.TriggerReplyPositive,
		"not_now":         models.TriggerReplyNotNow,
		"price_objection": models.TriggerReplyPrice,
		"competitor":      models.TriggerReplyCompetitor,
		"angry":           models.TriggerReplyAngry,
	}
	for label, want := range cases {
		got, ok := TriggerForLabel(label)
		if !ok || got != want {
			t.Errorf("TriggerForLabel(%q) = %q, %v; want %q", label, got, ok, want)
		}
	}
	if _, ok := TriggerForLabel("out_of_office"); ok {
		t.Error("out_of_office should not map to a trigger")
	}
}
