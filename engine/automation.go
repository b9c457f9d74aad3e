package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"gorm.io/gorm"

	"coldreach/models"
)

// TriggerContext carries the optional references available when a trigger
// fires: the deal a stage-change relates to, the inbound reply that caused a
// reply trigger, and free-form metadata for the audit trail.
type TriggerContext struct {
	DealID   *uint
	ReplyID  *uint
	Metadata map[string]string
}

// ExecuteForTrigger runs every active rule of the owner matching the trigger,
// in ascending priority order. Every rule executes regardless of what the
// others did; one misconfigured rule must never block its siblings, so each
// execution is wrapped in its own failure boundary and produces exactly one
// audit log row.
func (e *Engine) ExecuteForTrigger(userID uint, triggerType string, contactID uint, tc TriggerContext) error {
	var rules []models.AutomationRule
	if err := e.db.
		Where("user_id = ? AND trigger_type = ? AND is_active = ?", userID, triggerType, true).
		Order("priority ASC").
		Find(&rules).Error; err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	var contact models.Contact
	if err := e.db.First(&contact, contactID).Error; err != nil {
		return fmt.Errorf("contact %d not found: %w", contactID, err)
	}

	for i := range rules {
		e.executeRule(&rules[i], &contact, triggerType, tc)
	}
	return nil
}

// executeRule runs one rule and writes its audit row. Panics and errors are
// contained here.
func (e *Engine) executeRule(rule *models.AutomationRule, contact *models.Contact, triggerType string, tc TriggerContext) {
	var (
		description string
		execErr     error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic: %v", r)
				sentry.CurrentHub().Recover(r)
			}
		}()
		description, execErr = e.runAction(rule, contact, tc)
	}()

	logEntry := models.AutomationLog{
		UserID:      rule.UserID,
		RuleID:      rule.ID,
		ContactID:   contact.ID,
		DealID:      tc.DealID,
		ReplyID:     tc.ReplyID,
		TriggerType: triggerType,
		ActionType:  rule.ActionType,
		Description: description,
		Success:     execErr == nil,
		Metadata:    tc.Metadata,
	}
	if execErr != nil {
		logEntry.Error = execErr.Error()
		if logEntry.Description == "" {
			logEntry.Description = fmt.Sprintf("Action %s failed", rule.ActionType)
		}
		e.log.WithError(execErr).WithField("rule_id", rule.ID).Warn("automation rule failed")
	}
	if err := e.db.Create(&logEntry).Error; err != nil {
		e.log.WithError(err).WithField("rule_id", rule.ID).Error("failed to write automation log")
	}

	now := time.Now()
	e.db.Model(rule).Updates(map[string]interface{}{
		"execution_count":  gorm.Expr("execution_count + 1"),
		"last_executed_at": now,
	})
}

func (e *Engine) runAction(rule *models.AutomationRule, contact *models.Contact, tc TriggerContext) (string, error) {
	cfg := rule.ActionConfig

	switch rule.ActionType {
	case models.ActionCreateDeal:
		return e.actionCreateDeal(rule, contact, cfg)

	case models.ActionUpdateStage:
		return e.actionUpdateStage(rule, cfg, tc)

	case models.ActionAddTask:
		return e.actionAddTask(rule, contact, cfg)

	case models.ActionSendSequence:
		return e.actionSendSequence(rule, contact, cfg)

	case models.ActionSendEmail:
		return e.actionSendEmail(rule, contact, cfg)

	case models.ActionSendBookingLink:
		return e.actionSendBookingLink(rule, contact, cfg)

	case models.ActionNotifyUser:
		message := cfg.Message
		if message == "" {
			message = fmt.Sprintf("Rule %q fired for %s", rule.Name, contact.Email)
		}
		return "Notification: " + message, nil

	default:
		// Keeps the batch moving; the save-time validator should have
		// rejected this, but rules created before an action was retired can
		// still reference it.
		return fmt.Sprintf("Action not implemented: %s", rule.ActionType), fmt.Errorf("unknown action type %q", rule.ActionType)
	}
}

func (e *Engine) actionCreateDeal(rule *models.AutomationRule, contact *models.Contact, cfg models.ActionConfig) (string, error) {
	name := contact.Email
	if contact.Company != "" {
		name = contact.Company
	}
	deal := models.Deal{
		UserID:    rule.UserID,
		ContactID: contact.ID,
		Name:      name + " deal",
		Value:     cfg.DealValue,
	}
	if cfg.DealProbability > 0 {
		deal.Probability = cfg.DealProbability
	}
	if cfg.DealStage != "" {
		deal.Stage = cfg.DealStage
	}
	if err := e.db.Create(&deal).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("Created deal %q for %s", deal.Name, contact.Email), nil
}

func (e *Engine) actionUpdateStage(rule *models.AutomationRule, cfg models.ActionConfig, tc TriggerContext) (string, error) {
	if tc.DealID == nil {
		return "", fmt.Errorf("update_stage requires a deal in the trigger context")
	}
	stage := cfg.Stage
	if stage == "" {
		stage = "qualified"
	}
	res := e.db.Model(&models.Deal{}).
		Where("id = ? AND user_id = ?", *tc.DealID, rule.UserID).
		Update("stage", stage)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", fmt.Errorf("deal %d not found", *tc.DealID)
	}
	return fmt.Sprintf("Moved deal %d to stage %q", *tc.DealID, stage), nil
}

func (e *Engine) actionAddTask(rule *models.AutomationRule, contact *models.Contact, cfg models.ActionConfig) (string, error) {
	title := cfg.TaskTitle
	if title == "" {
		title = "Follow up"
	}
	priority := cfg.TaskPriority
	if priority == "" {
		priority = "medium"
	}
	dueInDays := cfg.DueInDays
	if dueInDays <= 0 {
		dueInDays = 1
	}
	dueAt := time.Now().AddDate(0, 0, dueInDays)

	task := models.Task{
		UserID:    rule.UserID,
		ContactID: &contact.ID,
		DealID:    nil,
		Title:     title,
		Priority:  priority,
		DueAt:     &dueAt,
	}
	if err := e.db.Create(&task).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("Created task %q due in %d day(s)", title, dueInDays), nil
}

// actionSendSequence enrolls the contact in the configured sequence. The
// enrollment is idempotency-checked: a contact already bound to the sequence
// is reported as such instead of being enrolled twice.
func (e *Engine) actionSendSequence(rule *models.AutomationRule, contact *models.Contact, cfg models.ActionConfig) (string, error) {
	if cfg.SequenceID == 0 {
		return "", fmt.Errorf("send_sequence requires a sequence_id in the action config")
	}

	var existing models.SequenceEnrollment
	err := e.db.Where("contact_id = ? AND sequence_id = ?", contact.ID, cfg.SequenceID).First(&existing).Error
	if err == nil {
		return fmt.Sprintf("Already enrolled: contact %s is in sequence %d", contact.Email, cfg.SequenceID), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		// A failed lookup must not be mistaken for "not enrolled".
		return "", err
	}

	now := time.Now()
	enrollment := models.SequenceEnrollment{
		UserID:     rule.UserID,
		SequenceID: cfg.SequenceID,
		ContactID:  contact.ID,
		Status:     models.EnrollmentActive,
		NextSendAt: &now,
	}
	if err := e.db.Create(&enrollment).Error; err != nil {
		return "", err
	}
	e.db.Model(&models.Sequence{}).Where("id = ?", cfg.SequenceID).
		UpdateColumn("enrolled_count", gorm.Expr("enrolled_count + 1"))
	return fmt.Sprintf("Enrolled %s in sequence %d", contact.Email, cfg.SequenceID), nil
}

func (e *Engine) actionSendEmail(rule *models.AutomationRule, contact *models.Contact, cfg models.ActionConfig) (string, error) {
	if e.mailer == nil {
		return "", fmt.Errorf("send_email: no mailer configured")
	}
	if cfg.TemplateID == 0 {
		return "", fmt.Errorf("send_email requires a template_id in the action config")
	}
	var template models.Template
	if err := e.db.Where("id = ? AND user_id = ?", cfg.TemplateID, rule.UserID).First(&template).Error; err != nil {
		return "", fmt.Errorf("template %d not found: %w", cfg.TemplateID, err)
	}

	messageID, err := e.mailer.Send(rule.UserID, contact.Email, template.Subject, template.HTMLContent)
	if err != nil {
		return "", err
	}
	if err := e.LogEmailEvent(rule.UserID, models.EventSent, EventRef{
		ContactID: &contact.ID,
		MessageID: messageID,
		Metadata:  map[string]string{"rule_id": fmt.Sprint(rule.ID)},
	}); err != nil {
		e.log.WithError(err).Warn("sent event not recorded for automation email")
	}
	return fmt.Sprintf("Sent template %q to %s", template.Name, contact.Email), nil
}

func (e *Engine) actionSendBookingLink(rule *models.AutomationRule, contact *models.Contact, cfg models.ActionConfig) (string, error) {
	if e.mailer == nil {
		return "", fmt.Errorf("send_booking_link: no mailer configured")
	}
	if cfg.BookingURL == "" {
		return "", fmt.Errorf("send_booking_link requires a booking_url in the action config")
	}
	message := cfg.Message
	if message == "" {
		message = "Happy to find a time that works for you."
	}
	body := fmt.Sprintf(`<p>Hi %s,</p><p>%s</p><p><a href="%s">Pick a slot here</a></p>`,
		contact.FullName(), message, cfg.BookingURL)

	messageID, err := e.mailer.Send(rule.UserID, contact.Email, "Let's find a time", body)
	if err != nil {
		return "", err
	}
	if err := e.LogEmailEvent(rule.UserID, models.EventSent, EventRef{
		ContactID: &contact.ID,
		MessageID: messageID,
		Metadata:  map[string]string{"rule_id": fmt.Sprint(rule.ID)},
	}); err != nil {
		e.log.WithError(err).Warn("sent event not recorded for booking link")
	}
	return fmt.Sprintf("Sent booking link to %s", contact.Email), nil
}
