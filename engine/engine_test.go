package engine

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coldreach/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Contact{},
		&models.ContactList{},
		&models.Template{},
		&models.Sender{},
		&models.Sequence{},
		&models.SequenceStep{},
		&models.SequenceEnrollment{},
		&models.EmailEvent{},
		&models.DailyStat{},
		&models.AutomationRule{},
		&models.AutomationLog{},
		&models.InboundReply{},
		&models.Deal{},
		&models.Task{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// seedSequence creates a template, an active sequence with the given steps and
// returns the sequence with its steps loaded.
func seedSequence(t *testing.T, db *gorm.DB, userID uint, steps []models.SequenceStep) *models.Sequence {
	t.Helper()

	sequence := models.Sequence{UserID: userID, SenderID: 1, Name: "Outbound Q3", Status: "active"}
	if err := db.Create(&sequence).Error; err != nil {
		t.Fatalf("failed to create sequence: %v", err)
	}
	for i := range steps {
		steps[i].SequenceID = sequence.ID
		steps[i].StepNumber = i
		if steps[i].TemplateID == 0 {
			template := models.Template{
				UserID:      userID,
				Name:        fmt.Sprintf("step %d", i),
				Subject:     fmt.Sprintf("Subject %d", i),
				HTMLContent: fmt.Sprintf("<p>Body %d</p>", i),
			}
			if err := db.Create(&template).Error; err != nil {
				t.Fatalf("failed to create template: %v", err)
			}
			steps[i].TemplateID = template.ID
		}
		if err := db.Create(&steps[i]).Error; err != nil {
			t.Fatalf("failed to create step: %v", err)
		}
	}
	sequence.Steps = steps
	return &sequence
}

func seedContact(t *testing.T, db *gorm.DB, userID uint, email string) *models.Contact {
	t.Helper()
	contact := models.Contact{UserID: userID, Email: email, FirstName: "Ada", LastName: "Lovelace", Company: "Acme"}
	if err := db.Create(&contact).Error; err != nil {
		t.Fatalf("failed to create contact: %v", err)
	}
	return &contact
}

func seedEnrollment(t *testing.T, db *gorm.DB, userID, sequenceID, contactID uint, step int) *models.SequenceEnrollment {
	t.Helper()
	now := time.Now().Add(-time.Minute)
	enrollment := models.SequenceEnrollment{
		UserID:      userID,
		SequenceID:  sequenceID,
		ContactID:   contactID,
		CurrentStep: step,
		Status:      models.EnrollmentActive,
		NextSendAt:  &now,
	}
	if err := db.Create(&enrollment).Error; err != nil {
		t.Fatalf("failed to create enrollment: %v", err)
	}
	return &enrollment
}

func seedEvent(t *testing.T, db *gorm.DB, userID, contactID uint, eventType string, at time.Time) {
	t.Helper()
	event := models.EmailEvent{UserID: userID, EventType: eventType, ContactID: &contactID}
	event.CreatedAt = at
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("failed to create event: %v", err)
	}
}

func reloadEnrollment(t *testing.T, db *gorm.DB, id uint) *models.SequenceEnrollment {
	t.Helper()
	var enrollment models.SequenceEnrollment
	if err := db.First(&enrollment, id).Error; err != nil {
		t.Fatalf("failed to reload enrollment: %v", err)
	}
	return &enrollment
}
