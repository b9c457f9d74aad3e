package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "coldreach/controllers"
	"coldreach/engine"
	"coldreach/middleware"
)

// SetupPublicRoutes wires the endpoints hit by mail clients and upstream
// services. No authentication, only rate limiting; tracking URLs carry their
// own HMAC token.
func SetupPublicRoutes(app *fiber.App, db *gorm.DB, eng *engine.Engine, cls engine.Classifier) {
	trackingController := controller.NewTrackingController(db, log.New(os.Stdout, "TRACK: ", log.LstdFlags), eng)
	replyController := controller.NewReplyController(db, log.New(os.Stdout, "REPLY: ", log.LstdFlags), eng, cls)

	track := app.Group("/track", middleware.TrackingRateLimiter())
	track.Get("/open/:messageID/:token", trackingController.HandleOpenTracking)
	track.Get("/click/:messageID/:token", trackingController.HandleClickTracking)

	webhooks := app.Group("/webhooks", middleware.TrackingRateLimiter())
	webhooks.Post("/events", trackingController.HandleEventWebhook)
	webhooks.Post("/reply", replyController.HandleReplyWebhook)
}

// SetupAPIRoutes wires the authenticated management API.
func SetupAPIRoutes(app *fiber.App, db *gorm.DB, eng *engine.Engine, cls engine.Classifier) {
	contactController := controller.NewContactController(db, log.New(os.Stdout, "CONTACT: ", log.LstdFlags), eng)
	templateController := controller.NewTemplateController(db, log.New(os.Stdout, "TEMPLATE: ", log.LstdFlags))
	senderController := controller.NewSenderController(db, log.New(os.Stdout, "SENDER: ", log.LstdFlags))
	sequenceController := controller.NewSequenceController(db, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	automationController := controller.NewAutomationController(db, log.New(os.Stdout, "AUTOMATION: ", log.LstdFlags))
	replyController := controller.NewReplyController(db, log.New(os.Stdout, "REPLY: ", log.LstdFlags), eng, cls)
	reputationController := controller.NewReputationController(db, log.New(os.Stdout, "REPUTATION: ", log.LstdFlags), eng)
	dealController := controller.NewDealController(db, log.New(os.Stdout, "DEAL: ", log.LstdFlags), eng)

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Contact routes
	contact := api.Group("/contacts")
	contact.Post("/", contactController.CreateContact)
	contact.Get("/", contactController.ListContacts)
	contact.Get("/:id", contactController.GetContact)
	contact.Put("/:id", contactController.UpdateContact)
	contact.Delete("/:id", contactController.DeleteContact)
	contact.Post("/:id/unsubscribe", contactController.UnsubscribeContact)

	// Template routes
	template := api.Group("/templates")
	template.Post("/", templateController.CreateTemplate)
	template.Get("/", templateController.ListTemplates)
	template.Get("/:id", templateController.GetTemplate)
	template.Put("/:id", templateController.UpdateTemplate)
	template.Delete("/:id", templateController.DeleteTemplate)

	// Sender routes
	sender := api.Group("/senders")
	sender.Post("/", senderController.CreateSender)
	sender.Get("/", senderController.ListSenders)
	sender.Get("/:id", senderController.GetSender)
	sender.Put("/:id", senderController.UpdateSender)
	sender.Delete("/:id", senderController.DeleteSender)

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.ListSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Delete("/:id", sequenceController.DeleteSequence)
	sequence.Post("/:id/activate", sequenceController.ActivateSequence)
	sequence.Post("/:id/pause", sequenceController.PauseSequence)
	sequence.Post("/:id/enroll", sequenceController.EnrollContact)
	sequence.Get("/:id/enrollments", sequenceController.ListEnrollments)

	// Enrollment routes
	enrollment := api.Group("/enrollments")
	enrollment.Post("/:enrollmentID/pause", sequenceController.PauseEnrollment)
	enrollment.Post("/:enrollmentID/resume", sequenceController.ResumeEnrollment)

	// Automation routes
	automation := api.Group("/automations")
	automation.Post("/", automationController.CreateRule)
	automation.Get("/", automationController.ListRules)
	automation.Get("/logs", automationController.ListLogs)
	automation.Get("/:id", automationController.GetRule)
	automation.Put("/:id", automationController.UpdateRule)
	automation.Delete("/:id", automationController.DeleteRule)

	// Reply routes
	reply := api.Group("/replies")
	reply.Post("/fetch", replyController.FetchReplies)
	reply.Get("/", replyController.ListReplies)

	// Reputation routes
	reputation := api.Group("/reputation")
	reputation.Get("/", reputationController.GetReputation)
	reputation.Get("/daily", reputationController.ListDailyStats)
	reputation.Get("/events", reputationController.ListEvents)

	// Deal and task routes
	deal := api.Group("/deals")
	deal.Get("/", dealController.ListDeals)
	deal.Get("/:id", dealController.GetDeal)
	deal.Put("/:id/stage", dealController.UpdateDealStage)

	task := api.Group("/tasks")
	task.Get("/", dealController.ListTasks)
	task.Post("/:id/complete", dealController.CompleteTask)

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB, eng *engine.Engine, cls engine.Classifier) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupPublicRoutes(app, db, eng, cls)
	SetupAPIRoutes(app, db, eng, cls)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
