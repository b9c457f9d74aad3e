package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"coldreach/config"
	"coldreach/engine"
	"coldreach/middleware"
	"coldreach/routes"
	"coldreach/utils"
	"coldreach/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "COLDREACH: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry when a DSN is configured
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Fatalf("Failed to initialize Sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Wire the engine with its send collaborator
	mailer := utils.NewMailer(config.DB, log.New(os.Stdout, "MAILER: ", log.LstdFlags))
	eng := engine.New(config.DB).WithMailer(mailer)
	classifier := engine.NewHTTPClassifier(config.AppConfig.ClassifierURL, config.AppConfig.ClassifierAPIKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize and start the sequence worker
	sequenceWorker := worker.NewSequenceWorker(config.DB, eng, mailer, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	go sequenceWorker.Start(ctx)
	go sequenceWorker.ResetDailyCounters(ctx)

	// Initialize and start the reply worker
	replyWorker := worker.NewReplyWorker(config.DB, eng, classifier, log.New(os.Stdout, "REPLY: ", log.LstdFlags))
	go replyWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, eng, classifier)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
