package worker

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"coldreach/config"
	controller "coldreach/controllers"
	"coldreach/engine"
	"coldreach/models"
)

// ReplyWorker periodically polls every user's IMAP-enabled senders for new
// replies and runs them through classification and automation.
type ReplyWorker struct {
	db         *gorm.DB
	eng        *engine.Engine
	classifier engine.Classifier
	logger     *log.Logger
}

func NewReplyWorker(db *gorm.DB, eng *engine.Engine, cls engine.Classifier, logger *log.Logger) *ReplyWorker {
	return &ReplyWorker{
		db:         db,
		eng:        eng,
		classifier: cls,
		logger:     logger,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	rw.logger.Println("Starting reply worker...")

	interval := time.Duration(config.AppConfig.ReplyFetchIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)

	for {
		select {
		case <-ticker.C:
			rw.fetchAllReplies()
		case <-ctx.Done():
			rw.logger.Println("Stopping reply worker...")
			ticker.Stop()
			return
		}
	}
}

func (rw *ReplyWorker) fetchAllReplies() {
	rw.logger.Println("Fetching replies for all users...")

	// Only users with at least one IMAP-capable sender are worth polling
	var userIDs []uint
	if err := rw.db.Model(&models.Sender{}).
		Where("is_active = ? AND track_replies = ? AND imap_host != ''", true, true).
		Distinct("user_id").Pluck("user_id", &userIDs).Error; err != nil {
		rw.logger.Printf("Failed to fetch sender owners: %v", err)
		return
	}
	if len(userIDs) == 0 {
		return
	}

	var users []models.User
	if err := rw.db.Where("id IN ? AND is_active = ?", userIDs, true).Find(&users).Error; err != nil {
		rw.logger.Printf("Failed to fetch users: %v", err)
		return
	}

	replyController := controller.NewReplyController(rw.db, rw.logger, rw.eng, rw.classifier)

	// Minimal Fiber app to mint contexts the controller can run under
	app := fiber.New()

	for i := range users {
		fctx := app.AcquireCtx(&fasthttp.RequestCtx{})
		fctx.Locals("user", &users[i])

		if err := replyController.FetchReplies(fctx); err != nil {
			rw.logger.Printf("Failed to fetch replies for user %d: %v", users[i].ID, err)
		}
		app.ReleaseCtx(fctx)
	}
}
