package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/shopledger_backend/audit"
	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/middlewares"
	"github.com/mmdatafocus/shopledger_backend/models"
	"github.com/mmdatafocus/shopledger_backend/possync"
	"github.com/mmdatafocus/shopledger_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("shopledger-backend")

// PubSubMessage is the push-subscription envelope Cloud Pub/Sub wraps
// around the published payload.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type auditScanPayload struct {
	BusinessId string `json:"business_id"`
}

func authRegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewBusiness
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		business, err := models.RegisterBusiness(c.Request.Context(), &input)
		if err != nil {
			if utils.IsValidationError(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			config.LogError(config.GetLogger(), "server.go", "authRegisterHandler", input.Email, nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"business": business})
	}
}

func authLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Email string `json:"email" binding:"required"`
			Pin   string `json:"pin" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		business, token, err := models.LoginBusiness(c.Request.Context(), input.Email, input.Pin)
		if err == models.ErrorEmailNotVerified {
			c.JSON(http.StatusForbidden, gin.H{
				"error":                "email not verified",
				"requiresVerification": true,
			})
			return
		}
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token, "business": business})
	}
}

func authVerifyEmailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Email string `json:"email" binding:"required"`
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		if err := models.VerifyBusinessEmail(c.Request.Context(), input.Email, input.Token); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "verification failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"verified": true})
	}
}

func settingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewStockVerificationSettings
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		business, err := models.UpdateStockVerificationSettings(c.Request.Context(), &input)
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "settingsHandler", "update settings", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settings update failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"settings": business.StockVerification})
	}
}

// auditScanPubSubHandler is the Cloud Scheduler entry point: scheduler
// publishes to a topic, Pub/Sub pushes here, and we build the day's queue
// for one tenant (or every active tenant when business_id is empty).
//
// The Redis lock is a best-effort optimization against concurrent pushes;
// correctness rests on the idempotency key claimed per tenant per message.
func auditScanPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var msg PubSubMessage
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "auditScanPubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "server.go", "auditScanPubSubHandler", "Unmarshal body", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var payload auditScanPayload
		if len(msg.Message.Data) > 0 {
			if err := json.Unmarshal(msg.Message.Data, &payload); err != nil {
				config.LogError(logger, "server.go", "auditScanPubSubHandler", "Unmarshal payload", msg.Message.Data, err)
				c.Status(http.StatusNoContent)
				return
			}
		}

		var businessIds []string
		if payload.BusinessId != "" {
			businessIds = []string{payload.BusinessId}
		} else {
			db := config.GetDB()
			err := db.WithContext(c.Request.Context()).
				Model(&models.Business{}).
				Where("is_active = ?", true).
				Pluck("id", &businessIds).Error
			if err != nil {
				config.LogError(logger, "server.go", "auditScanPubSubHandler", "list businesses", nil, err)
				// Non-2xx tells Pub/Sub to retry.
				c.Status(http.StatusInternalServerError)
				return
			}
		}

		now := time.Now()
		failed := 0
		for _, businessId := range businessIds {
			if err := runAuditScanForTenant(c.Request.Context(), businessId, msg.Message.ID, now); err != nil {
				failed++
			}
		}

		if failed > 0 {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func runAuditScanForTenant(ctx context.Context, businessId string, messageId string, now time.Time) error {
	logger := config.GetLogger()
	db := config.GetDB()

	ctx, span := tracer.Start(ctx, "audit-scan")
	defer span.End()

	var lock *redislock.Lock
	if redisLock := config.GetRedisLock(); redisLock != nil {
		obtained, err := redisLock.Obtain(ctx, fmt.Sprintf("lock:audit-scan:%s", businessId), 30*time.Second, nil)
		if err == nil {
			lock = obtained
		} else if err != redislock.ErrNotObtained {
			logger.WithFields(logrus.Fields{
				"field":       "auditScanPubSubHandler",
				"business_id": businessId,
			}).Warn("error obtaining redis lock; proceeding without it: " + err.Error())
		}
	}
	defer func() {
		if lock != nil {
			if releaseErr := lock.Release(ctx); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":       "auditScanPubSubHandler",
					"business_id": businessId,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}
	}()

	claimed, err := models.ClaimIdempotencyKey(ctx, db, businessId, "audit_scan", messageId)
	if err != nil {
		config.LogError(logger, "server.go", "runAuditScanForTenant", "claim idempotency key", businessId, err)
		return err
	}
	if !claimed {
		// Already handled by a previous push of the same message.
		return nil
	}

	scanCtx := utils.SetBusinessIdInContext(ctx, businessId)
	_, scanErr := models.RunScheduledAuditScan(scanCtx, businessId, now)
	if scanErr != nil {
		config.LogError(logger, "server.go", "runAuditScanForTenant", "run scan", businessId, scanErr)
	}
	if err := models.ResolveIdempotencyKey(ctx, db, businessId, "audit_scan", messageId, scanErr); err != nil {
		config.LogError(logger, "server.go", "runAuditScanForTenant", "resolve idempotency key", businessId, err)
	}
	return scanErr
}

// customErrorLogger logs only requests that accumulated gin errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist; allow all elsewhere.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/register", authRegisterHandler())
	r.POST("/auth/login", authLoginHandler())
	r.POST("/auth/verify-email", authVerifyEmailHandler())

	// Scheduler -> Pub/Sub -> push. Not behind AuthMiddleware: Cloud Run IAM
	// guards the push endpoint in production.
	r.POST("/pubsub/audit-scan", auditScanPubSubHandler())

	authed := r.Group("/", middlewares.AuthMiddleware())
	authed.POST("/sync", possync.SyncHandler())
	authed.GET("/sync", possync.SnapshotHandler())
	authed.DELETE("/sync/transactions/:id", possync.DeleteTransactionHandler())
	authed.GET("/audit/queue", audit.QueueHandler())
	authed.POST("/audit/verify", audit.VerifyHandler())
	authed.POST("/audit/snooze", audit.SnoozeHandler())
	authed.GET("/audit/events", audit.EventsHandler())
	authed.GET("/audit/export", audit.ExportHandler())
	authed.PUT("/settings/verification", settingsHandler())

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a
	// separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
