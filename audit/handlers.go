package audit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/models"
	"github.com/mmdatafocus/shopledger_backend/utils"
)

// QueueHandler returns today's cycle-count queue. An empty queue with a
// reason code is a normal response, not an error.
func QueueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		business, err := models.GetBusinessById(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "business not found"})
			return
		}

		queue, err := models.BuildVerificationQueue(ctx, business, time.Now())
		if err != nil {
			config.LogError(config.GetLogger(), "audit", "QueueHandler", "build queue", businessId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "queue build failed"})
			return
		}

		c.JSON(http.StatusOK, queueToResponse(queue))
	}
}

// VerifyHandler records a physical count. A stale expected quantity is a
// conflict the client resolves by re-prompting with the fresh value and
// setting confirm_changed_expected.
func VerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		userName, _ := utils.GetUserNameFromContext(ctx)
		input := &models.NewVerifiedCount{
			ProductId:              req.ProductId,
			CountedQty:             utils.ToMilli(req.CountedQty),
			ExpectedQtyAtOpen:      utils.ToMilli(req.ExpectedQtyAtOpen),
			ReasonCode:             req.ReasonCode,
			ConfirmChangedExpected: req.ConfirmChangedExpected,
			VerifiedBy:             userName,
		}

		result, err := models.ApplyVerifiedCount(ctx, businessId, input)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, verifyToResponse(result))
		case err == utils.ErrorStaleExpectedQty:
			payload := gin.H{
				"error":     "expected quantity changed since the count was opened",
				"productId": req.ProductId,
			}
			if product, perr := models.GetProduct(ctx, businessId, req.ProductId); perr == nil {
				payload["expectedQty"] = utils.FromMilli(product.Stock)
			}
			c.JSON(http.StatusConflict, payload)
		case err == utils.ErrorRecordNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		case utils.IsValidationError(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			config.LogError(config.GetLogger(), "audit", "VerifyHandler", req.ProductId, businessId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		}
	}
}

// SnoozeHandler pauses queue prompts for a day.
func SnoozeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		business, err := models.SnoozeVerification(ctx)
		if err != nil {
			config.LogError(config.GetLogger(), "audit", "SnoozeHandler", "snooze", businessId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "snooze failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"snoozeUntil": business.StockVerification.SnoozeUntil})
	}
}

// EventsHandler lists recent verification events, newest first.
func EventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 50
		events, err := models.GetVerificationEvents(ctx, businessId, limit)
		if err != nil {
			config.LogError(config.GetLogger(), "audit", "EventsHandler", "list events", businessId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "listing events failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}
