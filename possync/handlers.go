package possync

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/models"
	"github.com/mmdatafocus/shopledger_backend/utils"
)

// SyncHandler ingests a device batch and replies with the server snapshot,
// so a single round trip both pushes local changes and pulls the merged
// state back down.
func SyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
		var req SyncRequest
		if err := utils.StrictUnmarshalJSON(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sync payload: " + err.Error()})
			return
		}

		stats, err := models.ApplySyncBatch(ctx, businessId, req.ToBatchInput())
		if err != nil {
			config.LogError(config.GetLogger(), "possync", "SyncHandler", "apply batch", businessId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
			return
		}

		if req.Business != nil {
			err := models.UpdateBusinessProfile(ctx, businessId, req.Business.ToProfileInput())
			if utils.IsValidationError(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				config.LogError(config.GetLogger(), "possync", "SyncHandler", "update profile", businessId, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "profile update failed"})
				return
			}
		}

		snapshot, err := models.GetSyncSnapshot(ctx, businessId)
		if err != nil {
			config.LogError(config.GetLogger(), "possync", "SyncHandler", "load snapshot", businessId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sync applied but snapshot failed"})
			return
		}

		c.JSON(http.StatusOK, snapshotToResponse(snapshot, stats))
	}
}

// SnapshotHandler is the read-only pull used at app start, before the
// device has anything to push.
func SnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		snapshot, err := models.GetSyncSnapshot(ctx, businessId)
		if err != nil {
			config.LogError(config.GetLogger(), "possync", "SnapshotHandler", "load snapshot", businessId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot failed"})
			return
		}

		c.JSON(http.StatusOK, snapshotToResponse(snapshot, nil))
	}
}

// DeleteTransactionHandler voids a sale. With restock=true every line's
// deduction is reversed in the same database transaction that removes the
// row, so stock and the ledger never disagree.
func DeleteTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		transactionId := c.Param("id")
		if transactionId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "transaction id is required"})
			return
		}

		restock := true
		if raw := c.Query("restock"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "restock must be a boolean"})
				return
			}
			restock = parsed
		}

		err := models.DeleteTransaction(ctx, businessId, transactionId, restock)
		if err == utils.ErrorRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		if err != nil {
			config.LogError(config.GetLogger(), "possync", "DeleteTransactionHandler", transactionId, businessId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"deleted": transactionId, "restocked": restock})
	}
}
