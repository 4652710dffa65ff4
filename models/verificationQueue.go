package models

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/utils"
)

// Queue reason codes. Anything but QueueReasonOK means the queue is empty
// on purpose; the client shows nothing rather than an error.
const (
	QueueReasonOK               = "ok"
	QueueReasonDisabled         = "disabled"
	QueueReasonSnoozed          = "snoozed"
	QueueReasonNotifiedRecently = "notified_recently"
	QueueReasonNoProducts       = "no_products"
)

type QueueEntry struct {
	Product *Product
	Score   int
}

type VerificationQueue struct {
	Entries  []QueueEntry
	Reason   string
	Settings StockVerificationSettings
}

// DynamicQueueCeiling scales the daily audit ask with catalog size. Large
// catalogs get a few more slots, never enough to feel like stocktaking.
func DynamicQueueCeiling(catalogSize int) int {
	switch {
	case catalogSize < 1000:
		return 5
	case catalogSize <= 10000:
		return 8
	case catalogSize <= 40000:
		return 12
	default:
		return 15
	}
}

// queueGuardReason runs the tenant-level guardrails in order and returns
// the first reason that trips, or QueueReasonOK. The no_products guard
// needs the catalog and stays with the caller.
func queueGuardReason(settings StockVerificationSettings, now time.Time) string {
	if !utils.DereferencePtr(settings.Enabled) {
		return QueueReasonDisabled
	}
	if settings.SnoozeUntil != nil && settings.SnoozeUntil.After(now) {
		return QueueReasonSnoozed
	}
	promptWindow := time.Duration(settings.MinDaysBetweenPrompts) * 24 * time.Hour
	if settings.LastNotificationAt != nil && now.Sub(*settings.LastNotificationAt) < promptWindow {
		return QueueReasonNotifiedRecently
	}
	return QueueReasonOK
}

// selectQueueEntries scores, filters, sorts and truncates the candidates.
// Pure: the caller resolves the catalog and sales velocity first, so this
// is where the queue-size bound min(maxQueuePerDay, ceiling) is enforced.
func selectQueueEntries(products []*Product, sold map[string]int64, settings StockVerificationSettings, now time.Time) []QueueEntry {
	cfg := settings.RiskConfig()
	p90 := P90StockValue(products)

	// A product only re-enters the queue once twice the cooldown has passed
	// since its last count; inside that window even a high score is noise.
	cooldownCutoff := now.Add(-2 * time.Duration(settings.VerifyCooldownHours) * time.Hour)

	var entries []QueueEntry
	for _, product := range products {
		if product.LastVerifiedAt != nil && product.LastVerifiedAt.After(cooldownCutoff) {
			continue
		}
		stats := ProductStats{
			UnitsSoldInWindow: sold[product.ProductId],
			P90CatalogValue:   p90,
		}
		score := ScoreProductRisk(product, stats, now, cfg)
		if score < cfg.RiskThreshold {
			continue
		}
		entries = append(entries, QueueEntry{Product: product, Score: score})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		// Tie-break on stock value so the costlier drift gets counted first.
		return entries[i].Product.StockValue() > entries[j].Product.StockValue()
	})

	limit := settings.MaxQueuePerDay
	if ceiling := DynamicQueueCeiling(len(products)); ceiling < limit {
		limit = ceiling
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// BuildVerificationQueue produces today's cycle-count queue for a tenant.
// Guardrails run first, in order; the first one that trips returns an empty
// queue with its reason code. Survivors are risk-scored and the top few are
// kept — the whole point is low-noise micro-counting, not a full stocktake.
func BuildVerificationQueue(ctx context.Context, business *Business, now time.Time) (*VerificationQueue, error) {
	settings := business.StockVerification
	queue := &VerificationQueue{Settings: settings, Reason: QueueReasonOK}

	if reason := queueGuardReason(settings, now); reason != QueueReasonOK {
		queue.Reason = reason
		return queue, nil
	}

	products, err := GetProducts(ctx, business.ID.String())
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		queue.Reason = QueueReasonNoProducts
		return queue, nil
	}

	windowStart := now.Add(-time.Duration(settings.VelocityWindowDays) * 24 * time.Hour)
	sold, err := LoadSalesVelocity(ctx, business.ID.String(), windowStart)
	if err != nil {
		return nil, err
	}

	queue.Entries = selectQueueEntries(products, sold, settings, now)
	return queue, nil
}

// RunScheduledAuditScan is the scheduler entry point: build the queue and,
// when it has work, raise the (once per prompt window) notification.
func RunScheduledAuditScan(ctx context.Context, businessId string, now time.Time) (*VerificationQueue, error) {
	business, err := GetBusinessById(ctx, businessId)
	if err != nil {
		return nil, err
	}

	queue, err := BuildVerificationQueue(ctx, business, now)
	if err != nil {
		return nil, err
	}
	if queue.Reason != QueueReasonOK || len(queue.Entries) == 0 {
		return queue, nil
	}

	productIds := make([]string, 0, len(queue.Entries))
	for _, entry := range queue.Entries {
		productIds = append(productIds, entry.Product.ProductId)
	}
	_, err = CreateNotification(ctx, businessId, NotificationTypeVerificationQueue, NotificationPayload{
		"product_ids": productIds,
		"queue_size":  len(queue.Entries),
	})
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&Business{}).
		Where("id = ?", businessId).
		UpdateColumn("sv_last_notification_at", now).Error
	if err != nil {
		return nil, err
	}
	config.RemoveRedisKey("Business:" + businessId)

	return queue, nil
}
