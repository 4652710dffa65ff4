package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/utils"
	"gorm.io/gorm"
)

// Reason codes a physical count can carry.
const (
	VerifyReasonCycleCount = "cycle_count"
	VerifyReasonDamage     = "damage"
	VerifyReasonTheft      = "theft"
	VerifyReasonRecount    = "recount"
	VerifyReasonOther      = "other"
)

func IsValidVerifyReason(code string) bool {
	switch code {
	case VerifyReasonCycleCount, VerifyReasonDamage, VerifyReasonTheft, VerifyReasonRecount, VerifyReasonOther:
		return true
	}
	return false
}

// StockVerificationEvent is the audit trail of physical counts. Append-only:
// rows are never updated or deleted, even when the count itself was wrong —
// a correction is a new count.
type StockVerificationEvent struct {
	ID          string    `gorm:"size:36;primary_key" json:"id"` // uuid
	BusinessId  string    `gorm:"size:64;not null;index:idx_sv_event_biz_product,priority:1" json:"business_id"`
	ProductId   string    `gorm:"size:64;not null;index:idx_sv_event_biz_product,priority:2" json:"product_id"`
	ExpectedQty int64     `gorm:"not null" json:"expected_qty"`
	CountedQty  int64     `gorm:"not null" json:"counted_qty"`
	Variance    int64     `gorm:"not null" json:"variance"`
	ReasonCode  string    `gorm:"size:30;not null" json:"reason_code"`
	VerifiedBy  string    `gorm:"size:100" json:"verified_by"`
	RiskBefore  int       `gorm:"not null" json:"risk_before"`
	RiskAfter   int       `gorm:"not null" json:"risk_after"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

type NewVerifiedCount struct {
	ProductId              string
	CountedQty             int64
	ExpectedQtyAtOpen      int64
	ReasonCode             string
	ConfirmChangedExpected bool
	VerifiedBy             string
}

type VerifiedCountResult struct {
	Product     *Product
	Event       *StockVerificationEvent
	ExpectedQty int64
	CountedQty  int64
	Variance    int64
	RiskBefore  int
	RiskAfter   int
}

// ApplyVerifiedCount reconciles a physical count against the ledger.
//
// The client counted against the expected quantity it saw when it opened the
// count sheet. If the ledger has moved since (a sale synced meanwhile), the
// count was taken against a stale baseline: reject with a conflict unless
// the user explicitly confirmed the new expected value. The stock write
// itself re-checks the expected value (UPDATE ... WHERE stock = expected) so
// a delta landing between our read and our write also surfaces as a
// conflict instead of silently clobbering it.
func ApplyVerifiedCount(ctx context.Context, businessId string, input *NewVerifiedCount) (*VerifiedCountResult, error) {
	if input.ProductId == "" {
		return nil, utils.NewValidationError("productId is required")
	}
	if !IsValidVerifyReason(input.ReasonCode) {
		return nil, utils.NewValidationError("unknown reason code")
	}

	business, err := GetBusinessById(ctx, businessId)
	if err != nil {
		return nil, err
	}
	product, err := GetProduct(ctx, businessId, input.ProductId)
	if err != nil {
		return nil, err
	}

	expectedNow := product.Stock
	if expectedNow != input.ExpectedQtyAtOpen && !input.ConfirmChangedExpected {
		return nil, utils.ErrorStaleExpectedQty
	}

	now := time.Now()
	cfg := business.StockVerification.RiskConfig()
	windowStart := now.Add(-time.Duration(cfg.VelocityWindowDays) * 24 * time.Hour)
	sold, err := LoadSalesVelocity(ctx, businessId, windowStart)
	if err != nil {
		return nil, err
	}
	products, err := GetProducts(ctx, businessId)
	if err != nil {
		return nil, err
	}
	stats := ProductStats{
		UnitsSoldInWindow: sold[product.ProductId],
		P90CatalogValue:   P90StockValue(products),
	}

	variance := input.CountedQty - expectedNow
	riskBefore := ScoreProductRisk(product, stats, now, cfg)
	riskAfter := DecayRisk(riskBefore, cfg.RiskDecayOnVerify)

	event := &StockVerificationEvent{
		ID:          uuid.NewString(),
		BusinessId:  businessId,
		ProductId:   input.ProductId,
		ExpectedQty: expectedNow,
		CountedQty:  input.CountedQty,
		Variance:    variance,
		ReasonCode:  input.ReasonCode,
		VerifiedBy:  input.VerifiedBy,
		RiskBefore:  riskBefore,
		RiskAfter:   riskAfter,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := map[string]interface{}{
			"last_verified_at":    now,
			"last_verified_qty":   input.CountedQty,
			"is_manual_update":    false,
			"recent_manual_edits": 0,
		}
		if variance != 0 {
			update["stock"] = input.CountedQty
			update["last_abs_variance"] = utils.AbsInt64(variance)
			update["variance_count"] = gorm.Expr("variance_count + 1")
		}

		// Expected-value check on the write: a concurrent sale between our
		// read and this UPDATE makes the count stale after all.
		res := tx.Model(&Product{}).
			Where("business_id = ? AND product_id = ? AND stock = ?", businessId, input.ProductId, expectedNow).
			Updates(update)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrorStaleExpectedQty
		}

		return tx.Create(event).Error
	})
	if err != nil {
		return nil, err
	}

	if err := clearVerificationSnooze(ctx, businessId); err != nil {
		config.LogError(config.GetLogger(), "stockVerification.go", "ApplyVerifiedCount", "clearVerificationSnooze", businessId, err)
	}

	if variance != 0 {
		raiseVarianceNotification(ctx, business, product, event)
	}

	result := &VerifiedCountResult{
		Product:     product,
		Event:       event,
		ExpectedQty: expectedNow,
		CountedQty:  input.CountedQty,
		Variance:    variance,
		RiskBefore:  riskBefore,
		RiskAfter:   riskAfter,
	}
	return result, nil
}

// raiseVarianceNotification debounces to one per 24h per tenant and
// publishes a best-effort Pub/Sub alert. Neither failure affects the count.
func raiseVarianceNotification(ctx context.Context, business *Business, product *Product, event *StockVerificationEvent) {
	logger := config.GetLogger()
	businessId := business.ID.String()

	recent, err := HasNotificationWithin(ctx, businessId, NotificationTypeStockVariance, 24*time.Hour)
	if err != nil {
		config.LogError(logger, "stockVerification.go", "raiseVarianceNotification", "HasNotificationWithin", businessId, err)
		return
	}
	if recent {
		return
	}

	_, err = CreateNotification(ctx, businessId, NotificationTypeStockVariance, NotificationPayload{
		"product_id":   event.ProductId,
		"product_name": product.Name,
		"variance":     utils.FromMilli(event.Variance),
	})
	if err != nil {
		config.LogError(logger, "stockVerification.go", "raiseVarianceNotification", "CreateNotification", businessId, err)
		return
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	_, err = config.PublishStockAlert(ctx, config.StockAlertMessage{
		BusinessId:    businessId,
		ProductId:     event.ProductId,
		ProductName:   product.Name,
		ExpectedQty:   utils.FromMilli(event.ExpectedQty),
		CountedQty:    utils.FromMilli(event.CountedQty),
		Variance:      utils.FromMilli(event.Variance),
		ReasonCode:    event.ReasonCode,
		VerifiedBy:    event.VerifiedBy,
		VerifiedAt:    event.CreatedAt,
		CorrelationId: correlationId,
	})
	if err != nil {
		config.LogError(logger, "stockVerification.go", "raiseVarianceNotification", "PublishStockAlert", businessId, err)
	}
}

// GetVerificationEvents returns the audit trail, newest first.
func GetVerificationEvents(ctx context.Context, businessId string, limit int) ([]*StockVerificationEvent, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("created_at DESC")
	if limit > 0 {
		dbCtx = dbCtx.Limit(limit)
	}
	var events []*StockVerificationEvent
	if err := dbCtx.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
