package models

import (
	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/utils"
	"gorm.io/gorm"
)

// AdjustProductStock applies a signed milli-quantity delta to a product's
// stock as a single atomic UPDATE. Every concurrent sale/refund/restock path
// routes through here: read-modify-write on the stock column is forbidden
// because two devices can read the same stale value and commit an incorrect
// absolute. The database serializes the increments, so deltas compose
// correctly regardless of arrival order.
//
// With CLAMP_STOCK_AT_ZERO unset (the default), stock may go negative; an
// oversold ledger is visible shrinkage rather than silently absorbed.
func AdjustProductStock(tx *gorm.DB, businessId string, productId string, deltaMilli int64) error {
	if deltaMilli == 0 {
		return nil
	}

	expr := gorm.Expr("stock + ?", deltaMilli)
	if config.ClampStockAtZero() {
		expr = gorm.Expr("GREATEST(stock + ?, 0)", deltaMilli)
	}

	res := tx.Model(&Product{}).
		Where("business_id = ? AND product_id = ?", businessId, productId).
		UpdateColumn("stock", expr)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// DeductionForItem is the stock delta a sale line causes: -(qty × multiplier).
func DeductionForItem(item TransactionItem) int64 {
	return -utils.MulMilli(item.Quantity, item.Multiplier)
}
