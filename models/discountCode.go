package models

import (
	"time"

	"gorm.io/gorm"
)

// DiscountCode is marked used in the same DB transaction that commits the
// sale referencing it, and only when the sale's id is new. A retried sync of
// an already-applied sale therefore cannot re-consume the code.
type DiscountCode struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;not null;uniqueIndex:uniq_biz_code,priority:1" json:"business_id"`
	CodeId     string `gorm:"size:64;not null;uniqueIndex:uniq_biz_code,priority:2" json:"code_id"`

	Code                string     `gorm:"size:50;not null" json:"code"`
	Percent             int        `gorm:"not null;default:0" json:"percent"`
	Used                *bool      `gorm:"not null;default:false" json:"used"`
	UsedByTransactionId *string    `gorm:"size:64;default:null" json:"used_by_transaction_id"`
	UsedAt              *time.Time `json:"used_at"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// markDiscountCodeUsed links the code to the transaction that consumed it.
// Runs inside the sale's DB transaction; a rollback releases the code.
func markDiscountCodeUsed(tx *gorm.DB, businessId string, codeId string, transactionId string, usedAt time.Time) error {
	return tx.Model(&DiscountCode{}).
		Where("business_id = ? AND code_id = ? AND used = ?", businessId, codeId, false).
		Updates(map[string]interface{}{
			"used":                   true,
			"used_by_transaction_id": transactionId,
			"used_at":                usedAt,
		}).Error
}
