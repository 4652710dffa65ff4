package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/shopledger_backend/config"
)

// Expenditure is a client-recorded cost entry. Synced with the same
// (tenant, client id) upsert key as transactions; it never touches stock.
type Expenditure struct {
	ID            int    `gorm:"primary_key" json:"id"`
	BusinessId    string `gorm:"size:64;not null;uniqueIndex:uniq_biz_exp,priority:1" json:"business_id"`
	ExpenditureId string `gorm:"size:64;not null;uniqueIndex:uniq_biz_exp,priority:2" json:"expenditure_id"`

	Description string    `gorm:"size:255" json:"description"`
	Category    string    `gorm:"size:100" json:"category"`
	Amount      int64     `gorm:"not null;default:0" json:"amount"`
	Timestamp   time.Time `gorm:"index;not null" json:"timestamp"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetExpenditures(ctx context.Context, businessId string) ([]*Expenditure, error) {
	db := config.GetDB()
	var expenditures []*Expenditure
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("timestamp DESC").
		Find(&expenditures).Error
	if err != nil {
		return nil, err
	}
	return expenditures, nil
}
