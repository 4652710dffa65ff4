package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/utils"
	"gorm.io/gorm"
)

// TransactionItem is one line of a sale. Quantity, Multiplier, UnitPrice are
// milli-scaled; the stock deduction for the line is quantity × multiplier.
type TransactionItem struct {
	ProductId  string `json:"productId"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
	UnitName   string `json:"unitName"`
	Multiplier int64  `json:"multiplier"`
	UnitPrice  int64  `json:"unitPrice"`
}

type TransactionItemList []TransactionItem

func (l TransactionItemList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *TransactionItemList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("unsupported type for TransactionItemList")
	}
}

// Transaction is a committed sale. TransactionId is the client-generated
// idempotency key: once a row with this id exists, the sale's stock
// deductions are never applied again.
type Transaction struct {
	ID            int    `gorm:"primary_key" json:"id"`
	BusinessId    string `gorm:"size:64;not null;uniqueIndex:uniq_biz_txn,priority:1" json:"business_id"`
	TransactionId string `gorm:"size:64;not null;uniqueIndex:uniq_biz_txn,priority:2" json:"transaction_id"`

	Items          TransactionItemList `gorm:"type:json" json:"items"`
	Total          int64               `gorm:"not null;default:0" json:"total"`
	PaymentMethod  string              `gorm:"size:50" json:"payment_method"`
	DiscountCodeId *string             `gorm:"size:64;default:null" json:"discount_code_id"`
	Timestamp      time.Time           `gorm:"index;not null" json:"timestamp"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetTransaction(ctx context.Context, businessId string, transactionId string) (*Transaction, error) {
	db := config.GetDB()
	var txn Transaction
	err := db.WithContext(ctx).
		Where("business_id = ? AND transaction_id = ?", businessId, transactionId).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func GetTransactions(ctx context.Context, businessId string) ([]*Transaction, error) {
	db := config.GetDB()
	var txns []*Transaction
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("timestamp DESC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// GetTransactionsSince returns sales inside the velocity window, newest first.
func GetTransactionsSince(ctx context.Context, businessId string, since time.Time) ([]*Transaction, error) {
	db := config.GetDB()
	var txns []*Transaction
	err := db.WithContext(ctx).
		Where("business_id = ? AND timestamp >= ?", businessId, since).
		Order("timestamp DESC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}
