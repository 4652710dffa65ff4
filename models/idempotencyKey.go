package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// FilterNewTransactionIds returns, for a batch of candidate sale ids, the
// subset not yet persisted for this tenant. It MUST run before any stock
// mutation for the batch, and the mutation plan must be derived only from
// the returned subset.
//
// Fail-closed: a lookup error aborts the whole batch. A failed read here
// must never turn into a deduction decision.
func FilterNewTransactionIds(ctx context.Context, tx *gorm.DB, businessId string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var existing []string
	err := tx.WithContext(ctx).Model(&Transaction{}).
		Where("business_id = ? AND transaction_id IN ?", businessId, ids).
		Pluck("transaction_id", &existing).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}

	// Preserve batch order; duplicate ids inside one batch count once.
	var fresh []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		fresh = append(fresh, id)
	}
	return fresh, nil
}

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

// IdempotencyKey provides durable, DB-backed idempotency for push handlers
// (Pub/Sub redelivers at-least-once).
// Unique constraint: (business_id, handler_name, message_id).
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	BusinessId  string            `gorm:"size:64;not null;index:uniq_idem,unique" json:"business_id"`
	HandlerName string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"handler_name"`
	MessageId   string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"message_id"`
	Status      IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	LastError   *string           `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// ClaimIdempotencyKey inserts a STARTED row for (business, handler, message).
// Returns false when the message was already claimed, i.e. a redelivery.
func ClaimIdempotencyKey(ctx context.Context, db *gorm.DB, businessId, handlerName, messageId string) (bool, error) {
	record := IdempotencyKey{
		BusinessId:  businessId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      IdempotencyStatusStarted,
	}
	err := db.WithContext(ctx).Create(&record).Error
	if err != nil {
		var count int64
		checkErr := db.WithContext(ctx).Model(&IdempotencyKey{}).
			Where("business_id = ? AND handler_name = ? AND message_id = ?", businessId, handlerName, messageId).
			Count(&count).Error
		if checkErr == nil && count > 0 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResolveIdempotencyKey records the terminal status of a claimed message.
func ResolveIdempotencyKey(ctx context.Context, db *gorm.DB, businessId, handlerName, messageId string, handlerErr error) error {
	update := map[string]interface{}{
		"status": IdempotencyStatusSucceeded,
	}
	if handlerErr != nil {
		msg := handlerErr.Error()
		update["status"] = IdempotencyStatusFailed
		update["last_error"] = msg
	}
	return db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("business_id = ? AND handler_name = ? AND message_id = ?", businessId, handlerName, messageId).
		Updates(update).Error
}
