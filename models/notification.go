package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/shopledger_backend/config"
)

const (
	NotificationTypeVerificationQueue = "verification_queue"
	NotificationTypeStockVariance     = "stock_variance"
)

type NotificationPayload map[string]interface{}

func (p NotificationPayload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *NotificationPayload) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("unsupported type for NotificationPayload")
	}
}

// Notification is advisory, not authoritative: it exists to debounce repeat
// prompts. Losing one is harmless; re-raising within the debounce window is
// the failure mode being prevented.
type Notification struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	BusinessId  string              `gorm:"size:64;not null;index" json:"business_id"`
	Type        string              `gorm:"size:50;not null;index" json:"type"`
	Payload     NotificationPayload `gorm:"type:json" json:"payload"`
	CreatedAt   time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	DismissedAt *time.Time          `json:"dismissed_at"`
}

// HasNotificationWithin reports whether a notification of the given type was
// raised inside the window, dismissed or not.
func HasNotificationWithin(ctx context.Context, businessId string, notificationType string, window time.Duration) (bool, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&Notification{}).
		Where("business_id = ? AND type = ? AND created_at >= ?", businessId, notificationType, time.Now().Add(-window)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func CreateNotification(ctx context.Context, businessId string, notificationType string, payload NotificationPayload) (*Notification, error) {
	record := Notification{
		BusinessId: businessId,
		Type:       notificationType,
		Payload:    payload,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}
