package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/utils"
)

// Business is the tenant: it owns products, transactions, expenditures and
// the stock verification configuration. Staff devices authenticate as the
// business and sync against its ledger.
type Business struct {
	ID            uuid.UUID `gorm:"primary_key" json:"id"`
	Name          string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Email         string    `gorm:"size:255;not null" json:"email"`
	Phone         string    `gorm:"size:20" json:"phone"`
	Address       string    `gorm:"size:255" json:"address"`
	Country       string    `gorm:"size:100" json:"country"`
	Timezone      string    `gorm:"size:50" json:"timezone"`
	PinHash       string    `gorm:"size:100;not null" json:"-"`
	EmailVerified *bool     `gorm:"not null;default:false" json:"email_verified"`
	VerifyToken   string    `gorm:"size:64" json:"-"`
	IsActive      *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	StockVerification StockVerificationSettings `gorm:"embedded;embeddedPrefix:sv_" json:"stock_verification"`
}

// StockVerificationSettings are the tenant guardrails for the cycle-count
// queue. Read per request, resolved once, and passed into the pure scoring
// functions; nothing below the handler layer re-reads global state.
type StockVerificationSettings struct {
	Enabled               *bool      `gorm:"not null;default:true" json:"enabled"`
	MaxQueuePerDay        int        `gorm:"not null;default:5" json:"max_queue_per_day"`
	MinDaysBetweenPrompts int        `gorm:"not null;default:1" json:"min_days_between_prompts"`
	VerifyCooldownHours   int        `gorm:"not null;default:72" json:"verify_cooldown_hours"`
	AgeHalfLifeDays       int        `gorm:"not null;default:30" json:"age_half_life_days"`
	VelocityWindowDays    int        `gorm:"not null;default:14" json:"velocity_window_days"`
	RiskDecayOnVerify     float64    `gorm:"not null;default:0.6" json:"risk_decay_on_verify"`
	HighVarianceBoost     int        `gorm:"not null;default:15" json:"high_variance_boost"`
	RiskThreshold         int        `gorm:"not null;default:35" json:"risk_threshold"`
	SnoozeUntil           *time.Time `json:"snooze_until"`
	LastNotificationAt    *time.Time `json:"last_notification_at"`
}

func DefaultStockVerificationSettings() StockVerificationSettings {
	return StockVerificationSettings{
		Enabled:               utils.NewTrue(),
		MaxQueuePerDay:        5,
		MinDaysBetweenPrompts: 1,
		VerifyCooldownHours:   72,
		AgeHalfLifeDays:       30,
		VelocityWindowDays:    14,
		RiskDecayOnVerify:     0.6,
		HighVarianceBoost:     15,
		RiskThreshold:         35,
	}
}

type NewBusiness struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Phone    string `json:"phone"`
	Country  string `json:"country"`
	Timezone string `json:"timezone"`
	Pin      string `json:"pin" binding:"required"`
}

type NewStockVerificationSettings struct {
	Enabled               *bool    `json:"enabled" binding:"required"`
	MaxQueuePerDay        int      `json:"max_queue_per_day" binding:"required,min=1,max=50"`
	MinDaysBetweenPrompts int      `json:"min_days_between_prompts" binding:"required,min=1"`
	VerifyCooldownHours   int      `json:"verify_cooldown_hours" binding:"required,min=1"`
	AgeHalfLifeDays       int      `json:"age_half_life_days" binding:"required,min=1"`
	VelocityWindowDays    int      `json:"velocity_window_days" binding:"required,min=1"`
	RiskDecayOnVerify     *float64 `json:"risk_decay_on_verify" binding:"required,min=0,max=1"`
	HighVarianceBoost     *int     `json:"high_variance_boost" binding:"required,min=0,max=100"`
	RiskThreshold         *int     `json:"risk_threshold" binding:"required,min=0,max=100"`
}

func (business *Business) StoreRedis() error {
	return config.SetRedisObject("Business:"+fmt.Sprint(business.ID), business, 0)
}

func (business *Business) RemoveRedis() error {
	return config.RemoveRedisKey("Business:" + fmt.Sprint(business.ID))
}

func (input *NewBusiness) validate(ctx context.Context, id string) error {
	if err := utils.ValidateUnique[Business](ctx, "", "name", input.Name, id); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Business](ctx, "", "email", input.Email, id); err != nil {
		return err
	}
	if !utils.IsValidEmail(input.Email) {
		return utils.NewValidationError("invalid email")
	}
	if input.Phone != "" {
		country := input.Country
		if country == "" {
			country = utils.CountryCode
		}
		if err := utils.ValidatePhoneNumber(input.Phone, country); err != nil {
			return utils.NewValidationError("invalid phone number")
		}
		if err := utils.ValidateUnique[Business](ctx, "", "phone", input.Phone, id); err != nil {
			return err
		}
	}
	if !utils.IsValidPin(input.Pin) {
		return utils.NewValidationError("pin must be 4-8 digits")
	}
	return nil
}

// RegisterBusiness creates the tenant with default stock verification
// guardrails. Login is blocked until the email is verified.
func RegisterBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	if err := input.validate(ctx, ""); err != nil {
		return nil, err
	}

	pinHash, err := utils.HashPin(input.Pin)
	if err != nil {
		return nil, err
	}

	timezone := "Africa/Lagos"
	if input.Timezone != "" {
		timezone = input.Timezone
	}

	business := Business{
		ID:                uuid.New(),
		Name:              input.Name,
		Email:             strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:             input.Phone,
		Country:           input.Country,
		Timezone:          timezone,
		PinHash:           string(pinHash),
		EmailVerified:     utils.NewFalse(),
		VerifyToken:       strings.ReplaceAll(uuid.NewString(), "-", ""),
		IsActive:          utils.NewTrue(),
		StockVerification: DefaultStockVerificationSettings(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}

	business.StoreRedis()
	return &business, nil
}

var ErrorEmailNotVerified = errors.New("email not verified")

// LoginBusiness checks the PIN and returns a signed token. Unverified
// accounts are rejected so the client can show the verification prompt.
func LoginBusiness(ctx context.Context, email string, pin string) (*Business, string, error) {
	db := config.GetDB()

	var business Business
	err := db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&business).Error
	if err != nil {
		return nil, "", utils.ErrorRecordNotFound
	}

	if err := utils.ComparePin(business.PinHash, pin); err != nil {
		return nil, "", utils.NewValidationError("incorrect pin")
	}
	if !utils.DereferencePtr(business.EmailVerified) {
		return nil, "", ErrorEmailNotVerified
	}
	if !utils.DereferencePtr(business.IsActive) {
		return nil, "", utils.NewValidationError("account disabled")
	}

	token, err := utils.JwtGenerate(business.ID.String(), 1, business.Name)
	if err != nil {
		return nil, "", err
	}
	return &business, token, nil
}

// VerifyBusinessEmail consumes the emailed token.
func VerifyBusinessEmail(ctx context.Context, email string, token string) error {
	db := config.GetDB()

	var business Business
	err := db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&business).Error
	if err != nil {
		return utils.ErrorRecordNotFound
	}
	if business.VerifyToken == "" || business.VerifyToken != token {
		return utils.NewValidationError("invalid verification token")
	}

	err = db.WithContext(ctx).Model(&business).Updates(map[string]interface{}{
		"email_verified": true,
		"verify_token":   "",
	}).Error
	if err != nil {
		return err
	}

	business.RemoveRedis()
	return nil
}

// GetBusiness resolves the caller's tenant, Redis first.
func GetBusiness(ctx context.Context) (*Business, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return GetBusinessById(ctx, businessId)
}

func GetBusinessById(ctx context.Context, id string) (*Business, error) {
	var business Business
	if exists, err := config.GetRedisObject("Business:"+id, &business); err == nil && exists {
		return &business, nil
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Where("id = ?", id).First(&business).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	business.StoreRedis()
	return &business, nil
}

// SyncBusinessInput is the profile snapshot a device sends alongside a sync
// batch. Only the fields a shop owner edits on the device travel here; email
// and pin never change through sync.
type SyncBusinessInput struct {
	Name    string
	Address string
	Phone   string
}

// UpdateBusinessProfile applies the device's profile snapshot. Empty fields
// leave the stored value untouched.
func UpdateBusinessProfile(ctx context.Context, businessId string, input *SyncBusinessInput) error {
	business, err := GetBusinessById(ctx, businessId)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if input.Name != "" && input.Name != business.Name {
		if err := utils.ValidateUnique[Business](ctx, "", "name", input.Name, businessId); err != nil {
			return err
		}
		updates["name"] = input.Name
	}
	if input.Address != "" && input.Address != business.Address {
		updates["address"] = input.Address
	}
	if input.Phone != "" && input.Phone != business.Phone {
		country := business.Country
		if country == "" {
			country = utils.CountryCode
		}
		if err := utils.ValidatePhoneNumber(input.Phone, country); err != nil {
			return utils.NewValidationError("invalid phone number")
		}
		updates["phone"] = input.Phone
	}
	if len(updates) == 0 {
		return nil
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&Business{}).
		Where("id = ?", businessId).
		Updates(updates).Error
	if err != nil {
		return err
	}

	business.RemoveRedis()
	return nil
}

// UpdateStockVerificationSettings replaces the tenant guardrails. Snooze and
// notification bookkeeping survive a settings update.
func UpdateStockVerificationSettings(ctx context.Context, input *NewStockVerificationSettings) (*Business, error) {
	business, err := GetBusiness(ctx)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(business).Updates(map[string]interface{}{
		"sv_enabled":                  utils.DereferencePtr(input.Enabled),
		"sv_max_queue_per_day":        input.MaxQueuePerDay,
		"sv_min_days_between_prompts": input.MinDaysBetweenPrompts,
		"sv_verify_cooldown_hours":    input.VerifyCooldownHours,
		"sv_age_half_life_days":       input.AgeHalfLifeDays,
		"sv_velocity_window_days":     input.VelocityWindowDays,
		"sv_risk_decay_on_verify":     utils.DereferencePtr(input.RiskDecayOnVerify),
		"sv_high_variance_boost":      utils.DereferencePtr(input.HighVarianceBoost),
		"sv_risk_threshold":           utils.DereferencePtr(input.RiskThreshold),
	}).Error
	if err != nil {
		return nil, err
	}

	business.RemoveRedis()
	return GetBusinessById(ctx, business.ID.String())
}

// SnoozeVerification silences queue prompts for 24 hours.
func SnoozeVerification(ctx context.Context) (*Business, error) {
	business, err := GetBusiness(ctx)
	if err != nil {
		return nil, err
	}

	until := time.Now().Add(24 * time.Hour)
	db := config.GetDB()
	err = db.WithContext(ctx).Model(business).
		UpdateColumn("sv_snooze_until", until).Error
	if err != nil {
		return nil, err
	}

	business.RemoveRedis()
	return GetBusinessById(ctx, business.ID.String())
}

// clearVerificationSnooze runs after a completed count: the user is engaged,
// so prompting again is no longer noise.
func clearVerificationSnooze(ctx context.Context, businessId string) error {
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&Business{}).
		Where("id = ?", businessId).
		UpdateColumn("sv_snooze_until", nil).Error
	if err != nil {
		return err
	}
	return config.RemoveRedisKey("Business:" + businessId)
}
