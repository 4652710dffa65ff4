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

// ProductUnit is an alternate selling unit (e.g. carton) with its own
// conversion factor back to the base stock unit. Multiplier and Price are
// milli-scaled (see utils.FixedPointScale).
type ProductUnit struct {
	Name       string `json:"name"`
	Multiplier int64  `json:"multiplier"`
	Price      int64  `json:"price"`
}

type ProductUnitList []ProductUnit

func (l ProductUnitList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *ProductUnitList) Scan(value interface{}) error {
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
		return errors.New("unsupported type for ProductUnitList")
	}
}

// Product is one row of the per-tenant stock ledger. Stock is the
// authoritative quantity-on-hand in milli base units; it only ever changes
// through AdjustProductStock or ApplyVerifiedCount.
type Product struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;not null;uniqueIndex:uniq_biz_product,priority:1" json:"business_id"`
	ProductId  string `gorm:"size:64;not null;uniqueIndex:uniq_biz_product,priority:2" json:"product_id"`

	Name         string          `gorm:"size:255;not null" json:"name"`
	Category     string          `gorm:"size:100;index" json:"category"`
	BaseUnit     string          `gorm:"size:50" json:"base_unit"`
	Stock        int64           `gorm:"not null;default:0" json:"stock"`
	SellingPrice int64           `gorm:"not null;default:0" json:"selling_price"`
	CostPrice    int64           `gorm:"not null;default:0" json:"cost_price"`
	Units        ProductUnitList `gorm:"type:json" json:"units"`

	LastVerifiedAt    *time.Time `gorm:"index" json:"last_verified_at"`
	LastVerifiedQty   int64      `gorm:"not null;default:0" json:"last_verified_qty"`
	LastAbsVariance   int64      `gorm:"not null;default:0" json:"last_abs_variance"`
	VarianceCount     int        `gorm:"not null;default:0" json:"variance_count"`
	IsManualUpdate    *bool      `gorm:"not null;default:false" json:"is_manual_update"`
	RecentManualEdits int        `gorm:"not null;default:0" json:"recent_manual_edits"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetProduct(ctx context.Context, businessId string, productId string) (*Product, error) {
	db := config.GetDB()
	var product Product
	err := db.WithContext(ctx).
		Where("business_id = ? AND product_id = ?", businessId, productId).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}

func GetProducts(ctx context.Context, businessId string) ([]*Product, error) {
	db := config.GetDB()
	var products []*Product
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("name ASC").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// UnitMultiplier resolves a unit name to its milli-scaled conversion factor.
// Unknown or empty unit names fall back to the base unit (1.0).
func (p *Product) UnitMultiplier(unitName string) int64 {
	if unitName == "" || unitName == p.BaseUnit {
		return utils.FixedPointScale
	}
	for _, u := range p.Units {
		if u.Name == unitName {
			return u.Multiplier
		}
	}
	return utils.FixedPointScale
}

// StockValue is stock × selling price, used by the risk scorer's value factor.
func (p *Product) StockValue() int64 {
	return utils.MulMilli(p.Stock, p.SellingPrice)
}
