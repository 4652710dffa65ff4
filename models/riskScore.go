package models

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/mmdatafocus/shopledger_backend/utils"
)

// RiskConfig is the resolved, immutable slice of the tenant's settings the
// scorer needs. Callers build it once per request; the scorer never reads
// global state.
type RiskConfig struct {
	AgeHalfLifeDays    int
	VelocityWindowDays int
	HighVarianceBoost  int
	RiskDecayOnVerify  float64
	RiskThreshold      int
}

func (s StockVerificationSettings) RiskConfig() RiskConfig {
	return RiskConfig{
		AgeHalfLifeDays:    s.AgeHalfLifeDays,
		VelocityWindowDays: s.VelocityWindowDays,
		HighVarianceBoost:  s.HighVarianceBoost,
		RiskDecayOnVerify:  s.RiskDecayOnVerify,
		RiskThreshold:      s.RiskThreshold,
	}
}

// ProductStats carries the catalog-level aggregates a single product cannot
// know about itself.
type ProductStats struct {
	// UnitsSoldInWindow is milli base units deducted by sales inside the
	// velocity window.
	UnitsSoldInWindow int64
	// P90CatalogValue is the 90th percentile stock value (milli currency)
	// across the tenant's catalog.
	P90CatalogValue int64
}

// Weights of the risk factors. Age dominates: the longer since a physical
// count, the less the ledger can be trusted.
const (
	riskWeightAge           = 0.32
	riskWeightVelocity      = 0.24
	riskWeightValue         = 0.18
	riskWeightManualEdits   = 0.14
	riskWeightPriorVariance = 0.12
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ScoreProductRisk estimates, on a 0-100 scale, how likely the product's
// ledger value has drifted from physical reality.
func ScoreProductRisk(product *Product, stats ProductStats, now time.Time, cfg RiskConfig) int {
	halfLife := float64(cfg.AgeHalfLifeDays)
	if halfLife <= 0 {
		halfLife = 30
	}

	// Never verified counts as a full half-life: unaudited stock starts at
	// the top of the age scale rather than the bottom.
	daysSinceVerified := halfLife
	if product.LastVerifiedAt != nil {
		daysSinceVerified = now.Sub(*product.LastVerifiedAt).Hours() / 24
	}
	ageFactor := clamp01(daysSinceVerified / halfLife)

	unitsSold := float64(stats.UnitsSoldInWindow) / utils.FixedPointScale
	velocityFactor := clamp01(unitsSold / 10)

	valueFactor := 0.0
	if stats.P90CatalogValue > 0 {
		valueFactor = clamp01(float64(product.StockValue()) / float64(stats.P90CatalogValue))
	}

	manualEditsFactor := clamp01(float64(product.RecentManualEdits) / 3)

	lastAbsVariance := float64(product.LastAbsVariance) / utils.FixedPointScale
	priorVarianceFactor := clamp01(lastAbsVariance / 3)

	weighted := riskWeightAge*ageFactor +
		riskWeightVelocity*velocityFactor +
		riskWeightValue*valueFactor +
		riskWeightManualEdits*manualEditsFactor +
		riskWeightPriorVariance*priorVarianceFactor

	risk := int(math.Round(weighted * 100))

	if product.VarianceCount > 0 || lastAbsVariance >= 3 {
		risk += cfg.HighVarianceBoost
	}

	if risk < 0 {
		return 0
	}
	if risk > 100 {
		return 100
	}
	return risk
}

// DecayRisk applies the post-verification decay: a fresh count restores
// trust in the ledger proportionally to riskDecayOnVerify.
func DecayRisk(riskBefore int, riskDecayOnVerify float64) int {
	after := int(math.Round(float64(riskBefore) * (1 - riskDecayOnVerify)))
	if after < 0 {
		return 0
	}
	if after > 100 {
		return 100
	}
	return after
}

// LoadSalesVelocity sums milli base units sold per product inside the
// window. Line items live in a JSON column, so the fold happens in Go.
func LoadSalesVelocity(ctx context.Context, businessId string, since time.Time) (map[string]int64, error) {
	transactions, err := GetTransactionsSince(ctx, businessId, since)
	if err != nil {
		return nil, err
	}

	sold := make(map[string]int64)
	for _, txn := range transactions {
		for _, item := range txn.Items {
			sold[item.ProductId] += utils.MulMilli(item.Quantity, item.Multiplier)
		}
	}
	return sold, nil
}

// P90StockValue is the 90th percentile of stock × selling price across the
// catalog, nearest-rank method.
func P90StockValue(products []*Product) int64 {
	if len(products) == 0 {
		return 0
	}
	values := make([]int64, 0, len(products))
	for _, p := range products {
		values = append(values, p.StockValue())
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	rank := int(math.Ceil(0.9*float64(len(values)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return values[rank]
}
