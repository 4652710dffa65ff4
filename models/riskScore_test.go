package models_test

import (
	"testing"
	"time"

	"github.com/mmdatafocus/shopledger_backend/models"
	"github.com/mmdatafocus/shopledger_backend/utils"
)

func testRiskConfig() models.RiskConfig {
	return models.RiskConfig{
		AgeHalfLifeDays:    30,
		VelocityWindowDays: 14,
		HighVarianceBoost:  15,
		RiskDecayOnVerify:  0.6,
		RiskThreshold:      35,
	}
}

func TestScoreProductRiskBounds(t *testing.T) {
	now := time.Now()
	cfg := testRiskConfig()

	// Everything at its worst: old, fast-moving, valuable, hand-edited,
	// with a prior variance. Must clamp at 100.
	worst := &models.Product{
		ProductId:         "worst",
		Stock:             utils.ToMilli(500),
		SellingPrice:      utils.ToMilli(1000),
		RecentManualEdits: 10,
		LastAbsVariance:   utils.ToMilli(10),
		VarianceCount:     4,
	}
	stats := models.ProductStats{
		UnitsSoldInWindow: utils.ToMilli(100),
		P90CatalogValue:   worst.StockValue(),
	}
	if got := models.ScoreProductRisk(worst, stats, now, cfg); got != 100 {
		t.Fatalf("worst-case score = %d, want 100", got)
	}

	// Freshly counted, nothing moving, worthless: floor at 0.
	verified := now.Add(-time.Minute)
	best := &models.Product{
		ProductId:      "best",
		LastVerifiedAt: &verified,
	}
	if got := models.ScoreProductRisk(best, models.ProductStats{}, now, cfg); got != 0 {
		t.Fatalf("best-case score = %d, want 0", got)
	}
}

func TestScoreProductRiskNeverVerified(t *testing.T) {
	now := time.Now()
	cfg := testRiskConfig()

	never := &models.Product{ProductId: "p"}
	verified := now.Add(-time.Duration(cfg.AgeHalfLifeDays) * 24 * time.Hour)
	atHalfLife := &models.Product{ProductId: "p", LastVerifiedAt: &verified}

	// A product that has never been counted scores like one whose count is
	// a full half-life old, not like a fresh one.
	if models.ScoreProductRisk(never, models.ProductStats{}, now, cfg) !=
		models.ScoreProductRisk(atHalfLife, models.ProductStats{}, now, cfg) {
		t.Fatal("never-verified product should score at the top of the age scale")
	}
	if got := models.ScoreProductRisk(never, models.ProductStats{}, now, cfg); got != 32 {
		t.Fatalf("never-verified, otherwise idle product = %d, want 32 (pure age weight)", got)
	}
}

func TestScoreProductRiskHighVarianceBoost(t *testing.T) {
	now := time.Now()
	cfg := testRiskConfig()
	verified := now.Add(-time.Minute)

	clean := &models.Product{ProductId: "p", LastVerifiedAt: &verified}
	flagged := &models.Product{ProductId: "p", LastVerifiedAt: &verified, VarianceCount: 1}

	base := models.ScoreProductRisk(clean, models.ProductStats{}, now, cfg)
	boosted := models.ScoreProductRisk(flagged, models.ProductStats{}, now, cfg)
	// VarianceCount alone triggers the boost; with LastAbsVariance=0 the
	// prior-variance factor contributes nothing.
	if boosted != base+cfg.HighVarianceBoost {
		t.Fatalf("boost = %d, want %d", boosted-base, cfg.HighVarianceBoost)
	}
}

func TestDecayRisk(t *testing.T) {
	if got := models.DecayRisk(80, 0.6); got != 32 {
		t.Fatalf("DecayRisk(80, 0.6) = %d, want 32", got)
	}
	if got := models.DecayRisk(0, 0.6); got != 0 {
		t.Fatalf("DecayRisk(0) = %d, want 0", got)
	}
	if got := models.DecayRisk(100, 0); got != 100 {
		t.Fatalf("DecayRisk with zero decay = %d, want 100", got)
	}
	if got := models.DecayRisk(100, 1); got != 0 {
		t.Fatalf("DecayRisk with full decay = %d, want 0", got)
	}
}

func TestP90StockValue(t *testing.T) {
	if got := models.P90StockValue(nil); got != 0 {
		t.Fatalf("empty catalog = %d, want 0", got)
	}

	products := make([]*models.Product, 0, 10)
	for i := 1; i <= 10; i++ {
		products = append(products, &models.Product{
			Stock:        utils.ToMilli(1),
			SellingPrice: utils.ToMilli(float64(i * 100)),
		})
	}
	// Nearest rank: ceil(0.9*10) = 9th smallest of 100..1000.
	if got := models.P90StockValue(products); got != utils.ToMilli(900) {
		t.Fatalf("p90 of 100..1000 = %d, want %d", got, utils.ToMilli(900))
	}

	single := []*models.Product{{Stock: utils.ToMilli(2), SellingPrice: utils.ToMilli(50)}}
	if got := models.P90StockValue(single); got != utils.ToMilli(100) {
		t.Fatalf("p90 of single product = %d, want %d", got, utils.ToMilli(100))
	}
}
