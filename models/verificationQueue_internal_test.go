package models

import (
	"testing"
	"time"

	"github.com/mmdatafocus/shopledger_backend/utils"
)

func queueTestSettings() StockVerificationSettings {
	return StockVerificationSettings{
		Enabled:               utils.NewTrue(),
		MaxQueuePerDay:        10,
		MinDaysBetweenPrompts: 1,
		VerifyCooldownHours:   72,
		AgeHalfLifeDays:       30,
		VelocityWindowDays:    14,
		RiskDecayOnVerify:     0.6,
		HighVarianceBoost:     15,
		RiskThreshold:         35,
	}
}

// Never-verified product with a prior variance: age factor 1 plus the
// variance boost clears the default threshold regardless of value factor.
func riskyProduct(id string, stockUnits float64, priceUnits float64) *Product {
	return &Product{
		ProductId:     id,
		Name:          id,
		Stock:         utils.ToMilli(stockUnits),
		SellingPrice:  utils.ToMilli(priceUnits),
		VarianceCount: 1,
	}
}

func TestQueueGuardReasonOrder(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	settings := queueTestSettings()
	settings.Enabled = utils.NewFalse()
	settings.SnoozeUntil = &future
	settings.LastNotificationAt = &past
	if got := queueGuardReason(settings, now); got != QueueReasonDisabled {
		t.Errorf("disabled tenant: reason = %q, want %q", got, QueueReasonDisabled)
	}

	settings.Enabled = utils.NewTrue()
	if got := queueGuardReason(settings, now); got != QueueReasonSnoozed {
		t.Errorf("snoozed tenant: reason = %q, want %q", got, QueueReasonSnoozed)
	}

	settings.SnoozeUntil = &past
	if got := queueGuardReason(settings, now); got != QueueReasonNotifiedRecently {
		t.Errorf("recently notified tenant: reason = %q, want %q", got, QueueReasonNotifiedRecently)
	}

	old := now.Add(-25 * time.Hour)
	settings.LastNotificationAt = &old
	if got := queueGuardReason(settings, now); got != QueueReasonOK {
		t.Errorf("clear tenant: reason = %q, want %q", got, QueueReasonOK)
	}
}

func TestSelectQueueEntriesBound(t *testing.T) {
	now := time.Now()
	settings := queueTestSettings()

	var products []*Product
	for i := 0; i < 20; i++ {
		products = append(products, riskyProduct("prod-"+string(rune('a'+i)), 1, 0))
	}

	entries := selectQueueEntries(products, nil, settings, now)
	// Catalog of 20 caps the queue at the dynamic ceiling, below the
	// tenant's own maxQueuePerDay.
	if want := DynamicQueueCeiling(len(products)); len(entries) != want {
		t.Fatalf("queue length = %d, want ceiling %d", len(entries), want)
	}

	settings.MaxQueuePerDay = 3
	entries = selectQueueEntries(products, nil, settings, now)
	if len(entries) != 3 {
		t.Fatalf("queue length = %d, want maxQueuePerDay 3", len(entries))
	}
}

func TestSelectQueueEntriesFilters(t *testing.T) {
	now := time.Now()
	settings := queueTestSettings()
	recentCount := now.Add(-time.Hour)

	inCooldown := riskyProduct("in-cooldown", 1, 0)
	inCooldown.LastVerifiedAt = &recentCount

	belowThreshold := riskyProduct("below-threshold", 1, 0)
	belowThreshold.VarianceCount = 0

	due := riskyProduct("due", 1, 0)

	entries := selectQueueEntries([]*Product{inCooldown, belowThreshold, due}, nil, settings, now)
	if len(entries) != 1 {
		t.Fatalf("queue length = %d, want 1", len(entries))
	}
	if entries[0].Product.ProductId != "due" {
		t.Errorf("queued product = %q, want due", entries[0].Product.ProductId)
	}
}

func TestSelectQueueEntriesOrdering(t *testing.T) {
	now := time.Now()
	settings := queueTestSettings()

	// Eight low-value fillers push the p90 onto the smaller of the two
	// high-value products, so both score identically on the value factor
	// and the tie breaks on raw stock value.
	var products []*Product
	for i := 0; i < 8; i++ {
		products = append(products, riskyProduct("filler-"+string(rune('a'+i)), 1, 1))
	}
	bigSmaller := riskyProduct("big-smaller", 90, 1)
	bigLarger := riskyProduct("big-larger", 100, 1)
	products = append(products, bigSmaller, bigLarger)

	entries := selectQueueEntries(products, nil, settings, now)
	if len(entries) != 5 {
		t.Fatalf("queue length = %d, want 5", len(entries))
	}
	if entries[0].Product.ProductId != "big-larger" {
		t.Errorf("entries[0] = %q, want big-larger", entries[0].Product.ProductId)
	}
	if entries[1].Product.ProductId != "big-smaller" {
		t.Errorf("entries[1] = %q, want big-smaller", entries[1].Product.ProductId)
	}
	if entries[0].Score != entries[1].Score {
		t.Errorf("scores %d vs %d, want a tie broken by stock value",
			entries[0].Score, entries[1].Score)
	}
	for _, e := range entries[2:] {
		if e.Score > entries[1].Score {
			t.Errorf("filler %q outscored a high-value product", e.Product.ProductId)
		}
	}
}
