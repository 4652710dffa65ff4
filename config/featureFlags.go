package config

import (
	"os"
	"strings"
)

// ClampStockAtZero switches the stock mutator from backorder mode (stock may
// go negative) to clamping at zero. Backorder mode is the default: a ledger
// that silently absorbs oversells hides shrinkage from the audit queue.
//
// Set via env:
// - CLAMP_STOCK_AT_ZERO=true
func ClampStockAtZero() bool {
	return envFlag("CLAMP_STOCK_AT_ZERO")
}

// PublishStockAlerts gates best-effort Pub/Sub publishing of variance alerts.
// Off in local/dev environments without GCP credentials.
//
// Set via env:
// - PUBLISH_STOCK_ALERTS=true
func PublishStockAlerts() bool {
	return envFlag("PUBLISH_STOCK_ALERTS")
}

func envFlag(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
