package models_test

import (
	"testing"

	"github.com/mmdatafocus/shopledger_backend/models"
)

func TestDynamicQueueCeiling(t *testing.T) {
	cases := []struct {
		catalogSize int
		want        int
	}{
		{0, 5},
		{500, 5},
		{999, 5},
		{1000, 8},
		{10000, 8},
		{10001, 12},
		{15000, 12},
		{40000, 12},
		{40001, 15},
		{250000, 15},
	}
	for _, c := range cases {
		if got := models.DynamicQueueCeiling(c.catalogSize); got != c.want {
			t.Errorf("DynamicQueueCeiling(%d) = %d, want %d", c.catalogSize, got, c.want)
		}
	}
}

func TestIsValidVerifyReason(t *testing.T) {
	for _, code := range []string{
		models.VerifyReasonCycleCount,
		models.VerifyReasonDamage,
		models.VerifyReasonTheft,
		models.VerifyReasonRecount,
		models.VerifyReasonOther,
	} {
		if !models.IsValidVerifyReason(code) {
			t.Errorf("expected %q to be a valid reason", code)
		}
	}
	for _, code := range []string{"", "shrug", "CYCLE_COUNT"} {
		if models.IsValidVerifyReason(code) {
			t.Errorf("expected %q to be rejected", code)
		}
	}
}
