package utils_test

import (
	"testing"

	"github.com/mmdatafocus/shopledger_backend/utils"
)

func TestToMilliRounding(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{0, 0},
		{1, 1000},
		{2.5, 2500},
		{0.001, 1},
		{0.0004, 0},
		{-1.5, -1500},
		{12.3456, 12346},
	}
	for _, c := range cases {
		if got := utils.ToMilli(c.in); got != c.want {
			t.Errorf("ToMilli(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFromMilliRoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1, 2.5, 0.25, 100.125, -7.75} {
		if got := utils.FromMilli(utils.ToMilli(v)); got != v {
			t.Errorf("round trip of %v produced %v", v, got)
		}
	}
}

func TestMulMilli(t *testing.T) {
	// 2.5 units of a pack of 12 is 30 base units.
	got := utils.MulMilli(utils.ToMilli(2.5), utils.ToMilli(12))
	if got != utils.ToMilli(30) {
		t.Fatalf("2.5 x 12 = %d, want %d", got, utils.ToMilli(30))
	}

	// Fractional multipliers stay exact at milli precision:
	// 3 paint buckets at 0.04 bags each.
	got = utils.MulMilli(utils.ToMilli(3), utils.ToMilli(0.04))
	if got != 120 {
		t.Fatalf("3 x 0.04 = %d, want 120", got)
	}

	if got := utils.MulMilli(0, utils.ToMilli(12)); got != 0 {
		t.Fatalf("0 x 12 = %d, want 0", got)
	}
}

func TestAbsInt64(t *testing.T) {
	if utils.AbsInt64(-5) != 5 || utils.AbsInt64(5) != 5 || utils.AbsInt64(0) != 0 {
		t.Fatal("AbsInt64 misbehaves")
	}
}
