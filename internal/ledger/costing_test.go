package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestWeightedAverageCost(t *testing.T) {
	got := WeightedAverageCost(5, decimal.NewFromInt(10), 5, decimal.NewFromInt(20))
	if !got.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected 15.00, got %s", got)
	}
}

func TestWeightedAverageCostZeroDenominatorFallsBack(t *testing.T) {
	unitCost := decimal.NewFromFloat(3.25)
	got := WeightedAverageCost(0, decimal.Zero, 0, unitCost)
	if !got.Equal(unitCost) {
		t.Fatalf("expected fallback to %s, got %s", unitCost, got)
	}
}

func TestWeightedAverageCostUnevenBlend(t *testing.T) {
	// 8 @ 12.50 + 2 @ 20.00 = (100 + 40) / 10 = 14.00
	got := WeightedAverageCost(8, decimal.NewFromFloat(12.5), 2, decimal.NewFromInt(20))
	if !got.Equal(decimal.NewFromInt(14)) {
		t.Fatalf("expected 14.00, got %s", got)
	}
}

func TestDiscountCapPolicy(t *testing.T) {
	cases := []struct {
		role   string
		hasGST bool
		want   float64
	}{
		{"admin", false, 12},
		{"admin", true, 7},
		{"salesman", false, 10},
		{"salesman", true, 5},
		{"", true, 5},
	}
	for _, tc := range cases {
		if got := DiscountCap(tc.role, tc.hasGST); got != tc.want {
			t.Fatalf("DiscountCap(%q, %t) = %v, want %v", tc.role, tc.hasGST, got, tc.want)
		}
	}
}

func TestClampDiscountPercent(t *testing.T) {
	if got := ClampDiscountPercent(50, 5); got != 5 {
		t.Fatalf("expected 50%% request to clamp to 5, got %v", got)
	}
	if got := ClampDiscountPercent(3, 5); got != 3 {
		t.Fatalf("expected 3%% to pass through, got %v", got)
	}
	if got := ClampDiscountPercent(-2, 5); got != 0 {
		t.Fatalf("expected negative request to clamp to 0, got %v", got)
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(decimal.NewFromFloat(10.005)); !got.Equal(decimal.NewFromFloat(10.01)) {
		t.Fatalf("expected 10.01, got %s", got)
	}
	if got := Round2(decimal.NewFromFloat(10.004)); !got.Equal(decimal.NewFromFloat(10.00)) {
		t.Fatalf("expected 10.00, got %s", got)
	}
}
