package pricing

import (
	"math"
	"testing"
)

func TestFlatModel(t *testing.T) {
	item := LineItem{Quantity: 5, UnitPrice: 2_000, Model: ModelFlat}
	if got := Resolve(item); got != 10_000 {
		t.Fatalf("expected 10000, got %d", got)
	}
}

func TestFlatModelEmbeddedDiscount(t *testing.T) {
	item := LineItem{
		Quantity:  10,
		UnitPrice: 1_000,
		Model:     ModelFlat,
		Discount:  &ItemDiscount{PercentBps: 1_000, Fixed: 500},
	}
	// 10000 - 10% - 500 = 8500.
	if got := Resolve(item); got != 8_500 {
		t.Fatalf("expected 8500, got %d", got)
	}
}

func TestTieredModel(t *testing.T) {
	item := LineItem{
		Quantity:  15,
		UnitPrice: 1_200,
		Model:     ModelTiered,
		Tiers: []Tier{
			{MinQuantity: 1, MaxQuantity: 10, Rate: 1_000},
			{MinQuantity: 11, MaxQuantity: 0, Rate: 800},
		},
	}
	// 10*1000 + 5*800 = 14000.
	if got := Resolve(item); got != 14_000 {
		t.Fatalf("expected 14000, got %d", got)
	}
}

func TestTieredOverflowFallsBackToBasePrice(t *testing.T) {
	item := LineItem{
		Quantity:  15,
		UnitPrice: 1_200,
		Model:     ModelTiered,
		Tiers: []Tier{
			{MinQuantity: 1, MaxQuantity: 10, Rate: 1_000},
		},
	}
	// 10 units at the tier rate, 5 beyond all tiers at the base unit price.
	if got := Resolve(item); got != 10*1_000+5*1_200 {
		t.Fatalf("expected 16000, got %d", got)
	}
}

func TestUsageModel(t *testing.T) {
	item := LineItem{
		Model: ModelUsage,
		Usage: &UsageParams{BaseRate: 5_000, UsageRate: 10, Usage: 250},
	}
	if got := Resolve(item); got != 7_500 {
		t.Fatalf("expected 7500, got %d", got)
	}
}

func TestUsageMinimumCharge(t *testing.T) {
	item := LineItem{
		Model: ModelUsage,
		Usage: &UsageParams{BaseRate: 1_000, UsageRate: 10, Usage: 5, MinimumCharge: 2_500},
	}
	if got := Resolve(item); got != 2_500 {
		t.Fatalf("expected minimum charge 2500, got %d", got)
	}
}

func TestTimeModelOvertime(t *testing.T) {
	item := LineItem{
		Quantity:  45,
		UnitPrice: 10_000,
		Model:     ModelTime,
	}
	// 40h regular + 5h at 1.5x.
	if got := Resolve(item); got != 40*10_000+5*15_000 {
		t.Fatalf("expected 475000, got %d", got)
	}
}

func TestTimeModelRushMultiplier(t *testing.T) {
	item := LineItem{
		Quantity:  10,
		UnitPrice: 10_000,
		Model:     ModelTime,
		Time:      &TimeParams{RegularThreshold: 40, RushMultiplier: 2},
	}
	if got := Resolve(item); got != 200_000 {
		t.Fatalf("expected 200000, got %d", got)
	}
}

func TestValueModel(t *testing.T) {
	item := LineItem{
		Model: ModelValue,
		Value: &ValueParams{BaseValue: 100_000, SuccessMultiplier: 1.2, RiskAdjustment: -5_000},
	}
	if got := Resolve(item); got != 115_000 {
		t.Fatalf("expected 115000, got %d", got)
	}
}

func TestInvalidInputsCoerceToZero(t *testing.T) {
	cases := []LineItem{
		{Quantity: -3, UnitPrice: 1_000, Model: ModelFlat},
		{Quantity: math.NaN(), UnitPrice: 1_000, Model: ModelFlat},
		{Quantity: math.Inf(1), UnitPrice: 1_000, Model: ModelFlat},
		{Quantity: 3, UnitPrice: -1_000, Model: ModelFlat},
	}
	for i, item := range cases {
		if got := Resolve(item); got != 0 {
			t.Fatalf("case %d: expected 0, got %d", i, got)
		}
	}
}

func TestUnknownModelPricesFlat(t *testing.T) {
	if ParseModel("mystery") != ModelFlat {
		t.Fatal("unknown model strings must parse as flat")
	}
}

func TestMargin(t *testing.T) {
	profit, bps := Margin(10_000, 6_000)
	if profit != 4_000 {
		t.Fatalf("expected profit 4000, got %d", profit)
	}
	if bps != 4_000 {
		t.Fatalf("expected 40%% margin, got %d bps", bps)
	}
}
