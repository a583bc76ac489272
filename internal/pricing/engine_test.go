package pricing

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quotelab/pricing-api/internal/discount"
	"github.com/quotelab/pricing-api/internal/recurrence"
	"github.com/quotelab/pricing-api/internal/tax"
)

func testEngine() Engine {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	return Engine{
		Discounts: discount.Engine{Now: func() time.Time { return now }},
		Now:       func() time.Time { return now },
	}
}

func TestCalculateEndToEnd(t *testing.T) {
	cart := Cart{
		Currency: "USD",
		Items: []LineItem{
			{ID: uuid.New(), Quantity: 5, UnitPrice: 2_000, Model: ModelFlat, Taxable: true},
		},
	}
	res := testEngine().Calculate(cart, nil, tax.Context{Mode: tax.ModeExclusive, JurisdictionRateBps: 800})
	if res.Subtotal != 10_000 {
		t.Fatalf("expected subtotal 10000, got %d", res.Subtotal)
	}
	if res.TaxAmount != 800 {
		t.Fatalf("expected tax 800, got %d", res.TaxAmount)
	}
	if res.Total != 10_800 {
		t.Fatalf("expected total 10800, got %d", res.Total)
	}
}

func TestCalculateIdempotent(t *testing.T) {
	prod := uuid.New()
	cart := Cart{
		Currency: "USD",
		Items: []LineItem{
			{ID: uuid.New(), ProductID: &prod, Quantity: 3, UnitPrice: 15_000, Model: ModelFlat, Taxable: true, BillingCycle: recurrence.CycleMonthly},
			{ID: uuid.New(), Quantity: 45, UnitPrice: 10_000, Model: ModelTime, Taxable: true},
		},
		Client: discount.ClientContext{Tier: "gold"},
	}
	rules := []discount.Rule{{Code: "TEN", Kind: discount.KindPercentage, PercentBps: 1_000}}
	ctx := tax.Context{Mode: tax.ModeExclusive, JurisdictionRateBps: 825, Jurisdiction: "US-CA"}

	engine := testEngine()
	first := engine.Calculate(cart, rules, ctx)
	second := engine.Calculate(cart, rules, ctx)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs must produce deep-equal results:\n%+v\n%+v", first, second)
	}
}

func TestCalculateDiscountFlow(t *testing.T) {
	cart := Cart{
		Currency: "USD",
		Items: []LineItem{
			{ID: uuid.New(), Quantity: 1, UnitPrice: 100_000, Model: ModelFlat, Taxable: true},
		},
	}
	rules := []discount.Rule{{Code: "QUARTER", Kind: discount.KindPercentage, PercentBps: 2_500}}
	res := testEngine().Calculate(cart, rules, tax.Context{Mode: tax.ModeExclusive, JurisdictionRateBps: 1_000})
	if res.TotalDiscount != 25_000 {
		t.Fatalf("expected discount 25000, got %d", res.TotalDiscount)
	}
	if res.TaxableAmount != 75_000 {
		t.Fatalf("tax must apply after discounts, taxable=%d", res.TaxableAmount)
	}
	if res.TaxAmount != 7_500 {
		t.Fatalf("expected tax 7500, got %d", res.TaxAmount)
	}
	if res.Total != 82_500 {
		t.Fatalf("expected total 82500, got %d", res.Total)
	}
	if res.Savings != 25_000 {
		t.Fatalf("expected savings to mirror total discount, got %d", res.Savings)
	}
}

func TestCalculateInclusiveMode(t *testing.T) {
	cart := Cart{
		Currency: "EUR",
		Items: []LineItem{
			{ID: uuid.New(), Quantity: 1, UnitPrice: 10_800, Model: ModelFlat, Taxable: true},
		},
	}
	res := testEngine().Calculate(cart, nil, tax.Context{Mode: tax.ModeInclusive, JurisdictionRateBps: 800})
	if res.TaxAmount != 800 {
		t.Fatalf("expected extracted tax 800, got %d", res.TaxAmount)
	}
	if res.Total != 10_800 {
		t.Fatalf("inclusive total must equal the taxable amount, got %d", res.Total)
	}
}

func TestCalculateItemOverrideRate(t *testing.T) {
	override := int64(500)
	cart := Cart{
		Currency: "USD",
		Items: []LineItem{
			{ID: uuid.New(), Quantity: 1, UnitPrice: 10_000, Model: ModelFlat, Taxable: true, TaxRateBps: &override},
			{ID: uuid.New(), Quantity: 1, UnitPrice: 20_000, Model: ModelFlat, Taxable: true},
		},
	}
	res := testEngine().Calculate(cart, nil, tax.Context{Mode: tax.ModeExclusive, JurisdictionRateBps: 800})
	if res.TaxAmount != 500+1_600 {
		t.Fatalf("expected per-item tax 2100, got %d", res.TaxAmount)
	}
}

func TestCalculateRecurringAggregates(t *testing.T) {
	cart := Cart{
		Currency: "USD",
		Items: []LineItem{
			{ID: uuid.New(), Quantity: 1, UnitPrice: 10_000, Model: ModelFlat, BillingCycle: recurrence.CycleMonthly},
			{ID: uuid.New(), Quantity: 1, UnitPrice: 24_000, Model: ModelFlat, BillingCycle: recurrence.CycleAnnual},
			{ID: uuid.New(), Quantity: 1, UnitPrice: 99_000, Model: ModelFlat},
		},
	}
	res := testEngine().Calculate(cart, nil, tax.Context{})
	if res.Recurring.Monthly != 10_000+2_000 {
		t.Fatalf("expected monthly 12000, got %d", res.Recurring.Monthly)
	}
	if res.Recurring.Annual != 144_000 {
		t.Fatalf("expected annual 144000, got %d", res.Recurring.Annual)
	}
}

func TestCalculateDiscountBucketsReconcile(t *testing.T) {
	prod := uuid.New()
	other := uuid.New()
	cart := Cart{
		Currency: "USD",
		Items: []LineItem{
			{ID: uuid.New(), ProductID: &prod, Quantity: 9, UnitPrice: 1_000, Model: ModelFlat, Taxable: true},
			{ID: uuid.New(), ProductID: &other, Quantity: 1, UnitPrice: 10_000, Model: ModelFlat, Taxable: true},
		},
	}
	// The first rule exhausts the target line; the buy-x-get-y rule then has no
	// remainder to land on and must not reduce the taxable amount.
	rules := []discount.Rule{
		{Code: "FREE", Kind: discount.KindPercentage, Scope: discount.ScopeLineItem, PercentBps: 10_000, Priority: 10, TargetProductIDs: []uuid.UUID{prod}},
		{Code: "B3G1", Kind: discount.KindBuyXGetY, Scope: discount.ScopeLineItem, BuyQuantity: 3, GetQuantity: 1, TargetProductIDs: []uuid.UUID{prod}},
	}
	engine := testEngine()
	engine.Discounts.MaxDiscountBps = 10_000
	res := engine.Calculate(cart, rules, tax.Context{Mode: tax.ModeExclusive, JurisdictionRateBps: 1_000})
	if res.TotalDiscount != res.ItemDiscounts+res.GlobalDiscount {
		t.Fatalf("discount buckets must reconcile: total=%d items=%d global=%d",
			res.TotalDiscount, res.ItemDiscounts, res.GlobalDiscount)
	}
	if res.TaxableAmount != 10_000 {
		t.Fatalf("expected taxable 10000, got %d", res.TaxableAmount)
	}
	if res.TaxAmount != 1_000 {
		t.Fatalf("expected tax 1000 on the true net, got %d", res.TaxAmount)
	}
}

func TestCalculateFallbackFlagSurfaces(t *testing.T) {
	cart := Cart{
		Items: []LineItem{{ID: uuid.New(), Quantity: 1, UnitPrice: 10_000, Model: ModelFlat, Taxable: true}},
	}
	res := testEngine().Calculate(cart, nil, tax.Context{Mode: tax.ModeExclusive, DefaultRateBps: 1_000})
	if !res.TaxFallback {
		t.Fatal("default-rate fallback must be surfaced on the result")
	}
	if res.TaxAmount != 1_000 {
		t.Fatalf("expected fallback tax 1000, got %d", res.TaxAmount)
	}
}
