package tax

import (
	"testing"

	"github.com/quotelab/pricing-api/internal/money"
)

func TestExclusiveOrderLevel(t *testing.T) {
	res := Compute(10_000, nil, Context{Mode: ModeExclusive, Jurisdiction: "US-CA", JurisdictionRateBps: 800})
	if res.Total != 800 {
		t.Fatalf("expected 800, got %d", res.Total)
	}
	if res.FallbackUsed {
		t.Fatal("jurisdiction rate must not report fallback")
	}
	if total := Total(10_000, res.Total, ModeExclusive); total != 10_800 {
		t.Fatalf("expected total 10800, got %d", total)
	}
	if len(res.Breakdown) != 1 || res.Breakdown[0].Source != SourceJurisdiction {
		t.Fatalf("unexpected breakdown %+v", res.Breakdown)
	}
}

func TestInclusiveRoundTrip(t *testing.T) {
	// A nominal price of 10800 containing 8% tax: the tax portion is 800 and
	// the payable total stays at the nominal price.
	res := Compute(10_800, nil, Context{Mode: ModeInclusive, JurisdictionRateBps: 800})
	if res.Total != 800 {
		t.Fatalf("expected inclusive tax 800, got %d", res.Total)
	}
	if total := Total(10_800, res.Total, ModeInclusive); total != 10_800 {
		t.Fatalf("inclusive total must equal nominal price, got %d", total)
	}

	// Switching representation with the nominal price held constant: 10000
	// exclusive at 8% totals the same as 10800 inclusive at 8%.
	excl := Compute(10_000, nil, Context{Mode: ModeExclusive, JurisdictionRateBps: 800})
	if Total(10_000, excl.Total, ModeExclusive) != Total(10_800, res.Total, ModeInclusive) {
		t.Fatal("totals must be invariant across representations")
	}
}

func TestDefaultRateFallback(t *testing.T) {
	res := Compute(10_000, nil, Context{Mode: ModeExclusive, DefaultRateBps: 1_000})
	if res.Total != 1_000 {
		t.Fatalf("expected default rate to apply, got %d", res.Total)
	}
	if !res.FallbackUsed {
		t.Fatal("fallback must be reported so callers can warn")
	}
	if res.Breakdown[0].Source != SourceDefault {
		t.Fatalf("expected default source, got %s", res.Breakdown[0].Source)
	}
}

func TestItemOverrideWins(t *testing.T) {
	override := int64(500)
	lines := []Line{
		{Amount: 10_000, Taxable: true, RateBps: &override},
		{Amount: 20_000, Taxable: true},
	}
	res := Compute(30_000, lines, Context{Mode: ModeExclusive, Jurisdiction: "US-NY", JurisdictionRateBps: 800})
	// 10000*5% + 20000*8%.
	if res.Total != 500+1_600 {
		t.Fatalf("expected 2100, got %d", res.Total)
	}
	if len(res.Breakdown) != 2 {
		t.Fatalf("expected 2 breakdown entries, got %d", len(res.Breakdown))
	}
	if res.Breakdown[0].Source != SourceItem || res.Breakdown[1].Source != SourceJurisdiction {
		t.Fatalf("unexpected sources %+v", res.Breakdown)
	}
}

func TestPerItemModeOverride(t *testing.T) {
	rate := int64(800)
	inclusive := ModeInclusive
	lines := []Line{
		{Amount: 10_800, Taxable: true, RateBps: &rate, Mode: &inclusive},
	}
	res := Compute(10_800, lines, Context{Mode: ModeExclusive, JurisdictionRateBps: 800})
	if res.Total != 800 {
		t.Fatalf("expected inclusive extraction on the overridden line, got %d", res.Total)
	}
}

func TestNonTaxableLinesSkipped(t *testing.T) {
	override := int64(800)
	lines := []Line{
		{Amount: 10_000, Taxable: false, RateBps: &override},
		{Amount: 5_000, Taxable: true, RateBps: &override},
	}
	res := Compute(15_000, lines, Context{Mode: ModeExclusive, JurisdictionRateBps: 800})
	if res.Total != 400 {
		t.Fatalf("expected only the taxable line taxed, got %d", res.Total)
	}
}

func TestNegativeTaxableClampsToZero(t *testing.T) {
	res := Compute(-500, nil, Context{Mode: ModeExclusive, DefaultRateBps: 1_000})
	if res.Total != 0 {
		t.Fatalf("expected 0, got %d", res.Total)
	}
}

func TestAlwaysProducesANumber(t *testing.T) {
	// Even with zero configuration the result is a number, never an error.
	res := Compute(10_000, nil, Context{})
	if res.Total != 0 {
		t.Fatalf("expected 0 with no rates at all, got %d", res.Total)
	}
	var _ money.Money = res.Total
}
