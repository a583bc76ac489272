package tax

import (
	"strings"

	"github.com/quotelab/pricing-api/internal/money"
)

// Mode determines whether prices carry tax already or have it added on top.
type Mode int

const (
	// ModeExclusive adds tax on top of the taxable amount.
	ModeExclusive Mode = iota
	// ModeInclusive treats prices as already containing tax.
	ModeInclusive
)

func (m Mode) String() string {
	if m == ModeInclusive {
		return "inclusive"
	}
	return "exclusive"
}

// ParseMode maps a wire string onto a Mode; anything unrecognised is exclusive.
func ParseMode(value string) Mode {
	if strings.ToLower(strings.TrimSpace(value)) == "inclusive" {
		return ModeInclusive
	}
	return ModeExclusive
}

// Source identifies which rate produced a breakdown entry.
const (
	SourceItem         = "item"
	SourceJurisdiction = "jurisdiction"
	SourceDefault      = "default"
	SourceRemote       = "remote"
)

// Context carries the order-level tax configuration.
type Context struct {
	Mode         Mode
	Jurisdiction string
	// JurisdictionRateBps is the resolved rate for the jurisdiction; zero means
	// unresolved.
	JurisdictionRateBps int64
	// DefaultRateBps is the last-resort rate so totals are never silently zero
	// when configuration is missing.
	DefaultRateBps int64
}

// Line is the calculator's view of a priced, discounted cart line.
type Line struct {
	Amount  money.Money
	Taxable bool
	// RateBps overrides the order-level rate for this line.
	RateBps *int64
	// Mode overrides the order-level mode; only honoured together with RateBps.
	Mode *Mode
}

// BreakdownEntry explains one component of the computed tax.
type BreakdownEntry struct {
	Source       string      `json:"source"`
	Jurisdiction string      `json:"jurisdiction,omitempty"`
	RateBps      int64       `json:"rate_bps"`
	Taxable      money.Money `json:"taxable"`
	Amount       money.Money `json:"amount"`
}

// Result is the computed tax for an order.
type Result struct {
	Total money.Money `json:"total"`
	// Breakdown lists the contributing rates in computation order.
	Breakdown []BreakdownEntry `json:"breakdown"`
	// FallbackUsed reports that the configured default rate filled in for a
	// missing jurisdiction rate. Callers should surface this as a warning.
	FallbackUsed bool `json:"fallback_used"`
}

// Compute calculates order tax locally. When any line carries an override rate
// the calculation runs per line (item-level wins); otherwise a single
// order-level rate applies to the taxable amount. A rate is always found:
// override, then jurisdiction, then the configured default.
func Compute(taxable money.Money, lines []Line, ctx Context) Result {
	taxable = money.SanitizeAmount(taxable)
	if hasOverrides(lines) {
		return computePerLine(lines, ctx)
	}
	return computeOrderLevel(taxable, ctx)
}

func hasOverrides(lines []Line) bool {
	for _, line := range lines {
		if line.Taxable && line.RateBps != nil {
			return true
		}
	}
	return false
}

func computeOrderLevel(taxable money.Money, ctx Context) Result {
	if taxable <= 0 {
		return Result{}
	}
	rate, source, fallback := orderRate(ctx)
	amount := taxFor(taxable, rate, ctx.Mode)
	entry := BreakdownEntry{
		Source:  source,
		RateBps: rate,
		Taxable: taxable,
		Amount:  amount,
	}
	if source == SourceJurisdiction {
		entry.Jurisdiction = ctx.Jurisdiction
	}
	return Result{Total: amount, Breakdown: []BreakdownEntry{entry}, FallbackUsed: fallback}
}

func computePerLine(lines []Line, ctx Context) Result {
	var res Result
	orderBps, orderSource, _ := orderRate(ctx)
	for _, line := range lines {
		amount := money.SanitizeAmount(line.Amount)
		if !line.Taxable || amount <= 0 {
			continue
		}
		rate, source, mode := orderBps, orderSource, ctx.Mode
		if line.RateBps != nil {
			rate = money.SanitizeBps(*line.RateBps)
			source = SourceItem
			if line.Mode != nil {
				mode = *line.Mode
			}
		} else if source == SourceDefault {
			res.FallbackUsed = true
		}
		tax := taxFor(amount, rate, mode)
		entry := BreakdownEntry{Source: source, RateBps: rate, Taxable: amount, Amount: tax}
		if source == SourceJurisdiction {
			entry.Jurisdiction = ctx.Jurisdiction
		}
		res.Total += tax
		res.Breakdown = append(res.Breakdown, entry)
	}
	return res
}

func orderRate(ctx Context) (bps int64, source string, fallback bool) {
	if ctx.JurisdictionRateBps > 0 {
		return money.SanitizeBps(ctx.JurisdictionRateBps), SourceJurisdiction, false
	}
	return money.SanitizeBps(ctx.DefaultRateBps), SourceDefault, true
}

func taxFor(amount money.Money, bps int64, mode Mode) money.Money {
	if mode == ModeInclusive {
		return money.ExtractInclusiveBps(amount, bps)
	}
	return money.ApplyBps(amount, bps)
}

// Total returns the amount payable given the taxable amount and computed tax.
// Inclusive prices already contain the tax, so the total is unchanged.
func Total(taxable money.Money, tax money.Money, mode Mode) money.Money {
	if mode == ModeInclusive {
		return taxable
	}
	return taxable + tax
}
