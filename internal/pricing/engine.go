package pricing

import (
	"time"

	"github.com/google/uuid"

	"github.com/quotelab/pricing-api/internal/discount"
	"github.com/quotelab/pricing-api/internal/money"
	"github.com/quotelab/pricing-api/internal/recurrence"
	"github.com/quotelab/pricing-api/internal/tax"
)

// LineResult is the priced view of one cart line.
type LineResult struct {
	ID        uuid.UUID   `json:"id"`
	Amount    money.Money `json:"amount"`
	Discount  money.Money `json:"discount"`
	Net       money.Money `json:"net"`
	Profit    money.Money `json:"profit"`
	MarginBps int64       `json:"margin_bps"`
	Model     string      `json:"pricing_model"`
	Cycle     string      `json:"billing_cycle"`
}

// Result aggregates one full calculation. It is derived state: every call to
// Calculate rebuilds it from the current inputs, nothing is carried over.
type Result struct {
	Subtotal       money.Money           `json:"subtotal"`
	ItemDiscounts  money.Money           `json:"item_discounts"`
	GlobalDiscount money.Money           `json:"global_discount"`
	TotalDiscount  money.Money           `json:"total_discount"`
	TaxableAmount  money.Money           `json:"taxable_amount"`
	TaxAmount      money.Money           `json:"tax_amount"`
	Total          money.Money           `json:"total"`
	Savings        money.Money           `json:"savings"`
	Currency       string                `json:"currency"`
	Lines          []LineResult          `json:"lines"`
	AppliedRules   []discount.Applied    `json:"applied_rules"`
	TaxBreakdown   []tax.BreakdownEntry  `json:"tax_breakdown"`
	TaxFallback    bool                  `json:"tax_fallback"`
	Recurring      recurrence.Aggregates `json:"recurring"`
}

// Engine sequences resolve -> discount -> tax -> total. It holds configuration
// only; all cart state arrives through Calculate, which makes repeated calls
// with unchanged inputs yield identical results.
type Engine struct {
	Discounts discount.Engine
	Now       func() time.Time
}

// Calculate prices the cart under the given rules and tax context. The
// sequencing is fixed: item amounts resolve first, discounts reduce them, tax
// applies to the discounted taxable amount, and the total adds tax only in
// exclusive mode.
func (e Engine) Calculate(cart Cart, rules []discount.Rule, taxCtx tax.Context) Result {
	if e.Discounts.Now == nil {
		e.Discounts.Now = e.Now
	}
	res := Result{Currency: cart.Currency}

	amounts := make([]money.Money, len(cart.Items))
	discountView := make([]discount.Item, len(cart.Items))
	for i, item := range cart.Items {
		amounts[i] = Resolve(item)
		res.Subtotal += amounts[i]
		discountView[i] = discount.Item{
			ProductID:  item.ProductID,
			CategoryID: item.CategoryID,
			Quantity:   money.SanitizeQuantity(item.Quantity),
			UnitPrice:  money.SanitizeAmount(item.UnitPrice),
			Subtotal:   amounts[i],
		}
	}

	outcome := e.Discounts.Apply(discountView, cart.Client, rules)
	for _, d := range outcome.PerItem {
		res.ItemDiscounts += d
	}
	res.GlobalDiscount = outcome.Global
	res.TotalDiscount = outcome.Total
	res.Savings = outcome.Total
	res.AppliedRules = outcome.Applied

	res.TaxableAmount = res.Subtotal - res.TotalDiscount
	if res.TaxableAmount < 0 {
		res.TaxableAmount = 0
	}

	taxRes := tax.Compute(res.TaxableAmount, e.taxLines(cart, amounts, outcome), taxCtx)
	res.TaxAmount = taxRes.Total
	res.TaxBreakdown = taxRes.Breakdown
	res.TaxFallback = taxRes.FallbackUsed
	res.Total = tax.Total(res.TaxableAmount, res.TaxAmount, taxCtx.Mode)

	res.Lines = make([]LineResult, len(cart.Items))
	for i, item := range cart.Items {
		net := amounts[i] - outcome.PerItem[i]
		profit, marginBps := Margin(net, item.CostPrice)
		res.Lines[i] = LineResult{
			ID:        item.ID,
			Amount:    amounts[i],
			Discount:  outcome.PerItem[i],
			Net:       net,
			Profit:    profit,
			MarginBps: marginBps,
			Model:     item.Model.String(),
			Cycle:     item.BillingCycle.String(),
		}
		if item.BillingCycle.Recurring() {
			res.Recurring.Accumulate(net, item.BillingCycle)
		}
	}
	return res
}

// taxLines builds the calculator's per-line view: discounted net amounts with
// any item-level override rates. The global discount is spread proportionally
// so per-line tax still reflects the order-level reduction.
func (e Engine) taxLines(cart Cart, amounts []money.Money, outcome discount.Outcome) []tax.Line {
	nets := make([]money.Money, len(cart.Items))
	var netSum money.Money
	for i := range cart.Items {
		nets[i] = amounts[i] - outcome.PerItem[i]
		if nets[i] < 0 {
			nets[i] = 0
		}
		netSum += nets[i]
	}
	lines := make([]tax.Line, len(cart.Items))
	for i, item := range cart.Items {
		amount := nets[i]
		if outcome.Global > 0 && netSum > 0 {
			amount -= money.Round(float64(outcome.Global) * float64(nets[i]) / float64(netSum))
			if amount < 0 {
				amount = 0
			}
		}
		lines[i] = tax.Line{
			Amount:  amount,
			Taxable: item.Taxable,
			RateBps: item.TaxRateBps,
			Mode:    item.TaxMode,
		}
	}
	return lines
}
