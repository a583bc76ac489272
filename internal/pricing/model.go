package pricing

import (
	"strings"

	"github.com/google/uuid"

	"github.com/quotelab/pricing-api/internal/discount"
	"github.com/quotelab/pricing-api/internal/money"
	"github.com/quotelab/pricing-api/internal/recurrence"
	"github.com/quotelab/pricing-api/internal/tax"
)

// Model selects the algorithm deriving a line amount from quantity and price.
type Model int

const (
	// ModelFlat prices quantity times unit price.
	ModelFlat Model = iota
	// ModelTiered consumes an ascending tier table.
	ModelTiered
	// ModelUsage prices a base fee plus metered usage with a minimum charge.
	ModelUsage
	// ModelTime splits hours into regular and overtime rates.
	ModelTime
	// ModelValue prices outcome value with a success multiplier and risk adjustment.
	ModelValue
)

func (m Model) String() string {
	switch m {
	case ModelTiered:
		return "tiered"
	case ModelUsage:
		return "usage"
	case ModelTime:
		return "time"
	case ModelValue:
		return "value"
	default:
		return "flat"
	}
}

// ParseModel maps a wire string onto a Model; unknown strings price flat so a
// malformed payload still produces a number.
func ParseModel(value string) Model {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "tiered":
		return ModelTiered
	case "usage":
		return ModelUsage
	case "time":
		return ModelTime
	case "value":
		return ModelValue
	default:
		return ModelFlat
	}
}

// Tier is one quantity band of a tiered price. A zero MaxQuantity marks the
// band as unbounded.
type Tier struct {
	MinQuantity float64
	MaxQuantity float64
	Rate        money.Money
}

// UsageParams parameterises usage-based pricing.
type UsageParams struct {
	BaseRate      money.Money
	UsageRate     money.Money
	Usage         float64
	MinimumCharge money.Money
}

// TimeParams parameterises time-based (hourly) pricing. Quantity is the total
// hours; hours beyond RegularThreshold bill at OvertimeRate.
type TimeParams struct {
	// RegularThreshold defaults to 40 hours when zero.
	RegularThreshold float64
	// OvertimeRate defaults to 1.5x the unit price when zero.
	OvertimeRate money.Money
	// RushMultiplier scales both rates when greater than zero.
	RushMultiplier float64
}

// ValueParams parameterises value-based pricing.
type ValueParams struct {
	BaseValue         money.Money
	SuccessMultiplier float64
	RiskAdjustment    money.Money
}

// ItemDiscount is a discount embedded in the line itself, applied during flat
// resolution before any rule-based discounting.
type ItemDiscount struct {
	PercentBps int64
	Fixed      money.Money
}

// LineItem is one priced unit within a quote or invoice. The derived amount is
// never stored: it is recomputed from these inputs on every calculation.
type LineItem struct {
	ID          uuid.UUID
	Description string
	ProductID   *uuid.UUID
	CategoryID  *uuid.UUID

	Quantity  float64
	UnitPrice money.Money
	// CostPrice is informational, used only for margin display.
	CostPrice money.Money

	Model Model
	Tiers []Tier
	Usage *UsageParams
	Time  *TimeParams
	Value *ValueParams

	Discount *ItemDiscount

	Taxable bool
	// TaxRateBps overrides the order-level tax rate for this line.
	TaxRateBps *int64
	// TaxMode overrides the order-level tax mode; honoured only together with
	// TaxRateBps.
	TaxMode *tax.Mode

	BillingCycle recurrence.Cycle
}

// Cart is the full input snapshot for one calculation.
type Cart struct {
	ID       uuid.UUID
	Currency string
	Items    []LineItem
	Client   discount.ClientContext
}

// TotalQuantity sums the sanitised quantities across the cart.
func (c Cart) TotalQuantity() float64 {
	var total float64
	for _, it := range c.Items {
		total += money.SanitizeQuantity(it.Quantity)
	}
	return total
}
