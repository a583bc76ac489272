package pricing

import (
	"sort"

	"github.com/quotelab/pricing-api/internal/money"
)

// DefaultRegularHours is the overtime threshold for time-based pricing.
const DefaultRegularHours = 40

// Resolve computes a line item's pre-discount amount under its pricing model.
// Invalid inputs (negative, NaN, infinite) are coerced to zero rather than
// rejected so a half-edited line never breaks the running total.
func Resolve(item LineItem) money.Money {
	qty := money.SanitizeQuantity(item.Quantity)
	unit := money.SanitizeAmount(item.UnitPrice)

	switch item.Model {
	case ModelTiered:
		return resolveTiered(qty, unit, item.Tiers)
	case ModelUsage:
		return resolveUsage(item.Usage)
	case ModelTime:
		return resolveTime(qty, unit, item.Time)
	case ModelValue:
		return resolveValue(item.Value)
	default:
		return resolveFlat(qty, unit, item.Discount)
	}
}

func resolveFlat(qty float64, unit money.Money, disc *ItemDiscount) money.Money {
	amount := money.Round(qty * float64(unit))
	if disc != nil {
		amount -= money.ApplyBps(amount, money.SanitizeBps(disc.PercentBps))
		amount -= money.SanitizeAmount(disc.Fixed)
	}
	return money.SanitizeAmount(amount)
}

// resolveTiered consumes tiers in ascending order. Quantity beyond the last
// bounded tier falls back to the base unit price rather than clamping to the
// last tier rate.
func resolveTiered(qty float64, unit money.Money, tiers []Tier) money.Money {
	if qty <= 0 {
		return 0
	}
	if len(tiers) == 0 {
		return money.Round(qty * float64(unit))
	}

	ordered := make([]Tier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].MinQuantity < ordered[j].MinQuantity
	})

	var total float64
	remaining := qty
	for _, tier := range ordered {
		if remaining <= 0 {
			break
		}
		rate := float64(money.SanitizeAmount(tier.Rate))
		if tier.MaxQuantity <= 0 {
			// Unbounded tier absorbs everything left.
			total += remaining * rate
			remaining = 0
			break
		}
		span := tier.MaxQuantity - tier.MinQuantity + 1
		if span <= 0 {
			continue
		}
		inTier := remaining
		if inTier > span {
			inTier = span
		}
		total += inTier * rate
		remaining -= inTier
	}
	if remaining > 0 {
		total += remaining * float64(unit)
	}
	return money.Round(total)
}

func resolveUsage(p *UsageParams) money.Money {
	if p == nil {
		return 0
	}
	base := money.SanitizeAmount(p.BaseRate)
	rate := money.SanitizeAmount(p.UsageRate)
	usage := money.SanitizeQuantity(p.Usage)
	amount := money.Round(float64(base) + usage*float64(rate))
	if minimum := money.SanitizeAmount(p.MinimumCharge); amount < minimum {
		return minimum
	}
	return amount
}

func resolveTime(hours float64, regularRate money.Money, p *TimeParams) money.Money {
	threshold := float64(DefaultRegularHours)
	overtime := money.Round(float64(regularRate) * 1.5)
	rush := 1.0
	if p != nil {
		if t := money.SanitizeQuantity(p.RegularThreshold); t > 0 {
			threshold = t
		}
		if p.OvertimeRate > 0 {
			overtime = p.OvertimeRate
		}
		if r := money.SanitizeQuantity(p.RushMultiplier); r > 0 {
			rush = r
		}
	}
	regularHours := hours
	var overtimeHours float64
	if hours > threshold {
		regularHours = threshold
		overtimeHours = hours - threshold
	}
	amount := regularHours*float64(regularRate) + overtimeHours*float64(overtime)
	return money.SanitizeAmount(money.Round(amount * rush))
}

func resolveValue(p *ValueParams) money.Money {
	if p == nil {
		return 0
	}
	multiplier := money.SanitizeQuantity(p.SuccessMultiplier)
	if multiplier == 0 {
		multiplier = 1
	}
	amount := money.Round(float64(money.SanitizeAmount(p.BaseValue))*multiplier + float64(p.RiskAdjustment))
	return money.SanitizeAmount(amount)
}

// Margin reports the profit amount and basis points for display purposes.
func Margin(amount, cost money.Money) (profit money.Money, bps int64) {
	cost = money.SanitizeAmount(cost)
	profit = amount - cost
	if amount > 0 {
		bps = int64(float64(profit) / float64(amount) * money.BpsDenominator)
	}
	return profit, bps
}
