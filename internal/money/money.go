package money

import "math"

// Money represents a monetary value stored in minor units.
type Money = int64

// BpsDenominator is the scale used for basis-point percentages (10000 == 100%).
const BpsDenominator = 10_000

// SanitizeQuantity coerces negative, NaN and infinite quantities to zero so
// invalid input degrades to a zero amount instead of poisoning totals.
func SanitizeQuantity(q float64) float64 {
	if math.IsNaN(q) || math.IsInf(q, 0) || q < 0 {
		return 0
	}
	return q
}

// SanitizeAmount coerces a negative amount to zero.
func SanitizeAmount(m Money) Money {
	if m < 0 {
		return 0
	}
	return m
}

// SanitizeBps clamps a basis-point percentage into [0, 10000].
func SanitizeBps(bps int64) int64 {
	if bps < 0 {
		return 0
	}
	if bps > BpsDenominator {
		return BpsDenominator
	}
	return bps
}

// Round converts a float computation result into minor units, mapping NaN and
// infinities to zero.
func Round(f float64) Money {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return Money(math.Round(f))
}

// ApplyBps returns the basis-point share of an amount. Rounding happens only
// here to keep stored values integer-safe.
func ApplyBps(amount Money, bps int64) Money {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return Round(float64(amount) * float64(bps) / BpsDenominator)
}

// ExtractInclusiveBps returns the tax portion already contained in a
// tax-inclusive amount: amount - amount/(1+rate).
func ExtractInclusiveBps(amount Money, bps int64) Money {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return Round(float64(amount) * float64(bps) / float64(BpsDenominator+bps))
}

// BpsFromPercent converts a human percentage (8.25 == 8.25%) into basis points.
func BpsFromPercent(pct float64) int64 {
	if math.IsNaN(pct) || math.IsInf(pct, 0) || pct < 0 {
		return 0
	}
	return int64(math.Round(pct * 100))
}

// PercentFromBps converts basis points back into a percentage for API payloads.
func PercentFromBps(bps int64) float64 {
	return float64(bps) / 100
}

// Convert applies an exchange rate to an amount. A non-positive rate yields the
// original amount so a missing rate never zeroes a total.
func Convert(amount Money, rate float64) Money {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return amount
	}
	return Round(float64(amount) * rate)
}
