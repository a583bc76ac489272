package discount

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/quotelab/pricing-api/internal/money"
)

// DefaultMaxDiscountBps caps total order discounts at 50% of the subtotal.
const DefaultMaxDiscountBps = 5_000

// Applied records one rule that contributed to the outcome.
type Applied struct {
	Code   string      `json:"code"`
	Kind   string      `json:"kind"`
	Scope  string      `json:"scope"`
	Amount money.Money `json:"amount"`
}

// Outcome is the result of evaluating all rules against a cart snapshot.
type Outcome struct {
	// PerItem holds the line-scoped discount for each input item, index-aligned.
	PerItem []money.Money
	// Global is the order-scoped discount.
	Global money.Money
	// Total is the capped sum of per-item and global discounts.
	Total money.Money
	// Applied lists the rules that produced a non-zero amount, in application order.
	Applied []Applied
	// Capped reports whether the configured maximum truncated the total.
	Capped bool
}

// Engine evaluates discount rules. Conditions are re-checked on every Apply
// call against the snapshot passed in; the engine holds no cart state.
type Engine struct {
	// MaxDiscountBps caps the total discount as a share of the subtotal.
	MaxDiscountBps int64
	Now            func() time.Time
	// OnReject is invoked for every rule that fails eligibility.
	OnReject func(code, reason string)
}

func (e Engine) maxBps() int64 {
	if e.MaxDiscountBps <= 0 {
		return DefaultMaxDiscountBps
	}
	return money.SanitizeBps(e.MaxDiscountBps)
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Apply evaluates the rules against the items and returns the capped outcome.
// Automatic rules run before manual ones; within each group higher Priority
// runs first. Individual amounts are clamped to what remains of their scope,
// and the total never exceeds the configured share of the subtotal. Excess is
// truncated silently, never reported as an error.
func (e Engine) Apply(items []Item, client ClientContext, rules []Rule) Outcome {
	out := Outcome{PerItem: make([]money.Money, len(items))}

	var subtotal money.Money
	var totalQty float64
	for _, it := range items {
		subtotal += money.SanitizeAmount(it.Subtotal)
		totalQty += money.SanitizeQuantity(it.Quantity)
	}
	if subtotal <= 0 {
		return out
	}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Manual != ordered[j].Manual {
			return !ordered[i].Manual
		}
		return ordered[i].Priority > ordered[j].Priority
	})

	now := e.now()
	limit := money.ApplyBps(subtotal, e.maxBps())

	for _, rule := range ordered {
		if out.Total >= limit {
			break
		}
		if err := rule.Validate(now, subtotal, totalQty, client); err != nil {
			if e.OnReject != nil {
				e.OnReject(rule.Code, rejectionReason(err))
			}
			continue
		}
		amount := e.compute(rule, items, subtotal, totalQty, out.PerItem)
		if amount <= 0 {
			continue
		}
		if out.Total+amount > limit {
			amount = limit - out.Total
			out.Capped = true
		}
		switch rule.Scope {
		case ScopeLineItem:
			// Earlier rules may already have consumed the target lines, so the
			// outcome only accounts for what the lines could still absorb.
			amount = e.spread(rule, items, amount, out.PerItem)
			if amount <= 0 {
				continue
			}
		default:
			out.Global += amount
		}
		out.Total += amount
		out.Applied = append(out.Applied, Applied{
			Code:   rule.Code,
			Kind:   rule.Kind.String(),
			Scope:  rule.Scope.String(),
			Amount: amount,
		})
	}
	return out
}

// rejectionReason maps a validation error onto a low-cardinality label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrRuleInactive):
		return "inactive"
	case errors.Is(err, ErrRuleExpired):
		return "expired"
	case errors.Is(err, ErrMinimumAmountUnmet):
		return "min_amount"
	case errors.Is(err, ErrMinimumQuantityUnmet):
		return "min_quantity"
	default:
		return "not_eligible"
	}
}

// compute determines the raw discount amount for a rule before capping.
func (e Engine) compute(rule Rule, items []Item, subtotal money.Money, totalQty float64, perItem []money.Money) money.Money {
	switch rule.Kind {
	case KindFixedAmount:
		amount := money.SanitizeAmount(rule.Amount)
		if base := e.eligibleBase(rule, items, subtotal, perItem); amount > base {
			amount = base
		}
		return amount
	case KindTieredVolume:
		bps := selectVolumeBps(rule.VolumeTiers, totalQty)
		return money.ApplyBps(e.eligibleBase(rule, items, subtotal, perItem), bps)
	case KindBundle:
		return e.bundleAmount(rule, items)
	case KindBuyXGetY:
		return e.buyXGetYAmount(rule, items)
	default:
		return money.ApplyBps(e.eligibleBase(rule, items, subtotal, perItem), money.SanitizeBps(rule.PercentBps))
	}
}

// eligibleBase is the amount a percentage or fixed rule reduces: the scoped
// line remainders for line rules, otherwise the order subtotal.
func (e Engine) eligibleBase(rule Rule, items []Item, subtotal money.Money, perItem []money.Money) money.Money {
	if rule.Scope != ScopeLineItem {
		return subtotal
	}
	var base money.Money
	for i, it := range items {
		if !matchesTargets(rule.TargetProductIDs, it) || !matchesCategories(rule.Conditions.CategoryIDs, it) {
			continue
		}
		remaining := money.SanitizeAmount(it.Subtotal) - perItem[i]
		if remaining > 0 {
			base += remaining
		}
	}
	return base
}

// spread distributes a line-scoped amount across matching items in cart order,
// without driving any line negative, and returns how much it could place.
func (e Engine) spread(rule Rule, items []Item, amount money.Money, perItem []money.Money) money.Money {
	var placed money.Money
	for i, it := range items {
		if amount <= 0 {
			break
		}
		if !matchesTargets(rule.TargetProductIDs, it) || !matchesCategories(rule.Conditions.CategoryIDs, it) {
			continue
		}
		remaining := money.SanitizeAmount(it.Subtotal) - perItem[i]
		if remaining <= 0 {
			continue
		}
		take := amount
		if take > remaining {
			take = remaining
		}
		perItem[i] += take
		amount -= take
		placed += take
	}
	return placed
}

func (e Engine) bundleAmount(rule Rule, items []Item) money.Money {
	if len(rule.BundleProductIDs) == 0 {
		return 0
	}
	present := make(map[[16]byte]bool)
	var memberValue money.Money
	for _, it := range items {
		if it.ProductID == nil {
			continue
		}
		for _, id := range rule.BundleProductIDs {
			if id == *it.ProductID {
				present[id] = true
				memberValue += money.SanitizeAmount(it.Subtotal)
			}
		}
	}
	// Every bundle member must be in the cart.
	for _, id := range rule.BundleProductIDs {
		if !present[id] {
			return 0
		}
	}
	return money.ApplyBps(memberValue, money.SanitizeBps(rule.PercentBps))
}

func (e Engine) buyXGetYAmount(rule Rule, items []Item) money.Money {
	if rule.BuyQuantity <= 0 || rule.GetQuantity <= 0 {
		return 0
	}
	var targetQty float64
	var targetValue money.Money
	for _, it := range items {
		if !matchesTargets(rule.TargetProductIDs, it) {
			continue
		}
		targetQty += money.SanitizeQuantity(it.Quantity)
		targetValue += money.SanitizeAmount(it.Subtotal)
	}
	if targetQty <= 0 {
		return 0
	}
	freeUnits := math.Floor(targetQty/rule.BuyQuantity) * rule.GetQuantity
	if freeUnits <= 0 {
		return 0
	}
	avgUnitPrice := float64(targetValue) / targetQty
	return money.Round(freeUnits * avgUnitPrice)
}

func selectVolumeBps(tiers []VolumeTier, totalQty float64) int64 {
	var best int64
	var bestMin float64 = -1
	for _, tier := range tiers {
		if totalQty >= tier.MinQuantity && tier.MinQuantity > bestMin {
			best = money.SanitizeBps(tier.PercentBps)
			bestMin = tier.MinQuantity
		}
	}
	return best
}

// FreeUnits exposes the buy-X-get-Y unit count for preview endpoints.
func FreeUnits(buyQty, getQty, targetQty float64) int {
	if buyQty <= 0 || getQty <= 0 || targetQty <= 0 {
		return 0
	}
	return int(math.Floor(targetQty/buyQty) * getQty)
}

// Stack accumulates manually entered discount codes for a document. When
// stacking is disabled only the first code is accepted.
type Stack struct {
	AllowStacking bool
	rules         []Rule
}

// Add appends a rule to the stack, rejecting duplicates by code and enforcing
// the stacking policy. Failures are returned as errors, never panics.
func (s *Stack) Add(rule Rule) error {
	code := strings.TrimSpace(rule.Code)
	for _, existing := range s.rules {
		if strings.EqualFold(existing.Code, code) {
			return ErrAlreadyApplied
		}
	}
	if !s.AllowStacking && len(s.rules) > 0 {
		return ErrStackingDisabled
	}
	s.rules = append(s.rules, rule)
	return nil
}

// Remove drops a code from the stack, reporting whether it was present.
func (s *Stack) Remove(code string) bool {
	for i, existing := range s.rules {
		if strings.EqualFold(existing.Code, strings.TrimSpace(code)) {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns the stacked rules in insertion order.
func (s *Stack) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}
