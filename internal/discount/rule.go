package discount

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quotelab/pricing-api/internal/money"
)

var (
	// ErrNotEligible is returned when a rule's conditions do not hold for the cart.
	ErrNotEligible = errors.New("discount not eligible")
	// ErrAlreadyApplied is returned when a code is added to a stack twice.
	ErrAlreadyApplied = errors.New("discount code already applied")
	// ErrStackingDisabled is returned when a second rule is added to a non-stacking stack.
	ErrStackingDisabled = errors.New("discount stacking disabled")
	// ErrRuleInactive is returned when the rule is outside its validity window.
	ErrRuleInactive = errors.New("discount rule not active")
	// ErrRuleExpired is returned when the rule's window has passed.
	ErrRuleExpired = errors.New("discount rule expired")
	// ErrMinimumAmountUnmet indicates the order subtotal did not reach the rule minimum.
	ErrMinimumAmountUnmet = errors.New("discount minimum order amount not met")
	// ErrMinimumQuantityUnmet indicates the cart quantity did not reach the rule minimum.
	ErrMinimumQuantityUnmet = errors.New("discount minimum quantity not met")
)

// Kind enumerates the supported discount mechanics.
type Kind int

const (
	// KindPercentage removes a basis-point share of the eligible amount.
	KindPercentage Kind = iota
	// KindFixedAmount removes a fixed amount.
	KindFixedAmount
	// KindTieredVolume selects a percentage by total cart quantity.
	KindTieredVolume
	// KindBundle discounts the summed value of a required product set.
	KindBundle
	// KindBuyXGetY grants free units per purchased multiple.
	KindBuyXGetY
)

func (k Kind) String() string {
	switch k {
	case KindFixedAmount:
		return "fixed_amount"
	case KindTieredVolume:
		return "tiered_volume"
	case KindBundle:
		return "bundle"
	case KindBuyXGetY:
		return "buy_x_get_y"
	default:
		return "percentage"
	}
}

// ParseKind maps a wire string onto a Kind. Unknown kinds parse as percentage
// with zero value, which applies nothing.
func ParseKind(value string) Kind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "fixed_amount", "fixed":
		return KindFixedAmount
	case "tiered_volume", "volume":
		return KindTieredVolume
	case "bundle":
		return KindBundle
	case "buy_x_get_y", "bxgy":
		return KindBuyXGetY
	default:
		return KindPercentage
	}
}

// Scope determines whether a rule reduces individual lines or the order total.
type Scope int

const (
	// ScopeOrder applies against the order subtotal.
	ScopeOrder Scope = iota
	// ScopeLineItem applies against matching lines only.
	ScopeLineItem
)

func (s Scope) String() string {
	if s == ScopeLineItem {
		return "line_item"
	}
	return "order"
}

// ParseScope maps a wire string onto a Scope.
func ParseScope(value string) Scope {
	if strings.ToLower(strings.TrimSpace(value)) == "line_item" {
		return ScopeLineItem
	}
	return ScopeOrder
}

// VolumeTier maps a minimum total quantity to a discount percentage.
type VolumeTier struct {
	MinQuantity float64
	PercentBps  int64
}

// Conditions gate a rule's activation. All populated conditions must hold
// against the live cart and client context; nothing here is cached.
type Conditions struct {
	MinOrderAmount  money.Money
	MinQuantity     float64
	ClientTiers     []string
	CategoryIDs     []uuid.UUID
	ValidFrom       *time.Time
	ValidTo         *time.Time
	FirstTimeClient bool
}

// Rule captures one automatic, promotional or manual discount.
type Rule struct {
	Code       string
	Kind       Kind
	Scope      Scope
	PercentBps int64
	Amount     money.Money

	VolumeTiers []VolumeTier

	BundleProductIDs []uuid.UUID

	BuyQuantity      float64
	GetQuantity      float64
	TargetProductIDs []uuid.UUID

	Conditions Conditions

	// Manual rules (promo codes entered by the operator) apply after all
	// automatic rules.
	Manual   bool
	Priority int
}

// ClientContext carries the client attributes conditions are evaluated against.
type ClientContext struct {
	Tier      string
	FirstTime bool
}

// Item is the engine's read-only view of a priced cart line.
type Item struct {
	ProductID  *uuid.UUID
	CategoryID *uuid.UUID
	Quantity   float64
	UnitPrice  money.Money
	Subtotal   money.Money
}

// Validate checks the rule's activation conditions against the current cart
// snapshot. It returns the first failed condition as a sentinel error.
func (r Rule) Validate(now time.Time, subtotal money.Money, totalQty float64, client ClientContext) error {
	c := r.Conditions
	if c.MinOrderAmount > 0 && subtotal < c.MinOrderAmount {
		return ErrMinimumAmountUnmet
	}
	if c.MinQuantity > 0 && totalQty < c.MinQuantity {
		return ErrMinimumQuantityUnmet
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ErrRuleInactive
	}
	if c.ValidTo != nil && now.After(*c.ValidTo) {
		return ErrRuleExpired
	}
	if len(c.ClientTiers) > 0 && !containsFold(c.ClientTiers, client.Tier) {
		return ErrNotEligible
	}
	if c.FirstTimeClient && !client.FirstTime {
		return ErrNotEligible
	}
	return nil
}

func containsFold(values []string, needle string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(needle)) {
			return true
		}
	}
	return false
}

func matchesTargets(targets []uuid.UUID, it Item) bool {
	if len(targets) == 0 {
		return true
	}
	if it.ProductID == nil {
		return false
	}
	for _, id := range targets {
		if id == *it.ProductID {
			return true
		}
	}
	return false
}

func matchesCategories(categories []uuid.UUID, it Item) bool {
	if len(categories) == 0 {
		return true
	}
	if it.CategoryID == nil {
		return false
	}
	for _, id := range categories {
		if id == *it.CategoryID {
			return true
		}
	}
	return false
}
