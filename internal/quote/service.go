package quote

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quotelab/pricing-api/internal/discount"
	"github.com/quotelab/pricing-api/internal/events"
	"github.com/quotelab/pricing-api/internal/money"
	"github.com/quotelab/pricing-api/internal/pricing"
	"github.com/quotelab/pricing-api/internal/tax"
)

// RuleSource supplies the active discount rules for a calculation.
type RuleSource interface {
	Active(ctx context.Context) []discount.Rule
}

// TaxEngine is the remote tax engine used for asynchronous refinement.
type TaxEngine interface {
	Enabled() bool
	Calculate(ctx context.Context, req tax.EngineRequest) (tax.EngineResult, error)
}

// Hooks let the service report outcomes without owning the metric registry.
type Hooks struct {
	Calculation func(result string, elapsed time.Duration)
	TaxFallback func()
	StaleResult func()
}

// Service runs the calculation pipeline: resolve rules, price the cart,
// publish through the cart's session and, when a remote tax engine is
// configured, refine the tax figures asynchronously.
type Service struct {
	Rules    RuleSource
	Engine   pricing.Engine
	Tax      TaxEngine
	Sessions *Sessions
	Bus      *events.Bus
	Logger   zerolog.Logger
	Hooks    Hooks

	// RefineTimeout bounds the asynchronous tax refinement call.
	RefineTimeout time.Duration
}

// Price calculates the cart synchronously with local tax and publishes the
// result. Manual codes select which manual rules from the feed participate;
// automatic rules always do. The returned result is always the locally
// computed one; the remote refinement, when enabled, updates the session
// snapshot in the background.
func (s *Service) Price(ctx context.Context, cart pricing.Cart, codes []string, taxCtx tax.Context) pricing.Result {
	start := time.Now()
	session := s.Sessions.For(cart.ID)
	token := session.Begin()

	rules := filterRules(s.activeRules(ctx), codes)
	result := s.engineFor(ctx, cart.ID).Calculate(cart, rules, taxCtx)

	applied := session.Publish(token, result)
	s.report(applied, result, start)
	if applied {
		s.emit(ctx, events.TopicResultUpdated, cart, result)
		if result.TaxFallback {
			s.emit(ctx, events.TopicTaxFallback, cart, result)
		}
		if s.Tax != nil && s.Tax.Enabled() {
			go s.refine(cart, taxCtx, token, result)
		}
	}
	return result
}

// Preview applies the current rules to the cart without touching the session.
// It backs the discount preview endpoint: the operator sees what a code would
// do before committing it.
func (s *Service) Preview(ctx context.Context, cart pricing.Cart, codes []string, taxCtx tax.Context) pricing.Result {
	return s.Engine.Calculate(cart, filterRules(s.activeRules(ctx), codes), taxCtx)
}

// filterRules keeps every automatic rule and only the manual rules whose code
// was explicitly supplied.
func filterRules(rules []discount.Rule, codes []string) []discount.Rule {
	if len(rules) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(codes))
	for _, code := range codes {
		wanted[strings.ToUpper(strings.TrimSpace(code))] = true
	}
	out := make([]discount.Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.Manual && !wanted[strings.ToUpper(rule.Code)] {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// refine asks the remote tax engine to reprice the taxable amount and
// re-publishes under the same token. If a newer calculation was applied in the
// meantime the refinement is stale and is dropped.
func (s *Service) refine(cart pricing.Cart, taxCtx tax.Context, token uint64, local pricing.Result) {
	timeout := s.RefineTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	remote, err := s.Tax.Calculate(ctx, tax.EngineRequest{
		BasePrice: local.TaxableAmount,
		Quantity:  1,
	})
	if err != nil {
		s.Logger.Warn().Err(err).Str("cart_id", cart.ID.String()).Msg("tax refinement skipped")
		return
	}

	refined := local
	refined.TaxAmount = money.SanitizeAmount(remote.TaxAmount)
	refined.TaxFallback = false
	refined.TaxBreakdown = remoteBreakdown(remote)
	refined.Total = tax.Total(refined.TaxableAmount, refined.TaxAmount, taxCtx.Mode)

	session := s.Sessions.For(cart.ID)
	if !session.Publish(token, refined) {
		if s.Hooks.StaleResult != nil {
			s.Hooks.StaleResult()
		}
		s.emit(ctx, events.TopicResultDiscarded, cart, refined)
		s.Logger.Debug().Str("cart_id", cart.ID.String()).Uint64("token", token).Msg("stale tax refinement discarded")
		return
	}
	s.emit(ctx, events.TopicResultUpdated, cart, refined)
}

// Snapshot returns the latest published result for a cart.
func (s *Service) Snapshot(cartID uuid.UUID) (pricing.Result, bool) {
	return s.Sessions.For(cartID).Current()
}

// engineFor clones the pricing engine with a rejection hook that also emits
// bus events carrying the cart id.
func (s *Service) engineFor(ctx context.Context, cartID uuid.UUID) pricing.Engine {
	engine := s.Engine
	if s.Bus == nil {
		return engine
	}
	base := engine.Discounts.OnReject
	engine.Discounts.OnReject = func(code, reason string) {
		if base != nil {
			base(code, reason)
		}
		payload := map[string]any{
			"cart_id": cartID.String(),
			"code":    code,
			"reason":  reason,
		}
		if _, err := s.Bus.Emit(ctx, events.TopicDiscountRejected, cartID, payload); err != nil {
			s.Logger.Warn().Err(err).Str("code", code).Msg("event emit failed")
		}
	}
	return engine
}

func (s *Service) activeRules(ctx context.Context) []discount.Rule {
	if s.Rules == nil {
		return nil
	}
	return s.Rules.Active(ctx)
}

func (s *Service) report(applied bool, result pricing.Result, start time.Time) {
	if s.Hooks.Calculation != nil {
		outcome := "applied"
		if !applied {
			outcome = "superseded"
		}
		s.Hooks.Calculation(outcome, time.Since(start))
	}
	if result.TaxFallback && s.Hooks.TaxFallback != nil {
		s.Hooks.TaxFallback()
	}
}

func (s *Service) emit(ctx context.Context, topic string, cart pricing.Cart, result pricing.Result) {
	if s.Bus == nil {
		return
	}
	payload := map[string]any{
		"cart_id":      cart.ID.String(),
		"total":        result.Total,
		"tax_amount":   result.TaxAmount,
		"tax_fallback": result.TaxFallback,
	}
	if _, err := s.Bus.Emit(ctx, topic, cart.ID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Msg("event emit failed")
	}
}

func remoteBreakdown(remote tax.EngineResult) []tax.BreakdownEntry {
	if len(remote.TaxBreakdown) == 0 {
		return []tax.BreakdownEntry{{
			Source:  tax.SourceRemote,
			RateBps: money.BpsFromPercent(remote.TaxRate * 100),
			Taxable: remote.Subtotal,
			Amount:  remote.TaxAmount,
		}}
	}
	entries := make([]tax.BreakdownEntry, 0, len(remote.TaxBreakdown))
	for _, b := range remote.TaxBreakdown {
		entries = append(entries, tax.BreakdownEntry{
			Source:       tax.SourceRemote,
			Jurisdiction: b.Jurisdiction,
			RateBps:      money.BpsFromPercent(b.Rate * 100),
			Amount:       b.Amount,
		})
	}
	return entries
}
