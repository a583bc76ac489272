package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quotelab/pricing-api/internal/cache"
	"github.com/quotelab/pricing-api/internal/discount"
	"github.com/quotelab/pricing-api/internal/money"
)

const (
	cacheKey      = "rules:active"
	rulesPath     = "/api/discount-rules"
	campaignsPath = "/api/promotional-campaigns/active"
)

// Doer abstracts the resilient HTTP client.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ruleDTO is the wire shape shared by the rule and campaign feeds. Percentages
// arrive as floats (7.5 means 7.5%) and amounts as minor units.
type ruleDTO struct {
	Code             string    `json:"code"`
	Kind             string    `json:"kind"`
	Scope            string    `json:"scope"`
	Percent          float64   `json:"percent"`
	Amount           int64     `json:"amount"`
	Manual           bool      `json:"manual"`
	Priority         int       `json:"priority"`
	BuyQuantity      float64   `json:"buy_quantity"`
	GetQuantity      float64   `json:"get_quantity"`
	TargetProductIDs []string  `json:"target_product_ids"`
	BundleProductIDs []string  `json:"bundle_product_ids"`
	VolumeTiers      []tierDTO `json:"volume_tiers"`
	Conditions       struct {
		MinOrderAmount  int64      `json:"min_order_amount"`
		MinQuantity     float64    `json:"min_quantity"`
		ClientTiers     []string   `json:"client_tiers"`
		CategoryIDs     []string   `json:"category_ids"`
		ValidFrom       *time.Time `json:"valid_from"`
		ValidTo         *time.Time `json:"valid_to"`
		FirstTimeClient bool       `json:"first_time_client"`
	} `json:"conditions"`
}

type tierDTO struct {
	MinQuantity float64 `json:"min_quantity"`
	Percent     float64 `json:"percent"`
}

// Source fetches active discount rules and promotional campaigns. Rule
// evaluation must not hinge on upstream availability, so failures degrade to
// the cached set and finally to no rules at all.
type Source struct {
	BaseURL string
	HTTP    Doer
	Cache   *cache.Cache
	Logger  zerolog.Logger
}

// Active returns the current merged rule set. It never returns an error; a
// cart priced with zero discount rules is still a valid cart.
func (s *Source) Active(ctx context.Context) []discount.Rule {
	var cached []ruleDTO
	if found, err := s.Cache.GetJSON(ctx, cacheKey, &cached); err == nil && found {
		return decodeRules(cached)
	}

	merged, err := s.fetchAll(ctx)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("rules: upstream fetch failed, pricing without discount rules")
		return nil
	}
	if err := s.Cache.SetJSON(ctx, cacheKey, merged); err != nil {
		s.Logger.Warn().Err(err).Msg("rules: cache write failed")
	}
	return decodeRules(merged)
}

func (s *Source) fetchAll(ctx context.Context) ([]ruleDTO, error) {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("rules: base url not configured")
	}
	rules, err := s.fetch(ctx, base+rulesPath)
	if err != nil {
		return nil, err
	}
	campaigns, err := s.fetch(ctx, base+campaignsPath)
	if err != nil {
		// Campaigns are additive; losing them should not lose the rules.
		s.Logger.Warn().Err(err).Msg("rules: campaign fetch failed")
		return rules, nil
	}
	return append(rules, campaigns...), nil
}

func (s *Source) fetch(ctx context.Context, url string) ([]ruleDTO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rules: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("rules: fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rules: fetch %s: status %d", url, resp.StatusCode)
	}
	var payload []ruleDTO
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("rules: decode %s: %w", url, err)
	}
	return payload, nil
}

func decodeRules(dtos []ruleDTO) []discount.Rule {
	out := make([]discount.Rule, 0, len(dtos))
	for _, dto := range dtos {
		if strings.TrimSpace(dto.Code) == "" {
			continue
		}
		rule := discount.Rule{
			Code:             strings.TrimSpace(dto.Code),
			Kind:             discount.ParseKind(dto.Kind),
			Scope:            discount.ParseScope(dto.Scope),
			PercentBps:       money.BpsFromPercent(dto.Percent),
			Amount:           money.SanitizeAmount(dto.Amount),
			Manual:           dto.Manual,
			Priority:         dto.Priority,
			BuyQuantity:      money.SanitizeQuantity(dto.BuyQuantity),
			GetQuantity:      money.SanitizeQuantity(dto.GetQuantity),
			TargetProductIDs: parseUUIDs(dto.TargetProductIDs),
			BundleProductIDs: parseUUIDs(dto.BundleProductIDs),
		}
		for _, tier := range dto.VolumeTiers {
			rule.VolumeTiers = append(rule.VolumeTiers, discount.VolumeTier{
				MinQuantity: money.SanitizeQuantity(tier.MinQuantity),
				PercentBps:  money.BpsFromPercent(tier.Percent),
			})
		}
		rule.Conditions = discount.Conditions{
			MinOrderAmount:  money.SanitizeAmount(dto.Conditions.MinOrderAmount),
			MinQuantity:     money.SanitizeQuantity(dto.Conditions.MinQuantity),
			ClientTiers:     dto.Conditions.ClientTiers,
			CategoryIDs:     parseUUIDs(dto.Conditions.CategoryIDs),
			ValidFrom:       dto.Conditions.ValidFrom,
			ValidTo:         dto.Conditions.ValidTo,
			FirstTimeClient: dto.Conditions.FirstTimeClient,
		}
		out = append(out, rule)
	}
	return out
}

func parseUUIDs(values []string) []uuid.UUID {
	if len(values) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
