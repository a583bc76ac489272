package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotelab/pricing-api/internal/cache"
	"github.com/quotelab/pricing-api/internal/events"
	"github.com/quotelab/pricing-api/internal/money"
	"github.com/quotelab/pricing-api/internal/resilience"
)

// ErrFeedUnavailable reports that the currency feed could not be reached and
// no cached rates exist.
var ErrFeedUnavailable = errors.New("rates: currency feed unavailable")

const (
	cacheKey       = "rates:current"
	lastKnownKey   = "rates:last_known"
	ratesFeedPath  = "/api/currency/rates"
	sourceFeed     = "feed"
	sourceCache    = "cache"
	sourceStale    = "stale"
	sourceIdentity = "identity"
)

// Table holds conversion rates from the home currency to each listed currency.
type Table struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	FetchedAt time.Time          `json:"fetched_at"`
	Source    string             `json:"source,omitempty"`
}

type feedResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// Service fetches currency rates from the feed and caches them in Redis. A
// stale table is better than none, so the last successful fetch is retained
// without expiry and served when the feed is down.
type Service struct {
	BaseURL      string
	HomeCurrency string
	HTTP         resilience.HTTPClient
	Cache        *cache.Cache
	Logger       zerolog.Logger
	CacheHits    func(outcome string)
	// Notify reports feed refresh outcomes, wired to the event bus.
	Notify func(topic string, payload any)
}

// Current returns the current rate table, preferring the TTL cache, then the
// feed, then the last-known snapshot. When everything fails it returns an
// identity table for the home currency.
func (s *Service) Current(ctx context.Context) Table {
	var cached Table
	if found, err := s.Cache.GetJSON(ctx, cacheKey, &cached); err == nil && found {
		s.hit(sourceCache)
		cached.Source = sourceCache
		return cached
	}

	table, err := s.fetch(ctx)
	if err == nil {
		s.hit(sourceFeed)
		if setErr := s.Cache.SetJSON(ctx, cacheKey, table); setErr != nil {
			s.Logger.Warn().Err(setErr).Msg("rates: cache write failed")
		}
		if setErr := s.Cache.SetJSONForever(ctx, lastKnownKey, table); setErr != nil {
			s.Logger.Warn().Err(setErr).Msg("rates: last-known write failed")
		}
		table.Source = sourceFeed
		s.notify(events.TopicRatesRefreshed, map[string]any{
			"base":       table.Base,
			"currencies": len(table.Rates),
			"fetched_at": table.FetchedAt,
		})
		return table
	}
	s.Logger.Warn().Err(err).Msg("rates: feed fetch failed")
	s.notify(events.TopicRatesRefreshError, map[string]any{"error": err.Error()})

	var stale Table
	if found, cacheErr := s.Cache.GetJSON(ctx, lastKnownKey, &stale); cacheErr == nil && found {
		s.hit(sourceStale)
		stale.Source = sourceStale
		return stale
	}

	s.hit(sourceIdentity)
	return Table{
		Base:      s.home(),
		Rates:     map[string]float64{s.home(): 1},
		FetchedAt: time.Now().UTC(),
		Source:    sourceIdentity,
	}
}

// Convert converts an amount in the home currency to the target currency using
// the current table. Unknown currencies pass the amount through unchanged.
func (s *Service) Convert(ctx context.Context, amount money.Money, target string) (money.Money, float64) {
	target = strings.ToUpper(strings.TrimSpace(target))
	if target == "" || target == s.home() {
		return amount, 1
	}
	table := s.Current(ctx)
	rate, ok := table.Rates[target]
	if !ok || rate <= 0 {
		return amount, 1
	}
	return money.Convert(amount, rate), rate
}

func (s *Service) fetch(ctx context.Context) (Table, error) {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		return Table{}, ErrFeedUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+ratesFeedPath, nil)
	if err != nil {
		return Table{}, fmt.Errorf("rates: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Table{}, fmt.Errorf("%w: status %d", ErrFeedUnavailable, resp.StatusCode)
	}

	var payload feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Table{}, fmt.Errorf("%w: decode: %v", ErrFeedUnavailable, err)
	}
	if len(payload.Rates) == 0 {
		return Table{}, fmt.Errorf("%w: empty rate table", ErrFeedUnavailable)
	}

	table := Table{
		Base:      strings.ToUpper(strings.TrimSpace(payload.Base)),
		Rates:     payload.Rates,
		FetchedAt: time.Now().UTC(),
	}
	if table.Base == "" {
		table.Base = s.home()
	}
	if _, ok := table.Rates[s.home()]; !ok {
		table.Rates[s.home()] = 1
	}
	return table, nil
}

func (s *Service) home() string {
	home := strings.ToUpper(strings.TrimSpace(s.HomeCurrency))
	if home == "" {
		return "USD"
	}
	return home
}

func (s *Service) hit(outcome string) {
	if s.CacheHits != nil {
		s.CacheHits(outcome)
	}
}

func (s *Service) notify(topic string, payload any) {
	if s.Notify != nil {
		s.Notify(topic, payload)
	}
}
