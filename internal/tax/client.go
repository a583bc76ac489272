package tax

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quotelab/pricing-api/internal/money"
	"github.com/quotelab/pricing-api/internal/resilience"
)

// ErrEngineUnavailable is returned when the remote tax engine cannot serve a
// calculation and the caller should keep its local figures.
var ErrEngineUnavailable = errors.New("tax: engine unavailable")

// EngineRequest mirrors the tax engine's calculate payload.
type EngineRequest struct {
	BasePrice    money.Money     `json:"base_price"`
	Quantity     float64         `json:"quantity"`
	ProductID    string          `json:"product_id,omitempty"`
	CategoryID   string          `json:"category_id,omitempty"`
	CategoryType string          `json:"category_type,omitempty"`
	CustomerID   string          `json:"customer_id,omitempty"`
	TaxData      json.RawMessage `json:"tax_data,omitempty"`
}

// EngineBreakdown is one jurisdiction component reported by the engine.
type EngineBreakdown struct {
	Jurisdiction string      `json:"jurisdiction"`
	Rate         float64     `json:"rate"`
	Amount       money.Money `json:"amount"`
}

// EngineResult is the engine's calculation for one request.
type EngineResult struct {
	Subtotal      money.Money       `json:"subtotal"`
	TaxAmount     money.Money       `json:"tax_amount"`
	TaxRate       float64           `json:"tax_rate"`
	TaxBreakdown  []EngineBreakdown `json:"tax_breakdown"`
	Total         money.Money       `json:"total"`
	EngineUsed    string            `json:"engine_used"`
	Jurisdictions []string          `json:"jurisdictions"`
}

type engineEnvelope struct {
	Success bool         `json:"success"`
	Data    EngineResult `json:"data"`
}

// Client calls the external tax engine with retries, a circuit breaker and a
// bounded timeout. It never blocks the synchronous pricing path; callers run
// it as an asynchronous refinement and fall back to local calculation.
type Client struct {
	BaseURL string
	HTTP    resilience.HTTPClient
	Logger  zerolog.Logger
}

// Enabled reports whether a remote engine is configured.
func (c *Client) Enabled() bool {
	return c != nil && strings.TrimSpace(c.BaseURL) != ""
}

// Calculate asks the engine to price one taxable amount. Transport errors and
// non-success envelopes are collapsed into ErrEngineUnavailable so callers can
// degrade silently to local figures.
func (c *Client) Calculate(ctx context.Context, req EngineRequest) (EngineResult, error) {
	if !c.Enabled() {
		return EngineResult{}, ErrEngineUnavailable
	}
	body, err := json.Marshal(req)
	if err != nil {
		return EngineResult{}, fmt.Errorf("tax: encode request: %w", err)
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/api/tax-engine/calculate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return EngineResult{}, fmt.Errorf("tax: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(ctx, httpReq)
	if err != nil {
		c.Logger.Warn().Err(err).Str("url", url).Msg("tax_engine_call_failed")
		return EngineResult{}, ErrEngineUnavailable
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.Logger.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("tax_engine_bad_status")
		return EngineResult{}, ErrEngineUnavailable
	}
	var envelope engineEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.Logger.Warn().Err(err).Msg("tax_engine_decode_failed")
		return EngineResult{}, ErrEngineUnavailable
	}
	if !envelope.Success {
		return EngineResult{}, ErrEngineUnavailable
	}
	return envelope.Data, nil
}
