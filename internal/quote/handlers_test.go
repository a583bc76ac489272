package quote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/quotelab/pricing-api/internal/events"
	"github.com/quotelab/pricing-api/internal/pricing"
	"github.com/quotelab/pricing-api/internal/rates"
	"github.com/quotelab/pricing-api/internal/resilience"
)

func newTestHandler() (*Handler, chi.Router) {
	svc := &Service{
		Rules:    staticRules{},
		Engine:   pricing.Engine{},
		Sessions: NewSessions(),
		Bus:      &events.Bus{Store: events.NewRingStore(16)},
		Logger:   zerolog.Nop(),
	}
	h := &Handler{
		Svc: svc,
		Rates: &rates.Service{
			HomeCurrency: "USD",
			HTTP:         resilience.HTTPClient{Client: &http.Client{}, MaxAttempts: 1},
			Logger:       zerolog.Nop(),
		},
		Validate:          validator.New(),
		Logger:            zerolog.Nop(),
		HomeCurrency:      "USD",
		DefaultTaxRateBps: 0,
		RegularHours:      40,
	}
	r := chi.NewRouter()
	h.Routes(r)
	return h, r
}

func postJSON(t *testing.T, r chi.Router, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok, "missing data envelope: %s", rr.Body.String())
	return data
}

func TestCalculateEndpoint(t *testing.T) {
	_, r := newTestHandler()
	rr := postJSON(t, r, "/v1/pricing/calculate", `{
		"currency": "USD",
		"tax": {"jurisdiction_rate_percent": 8},
		"items": [{"quantity": 5, "unit_price": 2000}]
	}`)
	require.Equal(t, http.StatusOK, rr.Code)

	data := decodeData(t, rr)
	result := data["result"].(map[string]any)
	require.EqualValues(t, 10000, result["subtotal"])
	require.EqualValues(t, 800, result["tax_amount"])
	require.EqualValues(t, 10800, result["total"])
	require.Contains(t, data["total_display"], "108")
}

func TestCalculateRejectsEmptyItems(t *testing.T) {
	_, r := newTestHandler()
	rr := postJSON(t, r, "/v1/pricing/calculate", `{"items": []}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), `"error"`)
}

func TestCalculateRejectsMalformedJSON(t *testing.T) {
	_, r := newTestHandler()
	rr := postJSON(t, r, "/v1/pricing/calculate", `{`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCalculateCoercesBadQuantities(t *testing.T) {
	_, r := newTestHandler()
	rr := postJSON(t, r, "/v1/pricing/calculate", `{
		"items": [{"quantity": -3, "unit_price": 2000}]
	}`)
	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeData(t, rr)
	result := data["result"].(map[string]any)
	require.EqualValues(t, 0, result["subtotal"])
}

func TestCalculateItemInclusiveOverride(t *testing.T) {
	_, r := newTestHandler()
	rr := postJSON(t, r, "/v1/pricing/calculate", `{
		"tax": {"mode": "inclusive"},
		"items": [{"quantity": 1, "unit_price": 10800, "tax_rate_percent": 8, "tax_mode": "inclusive"}]
	}`)
	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeData(t, rr)
	result := data["result"].(map[string]any)
	require.EqualValues(t, 800, result["tax_amount"])
	require.EqualValues(t, 10800, result["total"])
}

func TestCalculateDisplayCurrency(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":0.5}}`))
	}))
	defer feed.Close()

	h, r := newTestHandler()
	h.Rates.BaseURL = feed.URL
	rr := postJSON(t, r, "/v1/pricing/calculate", `{
		"display_currency": "eur",
		"items": [{"quantity": 1, "unit_price": 10000}]
	}`)
	require.Equal(t, http.StatusOK, rr.Code)

	data := decodeData(t, rr)
	display, ok := data["display"].(map[string]any)
	require.True(t, ok, "missing display block: %s", rr.Body.String())
	require.Equal(t, "EUR", display["currency"])
	require.EqualValues(t, 0.5, display["rate"])
	require.EqualValues(t, 5000, display["total"])
}

func TestPreviewEndpointDoesNotPublish(t *testing.T) {
	h, r := newTestHandler()
	cartID := uuid.New()
	rr := postJSON(t, r, "/v1/pricing/preview-discount", fmt.Sprintf(`{
		"cart_id": %q,
		"items": [{"quantity": 1, "unit_price": 5000}]
	}`, cartID))
	require.Equal(t, http.StatusOK, rr.Code)

	_, ok := h.Svc.Snapshot(cartID)
	require.False(t, ok)
}

func TestResultEndpoint(t *testing.T) {
	_, r := newTestHandler()
	cartID := uuid.New()

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/pricing/result/"+cartID.String(), nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	calc := postJSON(t, r, "/v1/pricing/calculate", fmt.Sprintf(`{
		"cart_id": %q,
		"items": [{"quantity": 2, "unit_price": 1500}]
	}`, cartID))
	require.Equal(t, http.StatusOK, calc.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/pricing/result/"+cartID.String(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeData(t, rr)
	result := data["result"].(map[string]any)
	require.EqualValues(t, 3000, result["total"])
}

func TestProjectionEndpoint(t *testing.T) {
	_, r := newTestHandler()
	rr := postJSON(t, r, "/v1/pricing/projection", `{
		"amount": 10000,
		"billing_cycle": "monthly",
		"start": "2026-01-31T00:00:00Z",
		"horizon_months": 3
	}`)
	require.Equal(t, http.StatusOK, rr.Code)

	data := decodeData(t, rr)
	require.EqualValues(t, 10000, data["monthly_equivalent"])
	schedule := data["schedule"].([]any)
	require.Len(t, schedule, 4) // start plus three months inclusive
	second := schedule[1].(map[string]any)
	require.Equal(t, "2026-02-28", second["date"])
}

func TestRatesEndpoint(t *testing.T) {
	_, r := newTestHandler()
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/rates", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeData(t, rr)
	require.Equal(t, "identity", data["source"])
}
