package tax

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/quotelab/pricing-api/internal/resilience"
)

func engineServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tax-engine/calculate" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    resilience.HTTPClient{Client: &http.Client{}, MaxAttempts: 1},
		Logger:  zerolog.Nop(),
	}
}

func TestCalculateSuccess(t *testing.T) {
	srv := engineServer(t, `{"success":true,"data":{"subtotal":10000,"tax_amount":825,"tax_rate":0.0825,"total":10825,"engine_used":"avalara"}}`, http.StatusOK)
	c := newClient(srv.URL)

	res, err := c.Calculate(context.Background(), EngineRequest{BasePrice: 10_000, Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TaxAmount != 825 || res.Total != 10_825 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCalculateFailuresCollapse(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"unsuccessful envelope", `{"success":false}`, http.StatusOK},
		{"server error", `{}`, http.StatusInternalServerError},
		{"malformed body", `{nope`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := engineServer(t, tc.body, tc.status)
			_, err := newClient(srv.URL).Calculate(context.Background(), EngineRequest{BasePrice: 1})
			if !errors.Is(err, ErrEngineUnavailable) {
				t.Fatalf("expected ErrEngineUnavailable, got %v", err)
			}
		})
	}
}

func TestCalculateDisabled(t *testing.T) {
	var c *Client
	if c.Enabled() {
		t.Fatal("nil client must be disabled")
	}
	_, err := newClient("").Calculate(context.Background(), EngineRequest{})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}
