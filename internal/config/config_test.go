package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"REDIS_URL":            "redis://localhost:6379/0",
		"PORT":                 "",
		"HOME_CURRENCY":        "",
		"DEFAULT_TAX_RATE_BPS": "",
		"MAX_DISCOUNT_BPS":     "",
		"RATE_CACHE_TTL":       "",
		"UPSTREAM_TIMEOUT":     "",
	})
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "USD", cfg.HomeCurrency)
	require.EqualValues(t, 0, cfg.DefaultTaxRateBps)
	require.EqualValues(t, 5000, cfg.MaxDiscountBps)
	require.Equal(t, 15*time.Minute, cfg.RateCacheTTL)
	require.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadRequiresRedis(t *testing.T) {
	_, err := LoadForTests(map[string]string{"REDIS_URL": ""})
	require.Error(t, err)
}

func TestLoadRejectsOutOfRangeRates(t *testing.T) {
	_, err := LoadForTests(map[string]string{
		"REDIS_URL":            "redis://localhost:6379/0",
		"DEFAULT_TAX_RATE_BPS": "12000",
	})
	require.Error(t, err)

	_, err = LoadForTests(map[string]string{
		"REDIS_URL":        "redis://localhost:6379/0",
		"MAX_DISCOUNT_BPS": "-5",
	})
	require.Error(t, err)
}

func TestLoadParsesOverrides(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"REDIS_URL":            "redis://localhost:6379/0",
		"HOME_CURRENCY":        "eur",
		"MAX_DISCOUNT_BPS":     "3000",
		"TIME_REGULAR_HOURS":   "37.5",
		"UPSTREAM_RETRIES":     "4",
		"CORS_ALLOWED_ORIGINS": "https://a.example, https://b.example",
	})
	require.NoError(t, err)
	require.Equal(t, "EUR", cfg.HomeCurrency)
	require.EqualValues(t, 3000, cfg.MaxDiscountBps)
	require.Equal(t, 37.5, cfg.TimeRegularHours)
	require.Equal(t, 4, cfg.UpstreamRetries)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}
