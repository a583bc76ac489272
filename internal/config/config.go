package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	// Upstream services.
	TaxEngineURL    string
	CurrencyAPIURL  string
	RulesAPIURL     string
	UpstreamTimeout time.Duration
	UpstreamRetries int

	// Calculation defaults.
	HomeCurrency      string
	DefaultTaxRateBps int64
	MaxDiscountBps    int64
	TimeRegularHours  float64

	// Cache TTLs.
	RateCacheTTL time.Duration
	RuleCacheTTL time.Duration

	// Observability.
	ObsServiceName   string
	ObsTraceExporter string
	ObsOTLPEndpoint  string
	ObsSampleRatio   float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		TaxEngineURL:       strings.TrimSpace(k.String("TAX_ENGINE_URL")),
		CurrencyAPIURL:     strings.TrimSpace(k.String("CURRENCY_API_URL")),
		RulesAPIURL:        strings.TrimSpace(k.String("RULES_API_URL")),
		UpstreamTimeout:    parseDuration(k.String("UPSTREAM_TIMEOUT"), "5s"),
		UpstreamRetries:    int(parseInt(k.String("UPSTREAM_RETRIES"), 2)),
		HomeCurrency:       strings.ToUpper(valueOrDefault(k.String("HOME_CURRENCY"), "USD")),
		DefaultTaxRateBps:  parseInt(k.String("DEFAULT_TAX_RATE_BPS"), 0),
		MaxDiscountBps:     parseInt(k.String("MAX_DISCOUNT_BPS"), 5000),
		TimeRegularHours:   parseFloat(k.String("TIME_REGULAR_HOURS"), 40),
		RateCacheTTL:       parseDuration(k.String("RATE_CACHE_TTL"), "15m"),
		RuleCacheTTL:       parseDuration(k.String("RULE_CACHE_TTL"), "5m"),
		ObsServiceName:     valueOrDefault(k.String("OBS_SERVICE_NAME"), "pricing-api"),
		ObsTraceExporter:   valueOrDefault(k.String("OBS_TRACE_EXPORTER"), "none"),
		ObsOTLPEndpoint:    strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		ObsSampleRatio:     parseFloat(k.String("OBS_TRACE_SAMPLE_RATIO"), 1),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DefaultTaxRateBps < 0 || cfg.DefaultTaxRateBps > 10000 {
		return nil, fmt.Errorf("DEFAULT_TAX_RATE_BPS must be within [0,10000], got %d", cfg.DefaultTaxRateBps)
	}
	if cfg.MaxDiscountBps < 0 || cfg.MaxDiscountBps > 10000 {
		return nil, fmt.Errorf("MAX_DISCOUNT_BPS must be within [0,10000], got %d", cfg.MaxDiscountBps)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int64) int64 {
	base := strings.TrimSpace(value)
	if base == "" {
		return fallback
	}
	n, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	base := strings.TrimSpace(value)
	if base == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(base, 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
