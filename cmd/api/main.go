package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/quotelab/pricing-api/internal/cache"
	"github.com/quotelab/pricing-api/internal/common"
	"github.com/quotelab/pricing-api/internal/config"
	"github.com/quotelab/pricing-api/internal/discount"
	"github.com/quotelab/pricing-api/internal/events"
	"github.com/quotelab/pricing-api/internal/health"
	"github.com/quotelab/pricing-api/internal/obs"
	"github.com/quotelab/pricing-api/internal/pricing"
	"github.com/quotelab/pricing-api/internal/quote"
	"github.com/quotelab/pricing-api/internal/ratelimit"
	"github.com/quotelab/pricing-api/internal/rates"
	"github.com/quotelab/pricing-api/internal/resilience"
	"github.com/quotelab/pricing-api/internal/rules"
	"github.com/quotelab/pricing-api/internal/tax"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "pricing")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   cfg.ObsServiceName,
			Endpoint:      cfg.ObsOTLPEndpoint,
			Exporter:      cfg.ObsTraceExporter,
			SamplingRatio: cfg.ObsSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if tracingEnabled {
		if err := redisotel.InstrumentTracing(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	upstreamHTTP := func() resilience.HTTPClient {
		return resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     resilience.NewBreaker(5, 0.5, 30*time.Second),
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: cfg.UpstreamRetries + 1,
			Jitter:      0.2,
			Timeout:     cfg.UpstreamTimeout,
		}
	}

	eventStore := events.NewRingStore(envInt("EVENT_STORE_CAPACITY", 512))
	bus := &events.Bus{
		Store: eventStore,
		Notifiers: []events.Notifier{
			logNotifier{logger: logger.With().Str("component", "events").Logger()},
		},
	}

	// Rate-feed events are not tied to a cart, so they share one stream id.
	ratesStreamID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("currency-rates"))
	rateSvc := &rates.Service{
		BaseURL:      cfg.CurrencyAPIURL,
		HomeCurrency: cfg.HomeCurrency,
		HTTP:         upstreamHTTP(),
		Cache:        cache.New(redisClient, cfg.RateCacheTTL),
		Logger:       logger.With().Str("component", "rates").Logger(),
		CacheHits: func(outcome string) {
			obs.RateCacheHits.WithLabelValues(outcome).Inc()
		},
		Notify: func(topic string, payload any) {
			if _, err := bus.Emit(context.Background(), topic, ratesStreamID, payload); err != nil {
				logger.Warn().Err(err).Str("topic", topic).Msg("event emit failed")
			}
		},
	}

	ruleSource := &rules.Source{
		BaseURL: cfg.RulesAPIURL,
		HTTP:    upstreamHTTP(),
		Cache:   cache.New(redisClient, cfg.RuleCacheTTL),
		Logger:  logger.With().Str("component", "rules").Logger(),
	}

	taxClient := &tax.Client{
		BaseURL: cfg.TaxEngineURL,
		HTTP:    upstreamHTTP(),
		Logger:  logger.With().Str("component", "tax").Logger(),
	}

	svc := &quote.Service{
		Rules: ruleSource,
		Engine: pricing.Engine{
			Discounts: discount.Engine{
				MaxDiscountBps: cfg.MaxDiscountBps,
				OnReject: func(code, reason string) {
					obs.DiscountRejectedTotal.WithLabelValues(reason).Inc()
				},
			},
		},
		Tax:      taxClient,
		Sessions: quote.NewSessions(),
		Bus:      bus,
		Logger:   logger.With().Str("component", "quote").Logger(),
		Hooks: quote.Hooks{
			Calculation: func(result string, elapsed time.Duration) {
				obs.CalculationsTotal.WithLabelValues(result).Inc()
				obs.CalculationDuration.WithLabelValues(result).Observe(float64(elapsed.Milliseconds()))
			},
			TaxFallback: func() { obs.TaxFallbackTotal.Inc() },
			StaleResult: func() { obs.StaleResultsDiscarded.Inc() },
		},
		RefineTimeout: cfg.UpstreamTimeout,
	}

	handler := &quote.Handler{
		Svc:               svc,
		Rates:             rateSvc,
		Validate:          validator.New(),
		Logger:            logger,
		HomeCurrency:      cfg.HomeCurrency,
		DefaultTaxRateBps: cfg.DefaultTaxRateBps,
		RegularHours:      cfg.TimeRegularHours,
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if limit := envInt("RATE_LIMIT_MAX", 0); limit > 0 {
		window := time.Duration(envInt("RATE_LIMIT_WINDOW_MS", 60000)) * time.Millisecond
		rl := ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:pricing"},
			Config: ratelimit.Config{
				Key:    common.ClientIP,
				Window: window,
				Max:    limit,
			},
			OnError: func(err error) {
				logger.Warn().Err(err).Msg("rate limiter degraded")
			},
		}
		r.Use(rl.Middleware)
	}

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{redis: redisClient},
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Get("/v1/events/recent", events.RecentHandler(eventStore))

	idem := common.Idem{R: redisClient, TTL: envDurationMillis("IDEMPOTENCY_TTL_MS", 600000)}
	r.Group(func(g chi.Router) {
		g.Use(idem.Middleware)
		handler.Routes(g)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		health.SetReady(false)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}

type logNotifier struct {
	logger zerolog.Logger
}

func (n logNotifier) Notify(_ context.Context, ev events.Event) error {
	n.logger.Info().
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID.String()).
		RawJSON("payload", ev.Payload).
		Msg("domain_event")
	return nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	redis *redis.Client
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
