package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CalculationsTotal counts pricing calculations by outcome.
	CalculationsTotal *prometheus.CounterVec
	// CalculationDuration records end-to-end calculation latency in milliseconds.
	CalculationDuration *prometheus.HistogramVec
	// TaxFallbackTotal counts calculations that fell back to the default tax rate.
	TaxFallbackTotal prometheus.Counter
	// StaleResultsDiscarded counts calculation results dropped because a newer
	// snapshot was already applied.
	StaleResultsDiscarded prometheus.Counter
	// DiscountRejectedTotal counts discount rules rejected by eligibility checks.
	DiscountRejectedTotal *prometheus.CounterVec
	// RateCacheHits counts currency rate lookups served from cache.
	RateCacheHits *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calculations_total",
			Help:      "Count of pricing calculations by result.",
		}, []string{"result"})
		CalculationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calculation_duration_ms",
			Help:      "Latency of pricing calculations in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"result"})
		TaxFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_fallback_total",
			Help:      "Number of calculations that used the default tax rate.",
		})
		StaleResultsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_discarded_total",
			Help:      "Number of calculation results discarded as stale.",
		})
		DiscountRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_rejected_total",
			Help:      "Count of discount rules rejected by eligibility checks.",
		}, []string{"reason"})
		RateCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_cache_hits_total",
			Help:      "Currency rate lookups by cache outcome.",
		}, []string{"outcome"})

		mustRegisterCollector(reg, CalculationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CalculationsTotal = v
			}
		})
		mustRegisterCollector(reg, CalculationDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CalculationDuration = v
			}
		})
		mustRegisterCollector(reg, TaxFallbackTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				TaxFallbackTotal = v
			}
		})
		mustRegisterCollector(reg, StaleResultsDiscarded, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				StaleResultsDiscarded = v
			}
		})
		mustRegisterCollector(reg, DiscountRejectedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DiscountRejectedTotal = v
			}
		})
		mustRegisterCollector(reg, RateCacheHits, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RateCacheHits = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
