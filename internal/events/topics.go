package events

// Topic constants for domain events emitted by the calculation pipeline.
const (
	TopicResultUpdated     = "pricing.result.updated"
	TopicResultDiscarded   = "pricing.result.discarded"
	TopicTaxFallback       = "pricing.tax.fallback"
	TopicDiscountRejected  = "pricing.discount.rejected"
	TopicRatesRefreshed    = "pricing.rates.refreshed"
	TopicRatesRefreshError = "pricing.rates.refresh_error"
)

// DefaultTopics returns the canonical list of topics that support subscriptions.
func DefaultTopics() []string {
	return []string{
		TopicResultUpdated,
		TopicResultDiscarded,
		TopicTaxFallback,
		TopicDiscountRejected,
		TopicRatesRefreshed,
		TopicRatesRefreshError,
	}
}
