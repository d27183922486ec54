// Package metrics holds the Prometheus collectors shared by the billing services.
// A nil *Metrics is valid and records nothing, which keeps tests free of registries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the billing core
type Metrics struct {
	// Labels: outcome (charged, replayed, skipped, insufficient, failed)
	Charges *prometheus.CounterVec
	// Labels: source (manual, bank_transfer, card, refund), outcome
	Credits *prometheus.CounterVec
	// Labels: event_type, outcome
	WebhookEvents *prometheus.CounterVec
	// Labels: result (hit, miss)
	ReportCacheLookups *prometheus.CounterVec
	// Labels: operation
	GatewayLatency *prometheus.HistogramVec
	// Labels: reason
	PricingFallbacks *prometheus.CounterVec
	PricingClamps    prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers every collector on reg and serves from gatherer
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Charges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_charges_total",
			Help: "Usage charges by outcome",
		}, []string{"outcome"}),
		Credits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_credits_total",
			Help: "Balance credits by source and outcome",
		}, []string{"source", "outcome"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Gateway webhook deliveries by event type and outcome",
		}, []string{"event_type", "outcome"}),
		ReportCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_report_cache_lookups_total",
			Help: "Report cache lookups by result",
		}, []string{"result"}),
		GatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_gateway_request_duration_seconds",
			Help:    "Latency of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		PricingFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_pricing_fallbacks_total",
			Help: "Usage priced with the fallback minimum cost",
		}, []string{"reason"}),
		PricingClamps: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_pricing_clamped_total",
			Help: "Usage billed at real cost because the destination rate exceeded the billed rate",
		}),
		gatherer: gatherer,
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ChargeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Charges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CreditOutcome(source, outcome string) {
	if m == nil {
		return
	}
	m.Credits.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) WebhookOutcome(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ReportCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) PricingFallback(reason string) {
	if m == nil {
		return
	}
	m.PricingFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) PricingClamped() {
	if m == nil {
		return
	}
	m.PricingClamps.Inc()
}

// ObserveGateway records the time since start for a gateway operation
func (m *Metrics) ObserveGateway(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.GatewayLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
