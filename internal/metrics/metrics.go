package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	IncomingMessages *prometheus.CounterVec
	OutgoingMessages *prometheus.CounterVec
	Routes           *prometheus.CounterVec
	LLMRequests      *prometheus.CounterVec
	LLMLatency       *prometheus.HistogramVec
	GeocoderRequests *prometheus.CounterVec
	GeocoderLatency  *prometheus.HistogramVec
	PriceLookups     *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			IncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "incoming_messages_total",
				Help:      "Total inbound farmer messages by channel and kind.",
			}, []string{"channel", "kind"}),
			OutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outgoing_messages_total",
				Help:      "Total replies sent by channel.",
			}, []string{"channel"}),
			Routes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routes_total",
				Help:      "Router decisions by branch.",
			}, []string{"branch"}),
			LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total LLM requests by operation and outcome.",
			}, []string{"operation", "status"}),
			LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Latency distribution for LLM calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation", "status"}),
			GeocoderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "geocoder_requests_total",
				Help:      "Total reverse geocoding attempts by outcome.",
			}, []string{"status"}),
			GeocoderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geocoder_request_duration_seconds",
				Help:      "Latency distribution for reverse geocoding attempts.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			PriceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_lookups_total",
				Help:      "Price lookups by source (table or estimate).",
			}, []string{"source"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.IncomingMessages,
			metricsInstance.OutgoingMessages,
			metricsInstance.Routes,
			metricsInstance.LLMRequests,
			metricsInstance.LLMLatency,
			metricsInstance.GeocoderRequests,
			metricsInstance.GeocoderLatency,
			metricsInstance.PriceLookups,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// IncError bumps the error counter for component. Safe on a nil receiver.
func (m *Metrics) IncError(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
