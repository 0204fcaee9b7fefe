package usage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors tracker events into Prometheus.
type Metrics struct {
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	dataRequests    *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		providerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcache_provider_calls_total",
				Help: "Total number of external provider calls",
			},
			[]string{"provider", "result"},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketcache_provider_call_duration_seconds",
				Help:    "Duration of external provider calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		dataRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcache_data_requests_total",
				Help: "Total number of served data requests by source",
			},
			[]string{"source"},
		),
		requestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketcache_data_request_duration_seconds",
				Help:    "Duration of served data requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcache_cache_lookups_total",
				Help: "Total number of in-memory cache lookups",
			},
			[]string{"result"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcache_errors_total",
				Help: "Total number of logged errors by kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) recordAPICall(provider string, success bool, d time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	m.providerCalls.WithLabelValues(provider, result).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) recordDataRequest(source string, d time.Duration) {
	m.dataRequests.WithLabelValues(source).Inc()
	m.requestLatency.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) recordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) recordError(kind string) {
	m.errorsTotal.WithLabelValues(kind).Inc()
}
