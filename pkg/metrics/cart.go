package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CartMetrics records cart mutations, checkout attempts and storage health.
type CartMetrics struct {
	mutations       *prometheus.CounterVec
	checkouts       *prometheus.CounterVec
	checkoutLatency *prometheus.HistogramVec
	storageFailures *prometheus.CounterVec
	degraded        prometheus.Gauge
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Cart mutations by operation and result.",
	}, []string{"op", "result"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_checkouts_total",
		Help: "Checkout attempts by outcome code.",
	}, []string{"outcome"})
	checkoutLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_checkout_duration_seconds",
		Help:    "Latency of order submissions to the restaurant backend.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	storageFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_storage_failures_total",
		Help: "Persistence failures that pushed the cart into memory-only mode.",
	}, []string{"op"})
	degraded := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cart_storage_degraded",
		Help: "1 while carts are held in memory only.",
	})
	reg.MustRegister(mutations, checkouts, checkoutLatency, storageFailures, degraded)
	return &CartMetrics{
		mutations:       mutations,
		checkouts:       checkouts,
		checkoutLatency: checkoutLatency,
		storageFailures: storageFailures,
		degraded:        degraded,
	}
}

// IncMutation counts one cart mutation.
func (c *CartMetrics) IncMutation(op, result string) {
	if c == nil || c.mutations == nil {
		return
	}
	c.mutations.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}

// ObserveCheckout counts a checkout attempt and records how long the submission took.
func (c *CartMetrics) ObserveCheckout(outcome string, duration time.Duration) {
	if c == nil || c.checkouts == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	c.checkouts.WithLabelValues(outcome).Inc()
	if duration > 0 {
		c.checkoutLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// IncStorageFailure counts a failed storage operation.
func (c *CartMetrics) IncStorageFailure(op string) {
	if c == nil || c.storageFailures == nil {
		return
	}
	c.storageFailures.WithLabelValues(normalizeLabel(op)).Inc()
}

// SetDegraded flips the degraded gauge.
func (c *CartMetrics) SetDegraded(on bool) {
	if c == nil || c.degraded == nil {
		return
	}
	if on {
		c.degraded.Set(1)
		return
	}
	c.degraded.Set(0)
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
