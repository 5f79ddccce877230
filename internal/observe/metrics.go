// Package observe exposes relay metrics for operators.
package observe

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics counts VAA intake and dispatch outcomes.
type RelayMetrics struct {
	Received   prometheus.Counter
	Dispatched *prometheus.CounterVec
	Rejected   *prometheus.CounterVec
	Skipped    prometheus.Counter
}

var (
	relayMetricsOnce sync.Once
	relayRegistry    *RelayMetrics
)

// Metrics returns the lazily-initialised relay metrics registry.
func Metrics() *RelayMetrics {
	relayMetricsOnce.Do(func() {
		relayRegistry = &RelayMetrics{
			Received: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lockbox",
				Subsystem: "relay",
				Name:      "vaas_received_total",
				Help:      "Total signed VAAs received from the spy stream.",
			}),
			Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lockbox",
				Subsystem: "relay",
				Name:      "messages_dispatched_total",
				Help:      "Governance messages executed, segmented by action.",
			}, []string{"action"}),
			Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lockbox",
				Subsystem: "relay",
				Name:      "messages_rejected_total",
				Help:      "Governance messages rejected by the verification gate, segmented by reason.",
			}, []string{"reason"}),
			Skipped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lockbox",
				Subsystem: "relay",
				Name:      "vaas_skipped_total",
				Help:      "VAAs ignored because they were not sent by the configured emitter.",
			}),
		}
		prometheus.MustRegister(
			relayRegistry.Received,
			relayRegistry.Dispatched,
			relayRegistry.Rejected,
			relayRegistry.Skipped,
		)
	})
	return relayRegistry
}
