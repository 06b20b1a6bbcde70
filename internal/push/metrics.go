package push

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "push"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of push frames received, labeled by subtype.
	Frames metrics.Counter
	// Number of registered live-query listeners.
	LiveQueries metrics.Gauge
	// Number of times the push connection was re-established.
	Reconnects metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Frames: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "frames",
			Help:      "Number of push frames received, labeled by subtype.",
		}, append(labels, "subtype")).With(labelsAndValues...),
		LiveQueries: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "live_queries",
			Help:      "Number of registered live-query listeners.",
		}, labels).With(labelsAndValues...),
		Reconnects: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reconnects",
			Help:      "Number of times the push connection was re-established.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Frames:      discard.NewCounter(),
		LiveQueries: discard.NewGauge(),
		Reconnects:  discard.NewCounter(),
	}
}
