package connpool

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "connpool"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of open channels, idle or in use.
	OpenChannels metrics.Gauge
	// Number of connections dialed.
	Dials metrics.Counter
	// Number of failed dials.
	DialFailures metrics.Counter
	// Number of evicted channels.
	Evictions metrics.Counter
	// Number of idle channels found locked and evicted on acquire.
	PoisonedEvictions metrics.Counter
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
		OpenChannels: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "open_channels",
			Help:      "Number of open channels, idle or in use.",
		}, labels).With(labelsAndValues...),
		Dials: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dials",
			Help:      "Number of connections dialed.",
		}, labels).With(labelsAndValues...),
		DialFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dial_failures",
			Help:      "Number of failed dials.",
		}, labels).With(labelsAndValues...),
		Evictions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "evictions",
			Help:      "Number of evicted channels.",
		}, labels).With(labelsAndValues...),
		PoisonedEvictions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "poisoned_evictions",
			Help:      "Number of idle channels found locked and evicted on acquire.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		OpenChannels:      discard.NewGauge(),
		Dials:             discard.NewCounter(),
		DialFailures:      discard.NewCounter(),
		Evictions:         discard.NewCounter(),
		PoisonedEvictions: discard.NewCounter(),
	}
}
