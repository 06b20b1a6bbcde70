package remote

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "remote"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of requests sent, labeled by opcode.
	Requests metrics.Counter
	// Number of retried attempts, labeled by reason.
	Retries metrics.Counter
	// Number of redirects followed.
	Redirects metrics.Counter
	// Number of addresses removed from the candidate list.
	Failovers metrics.Counter
	// Number of open handshakes performed.
	Handshakes metrics.Counter
	// Number of operations that gave up.
	Fatal metrics.Counter
	// Number of metadata change notifications, labeled by topic.
	MetadataChanges metrics.Counter
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
		Requests: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests",
			Help:      "Number of requests sent, labeled by opcode.",
		}, append(labels, "opcode")).With(labelsAndValues...),
		Retries: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "retries",
			Help:      "Number of retried attempts, labeled by reason.",
		}, append(labels, "reason")).With(labelsAndValues...),
		Redirects: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "redirects",
			Help:      "Number of redirects followed.",
		}, labels).With(labelsAndValues...),
		Failovers: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "failovers",
			Help:      "Number of addresses removed from the candidate list.",
		}, labels).With(labelsAndValues...),
		Handshakes: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "handshakes",
			Help:      "Number of open handshakes performed.",
		}, labels).With(labelsAndValues...),
		Fatal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "fatal",
			Help:      "Number of operations that gave up.",
		}, labels).With(labelsAndValues...),
		MetadataChanges: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "metadata_changes",
			Help:      "Number of metadata change notifications, labeled by topic.",
		}, append(labels, "topic")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Requests:        discard.NewCounter(),
		Retries:         discard.NewCounter(),
		Redirects:       discard.NewCounter(),
		Failovers:       discard.NewCounter(),
		Handshakes:      discard.NewCounter(),
		Fatal:           discard.NewCounter(),
		MetadataChanges: discard.NewCounter(),
	}
}
