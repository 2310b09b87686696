package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/agentflow-go/flow/emit"
)

// Metrics collects Prometheus metrics for workflow execution. All metrics
// use the "agentflow" namespace. Expose the registry via promhttp for
// scraping.
type Metrics struct {
	registry *prometheus.Registry

	inflightNodes prometheus.Gauge
	activeStreams prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	retryDelay    prometheus.Histogram
	retries       *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	checkpoints   *prometheus.CounterVec
	broadcastErrs prometheus.Counter
}

// NewMetrics creates a metrics collector backed by its own registry, so
// multiple runtimes in one process do not collide.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "inflight_nodes",
			Help:      "Number of workflow nodes currently executing",
		}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "active_streams",
			Help:      "Number of registered active streams",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"workflow", "node", "status"}),
		retryDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Name:      "retry_delay_ms",
			Help:      "Backoff delay applied before a retry attempt",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 5000, 30000},
		}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "retries_total",
			Help:      "Retry attempts across all workflow nodes",
		}, []string{"workflow", "node"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "recoveries_total",
			Help:      "Recovery actions taken, labeled by action",
		}, []string{"action"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "checkpoints_total",
			Help:      "Checkpoints created, labeled by kind",
		}, []string{"kind"}),
		broadcastErrs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "broadcast_failures_total",
			Help:      "Progress broadcast messages that failed to send",
		}),
	}
}

// Registry returns the backing registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) nodeStarted()  { m.inflightNodes.Inc() }
func (m *Metrics) nodeFinished() { m.inflightNodes.Dec() }

// StreamStarted and StreamEnded track the active stream gauge.
func (m *Metrics) StreamStarted() { m.activeStreams.Inc() }
func (m *Metrics) StreamEnded()   { m.activeStreams.Dec() }

func (m *Metrics) observeStep(workflow, node string, d time.Duration, status string) {
	m.stepLatency.WithLabelValues(workflow, node, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) countRetries(workflow, node string, n int, delay time.Duration) {
	if n <= 0 {
		return
	}
	m.retries.WithLabelValues(workflow, node).Add(float64(n))
	m.retryDelay.Observe(float64(delay.Milliseconds()))
}

// Observer adapts the collector into an event emitter so recovery actions,
// checkpoint creations, and broadcast failures are counted wherever they
// happen. Chain it with the real emitter via emit.Multi.
func (m *Metrics) Observer() emit.Emitter {
	return &metricsObserver{m: m}
}

type metricsObserver struct {
	m *Metrics
}

func (o *metricsObserver) Emit(event emit.Event) {
	switch event.Msg {
	case "recovery_action":
		if action, ok := event.Meta["action"].(string); ok {
			o.m.recoveries.WithLabelValues(action).Inc()
		}
	case "checkpoint_created":
		kind, _ := event.Meta["kind"].(string)
		if kind == "" {
			kind = "unknown"
		}
		o.m.checkpoints.WithLabelValues(kind).Inc()
	case "progress_broadcast_failed":
		o.m.broadcastErrs.Inc()
	}
}
