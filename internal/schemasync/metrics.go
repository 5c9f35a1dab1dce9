package schemasync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the coordinator's Prometheus collectors.
type Metrics struct {
	events        *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	deliveries    *prometheus.CounterVec
	flushSkipped  prometheus.Counter
	pending       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schemasync_document_events_total",
			Help: "Document events by outcome",
		}, []string{"outcome"}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "schemasync_fetch_duration_seconds",
			Help:    "Schema fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schemasync_deliveries_total",
			Help: "Schemas delivered by sink",
		}, []string{"sink"}),
		flushSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "schemasync_flush_not_ready_total",
			Help: "Flushes skipped because the sink was not ready",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "schemasync_pending_schemas",
			Help: "Schemas staged but not yet delivered",
		}),
	}
}

func (m *Metrics) observeEvent(o Outcome) {
	m.events.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) observeFetch(d time.Duration) {
	m.fetchDuration.Observe(d.Seconds())
}
