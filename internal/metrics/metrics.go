// Package metrics holds the Prometheus collectors for sync runs and the
// remote document server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "subtrackr"

// Sync results.
const (
	ResultOK          = "ok"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

// Envelope directions.
const (
	DirectionPulled = "pulled"
	DirectionPushed = "pushed"
)

// Sync records engine activity. A nil *Sync is valid and records nothing.
type Sync struct {
	runs      *prometheus.CounterVec
	envelopes *prometheus.CounterVec
	conflicts prometheus.Counter
	duration  prometheus.Histogram
}

// NewSync registers the sync collectors with reg.
func NewSync(reg prometheus.Registerer) *Sync {
	f := promauto.With(reg)
	return &Sync{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Sync runs by result.",
		}, []string{"result"}),
		envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "envelopes_total",
			Help:      "Envelopes transferred by direction.",
		}, []string{"direction"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "conflicts_total",
			Help:      "Records where local and remote both changed since the last sync.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Sync run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveRun records one finished run.
func (m *Sync) ObserveRun(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.duration.Observe(took.Seconds())
}

// AddEnvelopes counts n envelopes moved in direction.
func (m *Sync) AddEnvelopes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.envelopes.WithLabelValues(direction).Add(float64(n))
}

// AddConflicts counts n concurrent edits resolved by merge.
func (m *Sync) AddConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conflicts.Add(float64(n))
}

// Remote records requests handled by the document server.
type Remote struct {
	requests *prometheus.CounterVec
}

// NewRemote registers the remote server collectors with reg.
func NewRemote(reg prometheus.Registerer) *Remote {
	return &Remote{
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Remote store requests by operation and HTTP status.",
		}, []string{"op", "code"}),
	}
}

// ObserveRequest counts one request.
func (m *Remote) ObserveRequest(op string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, http.StatusText(code)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
