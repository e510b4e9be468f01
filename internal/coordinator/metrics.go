package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricSessionsActive  = "debate_sessions_active"
	MetricJoins           = "debate_joins_total"
	MetricJoinRejections  = "debate_join_rejections_total"
	MetricActions         = "debate_actions_total"
	MetricEventsPublished = "debate_events_published_total"
	MetricEventsDropped   = "debate_events_dropped_total"
	MetricProviderErrors  = "debate_room_provider_errors_total"
	MetricVotes           = "debate_votes_total"
	MetricEvictions       = "debate_heartbeat_evictions_total"
)

// Action results recorded by MetricActions.
const (
	ResultOK     = "ok"
	ResultDenied = "denied"
	ResultError  = "error"
)

// Metrics contains Prometheus metrics for live sessions.
// All operations are thread-safe.
type Metrics struct {
	sessionsActive  prometheus.Gauge
	joins           *prometheus.CounterVec
	joinRejections  *prometheus.CounterVec
	actions         *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	providerErrors  *prometheus.CounterVec
	votes           *prometheus.CounterVec
	evictions       prometheus.Counter
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them.
func NewMetrics() *Metrics {
	return &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSessionsActive,
			Help: "Number of debates with an open in-memory session",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricJoins,
			Help: "Total number of accepted session joins by role",
		}, []string{"role"}),
		joinRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricJoinRejections,
			Help: "Total number of rejected session joins by reason",
		}, []string{"reason"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricActions,
			Help: "Total number of session actions by action and result",
		}, []string{"action", "result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsPublished,
			Help: "Total number of events published by type",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsDropped,
			Help: "Total number of events dropped from slow subscriber queues",
		}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricProviderErrors,
			Help: "Total number of room provider failures by operation",
		}, []string{"operation"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricVotes,
			Help: "Total number of counted votes by position",
		}, []string{"position"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEvictions,
			Help: "Total number of connections evicted after a missed heartbeat",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sessionsActive,
		m.joins,
		m.joinRejections,
		m.actions,
		m.eventsPublished,
		m.eventsDropped,
		m.providerErrors,
		m.votes,
		m.evictions,
	}
}

func (m *Metrics) setSessionsActive(n int) { m.sessionsActive.Set(float64(n)) }

func (m *Metrics) incJoin(role string) { m.joins.WithLabelValues(role).Inc() }

func (m *Metrics) incJoinRejected(reason string) { m.joinRejections.WithLabelValues(reason).Inc() }

func (m *Metrics) incAction(action, result string) { m.actions.WithLabelValues(action, result).Inc() }

func (m *Metrics) incPublished(eventType string) { m.eventsPublished.WithLabelValues(eventType).Inc() }

func (m *Metrics) incDropped(n int) { m.eventsDropped.Add(float64(n)) }

func (m *Metrics) incProviderError(op string) { m.providerErrors.WithLabelValues(op).Inc() }

func (m *Metrics) incVote(position string) { m.votes.WithLabelValues(position).Inc() }

func (m *Metrics) incEviction() { m.evictions.Inc() }
