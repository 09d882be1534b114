package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iliyamo/temple-portals/internal/model"
)

const metricNamePrefix = "temple_sync_"

// Metrics counts view traffic per portal. A nil *Metrics records nothing.
type Metrics struct {
	applied     *prometheus.CounterVec
	ignored     *prometheus.CounterVec
	resyncs     *prometheus.CounterVec
	feedFailure *prometheus.CounterVec
	listFailure *prometheus.CounterVec
	state       *prometheus.GaugeVec
}

// NewMetrics registers the engine's collectors on reg. A nil registry
// returns nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Metrics{
		applied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "events_applied_total",
			Help: "Change events that modified a portal view",
		}, []string{"portal", "resource", "outcome"}),
		ignored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "events_ignored_total",
			Help: "Duplicate, stale or unknown-row events dropped by a portal view",
		}, []string{"portal", "resource"}),
		resyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "resyncs_total",
			Help: "Full re-reads triggered by a feed reconnect or retry",
		}, []string{"portal", "resource"}),
		feedFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "feed_failures_total",
			Help: "Failed change feed subscriptions",
		}, []string{"portal", "resource"}),
		listFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: metricNamePrefix + "list_failures_total",
			Help: "Failed full reads of a resource",
		}, []string{"portal", "resource"}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricNamePrefix + "session_state",
			Help: "Session state: 0 disconnected, 1 connecting, 2 live, 3 reconnecting",
		}, []string{"portal"}),
	}
}

func (m *Metrics) outcome(p model.PortalType, resource string, o Outcome) {
	if m == nil {
		return
	}
	if o == Unchanged {
		m.ignored.WithLabelValues(string(p), resource).Inc()
		return
	}
	m.applied.WithLabelValues(string(p), resource, o.String()).Inc()
}

func (m *Metrics) resync(p model.PortalType, resource string) {
	if m != nil {
		m.resyncs.WithLabelValues(string(p), resource).Inc()
	}
}

func (m *Metrics) feedFailed(p model.PortalType, resource string) {
	if m != nil {
		m.feedFailure.WithLabelValues(string(p), resource).Inc()
	}
}

func (m *Metrics) listFailed(p model.PortalType, resource string) {
	if m != nil {
		m.listFailure.WithLabelValues(string(p), resource).Inc()
	}
}

func (m *Metrics) setState(p model.PortalType, s State) {
	if m != nil {
		m.state.WithLabelValues(string(p)).Set(float64(s))
	}
}

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case Replaced:
		return "replaced"
	case Removed:
		return "removed"
	}
	return "unchanged"
}
