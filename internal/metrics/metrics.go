// Package metrics defines Prometheus collectors for the broadcast core.
//
// Metric naming follows Prometheus conventions:
//   - groupchat_ prefix for all metrics
//   - _total suffix for counters
//
// Topic names are client supplied, so they are deliberately not used as labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements chat.Observer on top of Prometheus collectors.
type Metrics struct {
	published      prometheus.Counter
	rejected       *prometheus.CounterVec
	enqueued       prometheus.Counter
	evicted        prometheus.Counter
	sessionsActive prometheus.Gauge
	sessionsClosed *prometheus.CounterVec
}

// MustNew builds the collectors and registers them with reg, panicking on
// duplicate registration. Tests should pass a fresh prometheus.NewRegistry().
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupchat",
			Name:      "messages_published_total",
			Help:      "Messages accepted by the publish endpoint.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupchat",
			Name:      "messages_rejected_total",
			Help:      "Publish requests rejected, by error code.",
		}, []string{"code"}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupchat",
			Name:      "deliveries_enqueued_total",
			Help:      "Messages placed on a subscriber queue.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupchat",
			Name:      "deliveries_evicted_total",
			Help:      "Queued messages dropped because a subscriber fell behind.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "groupchat",
			Name:      "sessions_active",
			Help:      "Subscriber sessions currently open.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupchat",
			Name:      "sessions_closed_total",
			Help:      "Subscriber sessions closed, by cause.",
		}, []string{"cause"}),
	}

	reg.MustRegister(
		m.published,
		m.rejected,
		m.enqueued,
		m.evicted,
		m.sessionsActive,
		m.sessionsClosed,
	)
	return m
}

func (m *Metrics) Published(string) { m.published.Inc() }

func (m *Metrics) Rejected(code string) { m.rejected.WithLabelValues(code).Inc() }

func (m *Metrics) Enqueued(string) { m.enqueued.Inc() }

func (m *Metrics) Evicted(string) { m.evicted.Inc() }

func (m *Metrics) SessionOpened(string) { m.sessionsActive.Inc() }

func (m *Metrics) SessionClosed(_ string, transportFailure bool) {
	m.sessionsActive.Dec()
	cause := "graceful"
	if transportFailure {
		cause = "transport"
	}
	m.sessionsClosed.WithLabelValues(cause).Inc()
}
