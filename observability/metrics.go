// Package observability exposes the gateway's counters and gauges.
// Delivery sheds are visible only here: they are never surfaced to the
// publisher or to the affected session.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections     prometheus.Gauge
	Topics          prometheus.Gauge
	Sessions        prometheus.Gauge
	FramesDelivered prometheus.Counter
	FramesShed      prometheus.Counter
	AuthFailures    prometheus.Counter
	Envelopes       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections",
			Help: "Number of live websocket connections.",
		}),
		Topics: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_topics",
			Help: "Number of topics with at least one subscriber.",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_sessions_subscribed",
			Help: "Number of sessions known to the topic registry.",
		}),
		FramesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_frames_delivered_total",
			Help: "Frames enqueued on a subscriber's outbound path.",
		}),
		FramesShed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_frames_shed_total",
			Help: "Frames dropped because a subscriber's outbound queue was full or closed.",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Handshakes rejected with close code 4001.",
		}),
		Envelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_envelopes_total",
			Help: "Inbound envelopes by type tag.",
		}, []string{"type"}),
	}
}
