package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "omnidesk_webhook_deliveries_total", Help: "Webhook deliveries by provider and outcome"},
		[]string{"provider", "outcome"},
	)
	BroadcastEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "omnidesk_broadcast_events_total", Help: "Events fanned out by the hub"},
		[]string{"type"},
	)
	LiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "omnidesk_live_subscribers", Help: "Live dashboard stream subscribers"},
	)
	PBXConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "omnidesk_pbx_connected", Help: "1 when the PBX signaling connection is up"},
	)
	SignalEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "omnidesk_pbx_signal_events_total", Help: "PBX signaling events by name"},
		[]string{"event"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(WebhookDeliveries, BroadcastEvents, LiveSubscribers, PBXConnected, SignalEvents)
}
