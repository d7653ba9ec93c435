package groupactivity

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the relay's prometheus instruments.
type Metrics struct {
	Sockets         prometheus.Gauge
	Frames          *prometheus.CounterVec
	SessionsCreated prometheus.Counter
	Rejected        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "activitytracker",
			Subsystem: "group_activity",
			Name:      "open_sockets",
			Help:      "Participant websockets currently open.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "activitytracker",
			Subsystem: "group_activity",
			Name:      "frames_total",
			Help:      "Frames received from participants, by message type.",
		}, []string{"type"}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "activitytracker",
			Subsystem: "group_activity",
			Name:      "sessions_created_total",
			Help:      "Group sessions created.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "activitytracker",
			Subsystem: "group_activity",
			Name:      "rejected_total",
			Help:      "Socket frames or handshakes refused, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Sockets, m.Frames, m.SessionsCreated, m.Rejected)
	}
	return m
}
