package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "teamchat",
		Subsystem: "ws",
		Name:      "connections",
		Help:      "Currently connected employees.",
	})

	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "teamchat",
		Subsystem: "ws",
		Name:      "rooms",
		Help:      "Conversation rooms with at least one subscriber.",
	})

	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamchat",
		Subsystem: "ws",
		Name:      "events_total",
		Help:      "Inbound frames processed, by event name.",
	}, []string{"event"})

	droppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "teamchat",
		Subsystem: "ws",
		Name:      "dropped_frames_total",
		Help:      "Outbound frames dropped because an egress buffer stayed full.",
	})
)
