package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "numlink"

var (
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Total number of messages written to peers",
		},
		[]string{"pattern"},
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Total number of messages surfaced to the application",
		},
		[]string{"pattern"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_dropped_total",
			Help:      "Messages dropped by the transport (filtered, stale or slow peer)",
		},
		[]string{"pattern", "reason"},
	)

	Peers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "peers",
			Help:      "Connected peers per pattern",
		},
		[]string{"pattern"},
	)

	DialAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "dial_attempts_total",
			Help:      "Dial attempts made by the reconnect policy",
		},
		[]string{"result"},
	)

	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Requests submitted through the dispatcher by outcome",
		},
		[]string{"outcome"},
	)

	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Round trip time of completed requests",
			Buckets:   prometheus.DefBuckets,
		},
	)

	LogEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "logqueue",
			Name:      "entries_total",
			Help:      "Log entries pushed by category",
		},
		[]string{"category"},
	)
)
