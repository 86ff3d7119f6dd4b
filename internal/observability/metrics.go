package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronenet",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"surface", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dronenet",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"surface", "method", "route", "status"},
	)
	nodeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronenet",
			Subsystem: "node",
			Name:      "events_total",
			Help:      "Events emitted by nodes, by role and event name.",
		},
		[]string{"role", "event"},
	)
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronenet",
			Subsystem: "packet",
			Name:      "sent_total",
			Help:      "Packets handed to a neighbour, by sender role and body kind.",
		},
		[]string{"role", "kind"},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronenet",
			Subsystem: "packet",
			Name:      "dropped_total",
			Help:      "Fragments dropped by drones.",
		},
		[]string{"drone"},
	)
	shortcuts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronenet",
			Subsystem: "packet",
			Name:      "shortcuts_total",
			Help:      "Control packets delivered by the controller on behalf of a drone.",
		},
		[]string{"delivered"},
	)
	validations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dronenet",
			Subsystem: "topology",
			Name:      "validations_total",
			Help:      "Topology validation verdicts.",
		},
		[]string{"op", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, nodeEvents, packetsSent, packetsDropped, shortcuts, validations)
	})
}

func RecordHTTPRequest(surface, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(surface, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(surface, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordEvent(role, event string) {
	RegisterMetrics()
	nodeEvents.WithLabelValues(role, event).Inc()
}

func RecordPacketSent(role, kind string) {
	RegisterMetrics()
	packetsSent.WithLabelValues(role, kind).Inc()
}

func RecordPacketDropped(drone uint8) {
	RegisterMetrics()
	packetsDropped.WithLabelValues(strconv.Itoa(int(drone))).Inc()
}

func RecordShortcut(delivered bool) {
	RegisterMetrics()
	shortcuts.WithLabelValues(strconv.FormatBool(delivered)).Inc()
}

// RecordValidation counts one verdict for op (load, add_edge, crash, ...).
func RecordValidation(op string, err error) {
	RegisterMetrics()
	result := "valid"
	if err != nil {
		result = "invalid"
	}
	validations.WithLabelValues(op, result).Inc()
}
