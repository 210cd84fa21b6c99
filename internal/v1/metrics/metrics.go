package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the watch-party coordination core.
//
// Naming convention: namespace_subsystem_name
// - namespace: sideby (application-level grouping)
// - subsystem: websocket, room, chat, signaling, resolver, kv, ratelimit
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, peers)
// - Counter: Cumulative events (messages processed, errors)
// - Histogram: Latency distributions (processing time, probe time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections (Gauge - current state)
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sideby",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sideby",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the number of participants in each room (GaugeVec with room_id label)
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sideby",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_id"})

	// RoomsCreated counts rooms created over process lifetime (Counter - cumulative)
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sideby",
		Subsystem: "room",
		Name:      "created_total",
		Help:      "Total rooms created",
	})

	// WebsocketEvents tracks the total number of WebSocket events processed (CounterVec - cumulative)
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sideby",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing WebSocket messages (HistogramVec)
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sideby",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// ChatMessages counts chat messages accepted into room history (Counter - cumulative)
	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sideby",
		Subsystem: "chat",
		Name:      "messages_total",
		Help:      "Total chat messages accepted",
	})

	// SignalingPeers tracks current peer-mesh membership per modality (GaugeVec - current state)
	SignalingPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sideby",
		Subsystem: "signaling",
		Name:      "peers_active",
		Help:      "Current signaling peers per modality",
	}, []string{"modality"})

	// ResolverResolutions counts source resolutions by resulting delivery type (CounterVec - cumulative)
	ResolverResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sideby",
		Subsystem: "resolver",
		Name:      "resolutions_total",
		Help:      "Total source resolutions by delivery type",
	}, []string{"delivery"})

	// ResolverProbeDuration tracks HEAD/range probe latency (Histogram)
	ResolverProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sideby",
		Subsystem: "resolver",
		Name:      "probe_duration_seconds",
		Help:      "Time spent probing candidate video URLs",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// CircuitBreakerState tracks the K/V breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sideby",
		Subsystem: "kv",
		Name:      "circuit_breaker_state",
		Help:      "K/V circuit breaker state (0=closed, 1=half-open, 2=open)",
	})

	// CircuitBreakerFailures counts K/V operations rejected or failed per operation (CounterVec)
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sideby",
		Subsystem: "kv",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total K/V operations that failed or were rejected by the breaker",
	}, []string{"operation"})

	// KvOperations counts K/V operations by outcome (CounterVec - cumulative)
	KvOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sideby",
		Subsystem: "kv",
		Name:      "operations_total",
		Help:      "Total K/V operations by outcome",
	}, []string{"operation", "status"})

	// RateLimitRequests counts rate-limit checks performed (CounterVec - cumulative)
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sideby",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total rate limit checks",
	}, []string{"scope"})

	// RateLimitExceeded counts rejected requests per scope (CounterVec - cumulative)
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sideby",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"scope"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
