package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests processed by the relay.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ws_active_connections",
			Help: "Number of registered websocket sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	broadcastDeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_broadcast_deliveries_total",
			Help: "Total number of per-connection broadcast deliveries.",
		},
	)
	broadcastFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_broadcast_failures_total",
			Help: "Total number of broadcast deliveries that evicted a connection.",
		},
	)
	messagesPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_persisted_total",
			Help: "Total number of messages written to history.",
		},
		[]string{"type"},
	)
	persistenceErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_persistence_errors_total",
			Help: "Total number of lost message writes.",
		},
	)
	heartbeatEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_heartbeat_evictions_total",
			Help: "Total number of connections evicted by the heartbeat monitor.",
		},
		[]string{"reason"},
	)
	mediaStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_media_stored_total",
			Help: "Total number of media payloads written to disk.",
		},
		[]string{"kind"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		broadcastDeliveriesTotal,
		broadcastFailuresTotal,
		messagesPersistedTotal,
		persistenceErrorsTotal,
		heartbeatEvictionsTotal,
		mediaStoredTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncBroadcastDelivery() {
	broadcastDeliveriesTotal.Inc()
}

func IncBroadcastFailure() {
	broadcastFailuresTotal.Inc()
}

func IncMessagePersisted(msgType string) {
	messagesPersistedTotal.WithLabelValues(msgType).Inc()
}

func IncPersistenceError() {
	persistenceErrorsTotal.Inc()
}

func IncHeartbeatEviction(reason string) {
	heartbeatEvictionsTotal.WithLabelValues(reason).Inc()
}

func IncMediaStored(kind string) {
	mediaStoredTotal.WithLabelValues(kind).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
