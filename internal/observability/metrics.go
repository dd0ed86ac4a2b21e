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
			Name: "messaging_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging core.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	onlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_online_users",
			Help: "Number of users with at least one active connection.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	retentionTimersArmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_retention_timers_armed_total",
			Help: "Total number of message expiry timers armed.",
		},
	)
	retentionTimersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_retention_timers_fired_total",
			Help: "Total number of message expiry timers fired, by outcome.",
		},
		[]string{"outcome"},
	)
	reaperSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_reaper_sweeps_total",
			Help: "Total number of reaper sweep passes.",
		},
	)
	reapedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_reaped_messages_total",
			Help: "Total number of expired messages deleted by the reaper.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		onlineUsers,
		amqpPublishErrorsTotal,
		retentionTimersArmed,
		retentionTimersFired,
		reaperSweepsTotal,
		reapedMessagesTotal,
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

func SetOnlineUsers(n int) {
	onlineUsers.Set(float64(n))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncRetentionTimerArmed() {
	retentionTimersArmed.Inc()
}

func IncRetentionTimerFired(outcome string) {
	retentionTimersFired.WithLabelValues(outcome).Inc()
}

func IncReaperSweep() {
	reaperSweepsTotal.Inc()
}

func AddReapedMessages(n int64) {
	reapedMessagesTotal.Add(float64(n))
}
