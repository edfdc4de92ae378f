package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_ws_connections",
		Help: "Current number of active websocket connections",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_online_users",
		Help: "Current number of users with at least one connection",
	})
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_messages_sent_total",
		Help: "Total number of messages accepted from senders",
	})
	MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_messages_delivered_total",
		Help: "Total number of per-recipient delivery transitions",
	})
	MessagesQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_messages_queued_total",
		Help: "Total number of messages queued for offline recipients",
	})
	CallsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_calls_active",
		Help: "Current number of non-terminal call sessions",
	})
	TypingTimers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_typing_timers",
		Help: "Current number of armed typing-expiry timers",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, OnlineUsers,
		MessagesSent, MessagesDelivered, MessagesQueued,
		CallsActive, TypingTimers,
		HTTPRequestsTotal, HTTPRequestDuration,
	)
}

// GinMiddleware records basic request metrics for Prometheus scraping.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HTTPRequestsTotal.With(labels).Inc()
		HTTPRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
