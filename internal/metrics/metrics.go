package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_events_total",
		Help: "Total number of real-time events published, by event name",
	}, []string{"event"})
	WsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_dropped_total",
		Help: "Connections dropped because their send buffer was full",
	})
	MessagesPostedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_posted_total",
		Help: "Total number of chat messages persisted",
	})
	BansSweptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_bans_swept_total",
		Help: "Expired bans processed by the sweeper, by result",
	}, []string{"result"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, WsEventsTotal, WsDroppedTotal, MessagesPostedTotal,
		BansSweptTotal, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
