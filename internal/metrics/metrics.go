package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_sessions_active",
			Help: "Number of live websocket sessions.",
		},
	)
	topicsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_topics_active",
			Help: "Number of rooms with at least one live subscriber.",
		},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_published_total",
			Help: "Room events published, by event type.",
		},
		[]string{"event"},
	)
	deliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_event_deliveries_total",
			Help: "Room events enqueued to subscribers.",
		},
	)
	subscribersEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_subscribers_evicted_total",
			Help: "Subscribers dropped because their outbound buffer was full.",
		},
	)
	inboundFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_inbound_frames_total",
			Help: "Inbound websocket frames by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	auditPublishErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_audit_publish_errors_total",
			Help: "Total number of audit publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		sessionsActive,
		topicsActive,
		eventsPublished,
		deliveriesTotal,
		subscribersEvicted,
		inboundFrames,
		auditPublishErrors,
	)
}

func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SessionOpened()                   { sessionsActive.Inc() }
func SessionClosed()                   { sessionsActive.Dec() }
func SetTopics(n int)                  { topicsActive.Set(float64(n)) }
func EventPublished(event string)      { eventsPublished.WithLabelValues(event).Inc() }
func Delivered(n int)                  { deliveriesTotal.Add(float64(n)) }
func SubscriberEvicted()               { subscribersEvicted.Inc() }
func InboundFrame(typ, outcome string) { inboundFrames.WithLabelValues(typ, outcome).Inc() }
func AuditPublishError()               { auditPublishErrors.Inc() }
