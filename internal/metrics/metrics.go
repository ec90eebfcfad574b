package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Outbound webhook delivery attempts by event type and outcome",
		},
		[]string{"event", "status"},
	)

	WebhookDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_delivery_duration_seconds",
			Help:    "Duration of outbound webhook HTTP calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Currently connected WebSocket clients",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served by method and status code",
		},
		[]string{"method", "status"},
	)
)

func RecordWebhookDelivery(event, status string, duration time.Duration) {
	WebhookDeliveries.WithLabelValues(event, status).Inc()
	WebhookDeliveryDuration.WithLabelValues(event).Observe(duration.Seconds())
}

func RecordHTTPRequest(method string, status int) {
	HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
