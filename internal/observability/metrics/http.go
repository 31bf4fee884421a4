// Package metrics provides HTTP API metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for the HTTP and WebSocket surface
type HTTPMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	websocketClientsGauge  *prometheus.GaugeVec
	websocketMessagesTotal *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewHTTPMetrics creates and registers new HTTP metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *HTTPMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
		},
		[]string{"method", "path"},
	)

	m.websocketClientsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "websocket_clients",
		Help: "Current number of connected WebSocket clients",
	}, []string{"endpoint"})

	m.websocketMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"endpoint", "type"}, // type: progress, heartbeat
	)

	m.collectors = []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.websocketClientsGauge,
		m.websocketMessagesTotal,
	}
}

// Describe implements the Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordRequest records a handled HTTP request
func (m *HTTPMetrics) RecordRequest(method, path, status string) {
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRequestDuration records the duration of an HTTP request
func (m *HTTPMetrics) RecordRequestDuration(method, path string, seconds float64) {
	m.requestDuration.WithLabelValues(method, path).Observe(seconds)
}

// UpdateWebSocketClients sets the number of connected clients for an endpoint
func (m *HTTPMetrics) UpdateWebSocketClients(endpoint string, count int) {
	m.websocketClientsGauge.WithLabelValues(endpoint).Set(float64(count))
}

// RecordWebSocketMessage records a broadcast WebSocket message
func (m *HTTPMetrics) RecordWebSocketMessage(endpoint, messageType string) {
	m.websocketMessagesTotal.WithLabelValues(endpoint, messageType).Inc()
}
