package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Lecture pipeline metrics
	LoadsTotal      *prometheus.CounterVec
	LoadDuration    prometheus.Histogram
	BlocksTotal     *prometheus.CounterVec
	BlockDuration   *prometheus.HistogramVec
	ContainerFaults prometheus.Counter

	// Resource lifecycle metrics
	ResourcesRegistered *prometheus.CounterVec
	ResourcesReleased   *prometheus.CounterVec
	ReleaseFailures     *prometheus.CounterVec
	Teardowns           prometheus.Counter

	// View metrics
	ViewsActive prometheus.Gauge
	ViewsTotal  prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint
type Snapshot struct {
	TotalRequests int64 `json:"total_requests"`
	TotalErrors   int64 `json:"total_errors"`
	Loads         int64 `json:"loads"`
	LoadFailures  int64 `json:"load_failures"`
	BlockFailures int64 `json:"block_failures"`
	Released      int64 `json:"released"`
	Teardowns     int64 `json:"teardowns"`
}

// NewMetrics creates a metrics collector registered on reg.
// Passing a fresh prometheus.NewRegistry keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		LoadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_content_loads_total",
				Help: "Lecture content loads by outcome",
			},
			[]string{"outcome"},
		),
		LoadDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lectern_content_load_duration_seconds",
				Help:    "Lecture content fetch duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		BlocksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_blocks_total",
				Help: "Code blocks processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		BlockDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectern_block_duration_seconds",
				Help:    "Code block processing duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"kind"},
		),
		ContainerFaults: f.NewCounter(
			prometheus.CounterOpts{
				Name: "lectern_container_not_ready_total",
				Help: "Executions aborted because the content container never populated",
			},
		),

		ResourcesRegistered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_resources_registered_total",
				Help: "Resource handles registered by embedded code",
			},
			[]string{"kind"},
		),
		ResourcesReleased: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_resources_released_total",
				Help: "Resource handles released during teardown",
			},
			[]string{"kind"},
		),
		ReleaseFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_release_failures_total",
				Help: "Teardown steps or handles that failed to release",
			},
			[]string{"step"},
		),
		Teardowns: f.NewCounter(
			prometheus.CounterOpts{
				Name: "lectern_teardowns_total",
				Help: "Completed view teardowns",
			},
		),

		ViewsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "lectern_views_active",
				Help: "Number of mounted lecture views",
			},
		),
		ViewsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "lectern_views_total",
				Help: "Total number of lecture views mounted",
			},
		),

		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "lectern_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectern_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordLoad records a content load; outcome is "ok" or an error kind
func (m *Metrics) RecordLoad(outcome string, duration time.Duration) {
	m.LoadsTotal.WithLabelValues(outcome).Inc()
	m.LoadDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Loads++
	if outcome != "ok" {
		m.snapshot.LoadFailures++
	}
	m.mu.Unlock()
}

// RecordBlock records one processed code block
func (m *Metrics) RecordBlock(kind, outcome string, duration time.Duration) {
	m.BlocksTotal.WithLabelValues(kind, outcome).Inc()
	m.BlockDuration.WithLabelValues(kind).Observe(duration.Seconds())

	if outcome != "ok" {
		m.mu.Lock()
		m.snapshot.BlockFailures++
		m.mu.Unlock()
	}
}

// IncContainerFaults counts a ContainerNotReady abort
func (m *Metrics) IncContainerFaults() {
	m.ContainerFaults.Inc()
}

// RecordRegistered counts a resource handle created by embedded code
func (m *Metrics) RecordRegistered(kind string) {
	m.ResourcesRegistered.WithLabelValues(kind).Inc()
}

// RecordReleased counts released resource handles of one kind
func (m *Metrics) RecordReleased(kind string, n int) {
	if n <= 0 {
		return
	}
	m.ResourcesReleased.WithLabelValues(kind).Add(float64(n))

	m.mu.Lock()
	m.snapshot.Released += int64(n)
	m.mu.Unlock()
}

// RecordReleaseFailure counts a failed teardown step or handle
func (m *Metrics) RecordReleaseFailure(step string) {
	m.ReleaseFailures.WithLabelValues(step).Inc()
}

// IncTeardowns counts a completed teardown
func (m *Metrics) IncTeardowns() {
	m.Teardowns.Inc()

	m.mu.Lock()
	m.snapshot.Teardowns++
	m.mu.Unlock()
}

// SetViewsActive sets the number of mounted views
func (m *Metrics) SetViewsActive(count int) {
	m.ViewsActive.Set(float64(count))
}

// IncViewsTotal increments the mounted views counter
func (m *Metrics) IncViewsTotal() {
	m.ViewsTotal.Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns a copy of the running totals
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
