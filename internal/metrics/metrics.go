package metrics

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Metrics holds the gateway's transaction and system counters.
type Metrics struct {
	// Client transaction metrics
	RequestsSent    int64 `json:"requests_sent"`
	ResponsesOK     int64 `json:"responses_ok"`
	Timeouts        int64 `json:"timeouts"`
	TxFailures      int64 `json:"tx_failures"`
	InvalidResponse int64 `json:"invalid_responses"`

	// Server dispatch metrics
	RequestsServed     int64   `json:"requests_served"`
	ExceptionsSent     int64   `json:"exceptions_sent"`
	BusyResponses      int64   `json:"busy_responses"`
	AvgDispatchLatency float64 `json:"avg_dispatch_latency_ms"`

	// Interface byte-transport metrics
	BytesRX int64 `json:"bytes_rx"`
	BytesTX int64 `json:"bytes_tx"`
	FramesDropped int64 `json:"frames_dropped"`

	// System metrics
	Uptime         int64   `json:"uptime_seconds"`
	MemoryUsed     uint64  `json:"memory_used_bytes"`
	MemoryTotal    uint64  `json:"memory_total_bytes"`
	GoroutineCount int     `json:"goroutine_count"`

	// API metrics
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`

	mu        sync.RWMutex
	startTime time.Time
}

// NewMetrics creates a new, zeroed Metrics instance with its clock started.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// IncrementRequestsSent records a Client SendRequest call that was armed.
func (m *Metrics) IncrementRequestsSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestsSent++
}

// IncrementResponsesOK records a Client transaction finalised with Success.
func (m *Metrics) IncrementResponsesOK() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResponsesOK++
}

// IncrementTimeouts records a Client transaction finalised with ErrTimeout.
func (m *Metrics) IncrementTimeouts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timeouts++
}

// IncrementTxFailures records a Client transaction finalised with ErrTxFailed.
func (m *Metrics) IncrementTxFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TxFailures++
}

// IncrementInvalidResponse records a Client transaction finalised with ErrInvalidResponse.
func (m *Metrics) IncrementInvalidResponse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InvalidResponse++
}

// IncrementRequestsServed records a Server dispatch that produced a response.
func (m *Metrics) IncrementRequestsServed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestsServed++
}

// IncrementExceptionsSent records a Server dispatch that produced an exception response.
func (m *Metrics) IncrementExceptionsSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExceptionsSent++
}

// IncrementBusyResponses records a Server dispatch that answered SlaveDeviceBusy
// because req_mutex could not be acquired within its configured timeout.
func (m *Metrics) IncrementBusyResponses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BusyResponses++
}

// RecordDispatchLatency folds a Server dispatch's wall-clock duration into
// a moving average, the same way RecordResponseTime does for the HTTP API.
func (m *Metrics) RecordDispatchLatency(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := float64(duration.Microseconds()) / 1000
	if m.AvgDispatchLatency == 0 {
		m.AvgDispatchLatency = ms
	} else {
		m.AvgDispatchLatency = (m.AvgDispatchLatency * 0.9) + (ms * 0.1)
	}
}

// AddBytesRX adds to the Interface byte-transport RX counter.
func (m *Metrics) AddBytesRX(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BytesRX += int64(n)
}

// AddBytesTX adds to the Interface byte-transport TX counter.
func (m *Metrics) AddBytesTX(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BytesTX += int64(n)
}

// IncrementFramesDropped records a frame the Interface worker could not decode.
func (m *Metrics) IncrementFramesDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FramesDropped++
}

// IncrementRequests records an inbound HTTP API request.
func (m *Metrics) IncrementRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
}

// IncrementErrors records an HTTP API response with a >= 400 status.
func (m *Metrics) IncrementErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalErrors++
}

// RecordResponseTime folds a new HTTP API response time into a moving average.
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := float64(duration.Milliseconds())
	if m.AvgResponseTime == 0 {
		m.AvgResponseTime = ms
	} else {
		m.AvgResponseTime = (m.AvgResponseTime * 0.9) + (ms * 0.1)
	}
}

// UpdateSystemMetrics refreshes the uptime, memory and goroutine counters.
func (m *Metrics) UpdateSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Uptime = int64(time.Since(m.startTime).Seconds())

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsed = memStats.Alloc
	m.MemoryTotal = memStats.Sys

	m.GoroutineCount = runtime.NumGoroutine()
}

// GetMetrics returns a JSON-friendly snapshot of all counters.
func (m *Metrics) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"client": map[string]interface{}{
			"requests_sent":    m.RequestsSent,
			"responses_ok":     m.ResponsesOK,
			"timeouts":         m.Timeouts,
			"tx_failures":      m.TxFailures,
			"invalid_response": m.InvalidResponse,
		},
		"server": map[string]interface{}{
			"requests_served":        m.RequestsServed,
			"exceptions_sent":        m.ExceptionsSent,
			"busy_responses":         m.BusyResponses,
			"avg_dispatch_latency_ms": m.AvgDispatchLatency,
		},
		"transport": map[string]interface{}{
			"bytes_rx":       m.BytesRX,
			"bytes_tx":       m.BytesTX,
			"frames_dropped": m.FramesDropped,
		},
		"system": map[string]interface{}{
			"uptime_seconds":     m.Uptime,
			"memory_used_bytes":  m.MemoryUsed,
			"memory_total_bytes": m.MemoryTotal,
			"memory_used_mb":     m.MemoryUsed / 1024 / 1024,
			"goroutines":         m.GoroutineCount,
		},
		"api": map[string]interface{}{
			"total_requests":       m.TotalRequests,
			"total_errors":         m.TotalErrors,
			"avg_response_time_ms": m.AvgResponseTime,
			"error_rate": func() float64 {
				if m.TotalRequests == 0 {
					return 0.0
				}
				return float64(m.TotalErrors) / float64(m.TotalRequests) * 100
			}(),
		},
	}
}

// PrometheusFormat renders the counters in the Prometheus text exposition format.
func (m *Metrics) PrometheusFormat() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return `# HELP modbusgw_requests_sent_total Total number of Client requests armed
# TYPE modbusgw_requests_sent_total counter
modbusgw_requests_sent_total ` + formatInt64(m.RequestsSent) + `

# HELP modbusgw_responses_ok_total Total number of Client transactions finalised with Success
# TYPE modbusgw_responses_ok_total counter
modbusgw_responses_ok_total ` + formatInt64(m.ResponsesOK) + `

# HELP modbusgw_timeouts_total Total number of Client transactions finalised with ErrTimeout
# TYPE modbusgw_timeouts_total counter
modbusgw_timeouts_total ` + formatInt64(m.Timeouts) + `

# HELP modbusgw_tx_failures_total Total number of Client transactions finalised with ErrTxFailed
# TYPE modbusgw_tx_failures_total counter
modbusgw_tx_failures_total ` + formatInt64(m.TxFailures) + `

# HELP modbusgw_requests_served_total Total number of Server requests dispatched
# TYPE modbusgw_requests_served_total counter
modbusgw_requests_served_total ` + formatInt64(m.RequestsServed) + `

# HELP modbusgw_exceptions_sent_total Total number of Server exception responses
# TYPE modbusgw_exceptions_sent_total counter
modbusgw_exceptions_sent_total ` + formatInt64(m.ExceptionsSent) + `

# HELP modbusgw_busy_responses_total Total number of SlaveDeviceBusy responses
# TYPE modbusgw_busy_responses_total counter
modbusgw_busy_responses_total ` + formatInt64(m.BusyResponses) + `

# HELP modbusgw_dispatch_latency_ms Average Server dispatch latency in milliseconds
# TYPE modbusgw_dispatch_latency_ms gauge
modbusgw_dispatch_latency_ms ` + formatFloat64(m.AvgDispatchLatency) + `

# HELP modbusgw_bytes_rx_total Total number of bytes received across all interfaces
# TYPE modbusgw_bytes_rx_total counter
modbusgw_bytes_rx_total ` + formatInt64(m.BytesRX) + `

# HELP modbusgw_bytes_tx_total Total number of bytes transmitted across all interfaces
# TYPE modbusgw_bytes_tx_total counter
modbusgw_bytes_tx_total ` + formatInt64(m.BytesTX) + `

# HELP modbusgw_frames_dropped_total Total number of frames dropped at decode
# TYPE modbusgw_frames_dropped_total counter
modbusgw_frames_dropped_total ` + formatInt64(m.FramesDropped) + `

# HELP modbusgw_uptime_seconds Uptime in seconds
# TYPE modbusgw_uptime_seconds gauge
modbusgw_uptime_seconds ` + formatInt64(m.Uptime) + `

# HELP modbusgw_memory_used_bytes Memory used in bytes
# TYPE modbusgw_memory_used_bytes gauge
modbusgw_memory_used_bytes ` + formatUint64(m.MemoryUsed) + `

# HELP modbusgw_goroutines Number of goroutines
# TYPE modbusgw_goroutines gauge
modbusgw_goroutines ` + formatInt(m.GoroutineCount) + `

# HELP modbusgw_api_requests_total Total number of HTTP API requests
# TYPE modbusgw_api_requests_total counter
modbusgw_api_requests_total ` + formatInt64(m.TotalRequests) + `

# HELP modbusgw_api_errors_total Total number of HTTP API error responses
# TYPE modbusgw_api_errors_total counter
modbusgw_api_errors_total ` + formatInt64(m.TotalErrors) + `

# HELP modbusgw_api_response_time_ms Average API response time in milliseconds
# TYPE modbusgw_api_response_time_ms gauge
modbusgw_api_response_time_ms ` + formatFloat64(m.AvgResponseTime) + `
`
}

// Middleware instruments every HTTP API request handled by fiber.
func Middleware(m *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		m.IncrementRequests()

		err := c.Next()

		m.RecordResponseTime(time.Since(start))

		if c.Response().StatusCode() >= 400 {
			m.IncrementErrors()
		}

		return err
	}
}

func formatInt64(n int64) string {
	return fmt.Sprintf("%d", n)
}

func formatUint64(n uint64) string {
	return fmt.Sprintf("%d", n)
}

func formatInt(n int) string {
	return fmt.Sprintf("%d", n)
}

func formatFloat64(n float64) string {
	return fmt.Sprintf("%.2f", n)
}
