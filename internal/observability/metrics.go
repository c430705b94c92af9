package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dubbing_gateway_active_sessions",
		Help: "Number of active chat sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dubbing_gateway_sessions_total",
		Help: "Total number of chat sessions handled",
	})

	// Chat API metrics
	chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dubbing_gateway_chat_requests_total",
		Help: "Total number of chat completion requests",
	}, []string{"status"})

	chatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dubbing_gateway_chat_latency_seconds",
		Help:    "Chat completion latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	})

	// Voice recommendation metrics
	recommendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dubbing_gateway_recommend_requests_total",
		Help: "Total number of voice recommendation requests",
	}, []string{"status"})

	recommendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dubbing_gateway_recommend_latency_seconds",
		Help:    "Voice recommendation latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Synthesis job metrics
	synthesisJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dubbing_gateway_synthesis_jobs_total",
		Help: "Total number of synthesis jobs by mode and terminal status",
	}, []string{"mode", "status"})

	synthesisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dubbing_gateway_synthesis_duration_seconds",
		Help:    "Wall-clock duration of synthesis jobs from submit to terminal status",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"mode"})

	pollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dubbing_gateway_synthesis_polls_total",
		Help: "Total number of synthesis job status polls",
	})

	// Command dispatch metrics
	commandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dubbing_gateway_commands_total",
		Help: "Total number of embedded commands dispatched",
	}, []string{"kind", "status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dubbing_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dubbing_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dubbing_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordSessionStart records a new chat session
func RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a chat session
func RecordSessionEnd() {
	activeSessions.Dec()
}

// RecordChatRequest records a chat completion call and its latency
func RecordChatRequest(start time.Time, success bool) {
	chatLatency.Observe(time.Since(start).Seconds())
	chatRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordRecommendRequest records a voice recommendation call and its latency
func RecordRecommendRequest(start time.Time, success bool) {
	recommendLatency.Observe(time.Since(start).Seconds())
	recommendRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordSynthesisJob records a synthesis job reaching a terminal status
func RecordSynthesisJob(mode string, start time.Time, status string) {
	synthesisDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	synthesisJobs.WithLabelValues(mode, status).Inc()
}

// RecordPollTick records one synthesis status poll
func RecordPollTick() {
	pollTicks.Inc()
}

// RecordCommand records a dispatched command and its outcome
func RecordCommand(kind string, success bool) {
	commandsDispatched.WithLabelValues(kind, statusLabel(success)).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
