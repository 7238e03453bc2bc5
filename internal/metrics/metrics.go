package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const service = "snaptutor"

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	TasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_processed_total",
			Help: "Explanation tasks that reached a terminal state",
		},
		[]string{"type", "status"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Wall time of one queued task including retries",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
		},
		[]string{"type"},
	)

	TaskAttemptFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "task_attempt_failures_total",
			Help: "Failed model attempts inside the retry loop",
		},
	)

	ModelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_call_duration_seconds",
			Help:    "Latency of vision model calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"model", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		TasksProcessed,
		TaskDuration,
		TaskAttemptFailures,
		ModelCallDuration,
	)
}

// RecordRequest records one HTTP request.
func RecordRequest(method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// ObserveTask fits asyncx.ProcessorConfig.Observe.
func ObserveTask(taskType string, d time.Duration, err error) {
	TaskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// ObserveOutcome counts a task's terminal status.
func ObserveOutcome(taskType, status string) {
	TasksProcessed.WithLabelValues(taskType, status).Inc()
}

// ObserveModelCall fits vision.OpenAIClient.WithObserver.
func ObserveModelCall(model string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ModelCallDuration.WithLabelValues(model, status).Observe(d.Seconds())
}

// GinMiddleware records every request served by the engine.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		statusCode := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method + " " + c.FullPath()
		RecordRequest(method, statusCode, time.Since(start))
	}
}
