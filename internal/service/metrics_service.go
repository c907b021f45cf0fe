package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and the enrollment engine.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	enrollmentOutcomes  *prometheus.CounterVec
	overflowCreated     prometheus.Counter
	promotions          prometheus.Counter
	waitlistSkips       prometheus.Counter
	rateLimited         *prometheus.CounterVec
	lockWait            *prometheus.HistogramVec
	invariantViolations prometheus.Counter
	auditFailures       *prometheus.CounterVec
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	enrollmentOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_outcomes_total",
		Help: "Enrollment pipeline outcomes by status or rejection code",
	}, []string{"outcome"})

	overflowCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_overflow_sections_created_total",
		Help: "Overflow sections created automatically",
	})

	promotions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_waitlist_promotions_total",
		Help: "Waitlist entries promoted to active enrollments",
	})

	waitlistSkips := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_waitlist_skips_total",
		Help: "Waitlist entries skipped at promotion time",
	})

	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limited_requests_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"category"})

	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "seat_lock_wait_seconds",
		Help:    "Time spent waiting for section or course locks",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"scope"})

	invariantViolations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_invariant_violations_total",
		Help: "Seat accounting invariant violations detected",
	})

	auditFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_failures_total",
		Help: "Audit records that could not be appended or queued for publication",
	}, []string{"stage"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, enrollmentOutcomes, overflowCreated, promotions, waitlistSkips,
		rateLimited, lockWait, invariantViolations, auditFailures, goroutines)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		enrollmentOutcomes:  enrollmentOutcomes,
		overflowCreated:     overflowCreated,
		promotions:          promotions,
		waitlistSkips:       waitlistSkips,
		rateLimited:         rateLimited,
		lockWait:            lockWait,
		invariantViolations: invariantViolations,
		auditFailures:       auditFailures,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordEnrollmentOutcome counts a pipeline result.
func (m *MetricsService) RecordEnrollmentOutcome(outcome string) {
	if m == nil {
		return
	}
	m.enrollmentOutcomes.WithLabelValues(outcome).Inc()
}

// RecordOverflowCreated counts an overflow section creation.
func (m *MetricsService) RecordOverflowCreated() {
	if m == nil {
		return
	}
	m.overflowCreated.Inc()
}

// RecordPromotion counts a waitlist promotion.
func (m *MetricsService) RecordPromotion() {
	if m == nil {
		return
	}
	m.promotions.Inc()
}

// RecordWaitlistSkip counts a skipped waitlist entry.
func (m *MetricsService) RecordWaitlistSkip() {
	if m == nil {
		return
	}
	m.waitlistSkips.Inc()
}

// RecordRateLimited counts a throttled request.
func (m *MetricsService) RecordRateLimited(category string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(category).Inc()
}

// ObserveLockWait records lock acquisition latency. It matches repository.LockObserver.
func (m *MetricsService) ObserveLockWait(scope string, wait time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(scope).Observe(wait.Seconds())
}

// RecordInvariantViolation counts a detected seat accounting violation.
func (m *MetricsService) RecordInvariantViolation() {
	if m == nil {
		return
	}
	m.invariantViolations.Inc()
}

// RecordAuditFailure counts an audit append or enqueue failure.
func (m *MetricsService) RecordAuditFailure(stage string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(stage).Inc()
}
