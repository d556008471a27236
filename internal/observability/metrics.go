package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "campaign_dispatch"

// Metrics holds the collectors of one process on a private registry.
// Every method is a no-op on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// scheduling
	emailsScheduledTotal   *prometheus.CounterVec
	sendJobsCancelledTotal prometheus.Counter
	jobSubmitFailuresTotal prometheus.Counter

	// delivery
	emailsDeliveredTotal       prometheus.Counter
	emailDeliveriesFailedTotal *prometheus.CounterVec
	emailSendDuration          prometheus.Histogram
	workerInflight             prometheus.Gauge

	orphanedJobsFailedTotal prometheus.Counter
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help})
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help}, labels)
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequestsTotal: counterVec("http_requests_total",
			"HTTP requests by method, route and status.", "method", "path", "status"),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		emailsScheduledTotal: counterVec("emails_scheduled_total",
			"Campaign emails submitted to the job runner, by target day.", "day"),
		sendJobsCancelledTotal: counter("send_jobs_cancelled_total",
			"Send jobs cancelled by pause or cancel."),
		jobSubmitFailuresTotal: counter("job_submit_failures_total",
			"Send jobs the job runner refused or timed out on."),

		emailsDeliveredTotal: counter("emails_delivered_total",
			"Campaign emails the mailer accepted."),
		emailDeliveriesFailedTotal: counterVec("email_deliveries_failed_total",
			"Campaign emails that ended in failed state, by reason.", "reason"),
		emailSendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "email_send_duration_seconds",
			Help:      "Mailer call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		workerInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "worker_inflight",
			Help:      "Deliveries currently being processed.",
		}),

		orphanedJobsFailedTotal: counter("orphaned_jobs_failed_total",
			"Send jobs failed by the reconciler for missing a runner handle."),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal, m.httpRequestDuration,
		m.emailsScheduledTotal, m.sendJobsCancelledTotal, m.jobSubmitFailuresTotal,
		m.emailsDeliveredTotal, m.emailDeliveriesFailedTotal, m.emailSendDuration, m.workerInflight,
		m.orphanedJobsFailedTotal,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records every request except scrapes. statusFor resolves
// the status a returned error will be rendered with; nil treats all errors
// as 500 unless they are *fiber.Error.
func (m *Metrics) HTTPMiddleware(statusFor func(error) int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := "unmatched"
		if route := c.Route(); route != nil && route.Path != "" {
			path = route.Path
		}
		if path == "/metrics" {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err, statusFor)
		}
		m.observeRequest(c.Method(), path, status, time.Since(start))
		return err
	}
}

func errorStatus(err error, statusFor func(error) int) int {
	if statusFor != nil {
		return statusFor(err)
	}
	if fiberErr, ok := err.(*fiber.Error); ok {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

func (m *Metrics) observeRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// AddEmailsScheduled records one schedule or resume outcome.
func (m *Metrics) AddEmailsScheduled(today, later int) {
	if m == nil {
		return
	}
	addPositive(m.emailsScheduledTotal.WithLabelValues("today"), today)
	addPositive(m.emailsScheduledTotal.WithLabelValues("later"), later)
}

func (m *Metrics) AddSendJobsCancelled(n int) {
	if m != nil {
		addPositive(m.sendJobsCancelledTotal, n)
	}
}

func (m *Metrics) IncJobSubmitFailure() {
	if m != nil {
		m.jobSubmitFailuresTotal.Inc()
	}
}

func (m *Metrics) IncEmailDelivered() {
	if m != nil {
		m.emailsDeliveredTotal.Inc()
	}
}

func (m *Metrics) IncEmailDeliveryFailed(reason string) {
	if m == nil {
		return
	}
	reason = strings.ToLower(strings.TrimSpace(reason))
	if reason == "" {
		reason = "unknown"
	}
	m.emailDeliveriesFailedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveEmailSendDuration(d time.Duration) {
	if m != nil {
		m.emailSendDuration.Observe(max(d, 0).Seconds())
	}
}

func (m *Metrics) IncWorkerInFlight() {
	if m != nil {
		m.workerInflight.Inc()
	}
}

func (m *Metrics) DecWorkerInFlight() {
	if m != nil {
		m.workerInflight.Dec()
	}
}

func (m *Metrics) AddOrphanedJobsFailed(n int) {
	if m != nil {
		addPositive(m.orphanedJobsFailedTotal, n)
	}
}

func addPositive(c prometheus.Counter, n int) {
	if n > 0 {
		c.Add(float64(n))
	}
}
