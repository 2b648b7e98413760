// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of a next-due resolution.
const (
	OutcomeDue      = "due"
	OutcomeOverdue  = "overdue"
	OutcomeHorizon  = "horizon_exceeded"
	OutcomeNone     = "none"
	OutcomeError    = "error"
	OutcomeInactive = "inactive"
)

// Registry holds every collector. Methods are safe on a nil *Registry so
// components can run without metrics.
type Registry struct {
	reg *prometheus.Registry

	OccurrencesGenerated prometheus.Counter
	Resolutions          *prometheus.CounterVec
	DueNotifications     *prometheus.CounterVec
	CompletionWrites     *prometheus.CounterVec
	ScanDuration         prometheus.Histogram
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		OccurrencesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scadenze_occurrences_generated_total",
			Help: "Occurrences computed for previews, months and next-due lookups",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scadenze_next_due_resolutions_total",
			Help: "Next-due lookups by outcome",
		}, []string{"outcome"}),
		DueNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scadenze_due_notifications_total",
			Help: "Due notifications by publish result",
		}, []string{"result"}),
		CompletionWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scadenze_completion_writes_total",
			Help: "Completion record writes by action and result",
		}, []string{"action", "result"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scadenze_due_scan_duration_seconds",
			Help:    "Duration of a due scan",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scadenze_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scadenze_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.OccurrencesGenerated,
		r.Resolutions,
		r.DueNotifications,
		r.CompletionWrites,
		r.ScanDuration,
		r.HTTPRequests,
		r.HTTPDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) AddGenerated(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.OccurrencesGenerated.Add(float64(n))
}

func (r *Registry) ObserveResolution(outcome string) {
	if r == nil {
		return
	}
	r.Resolutions.WithLabelValues(outcome).Inc()
}

func (r *Registry) ObserveNotification(err error) {
	if r == nil {
		return
	}
	r.DueNotifications.WithLabelValues(result(err)).Inc()
}

func (r *Registry) ObserveCompletionWrite(completed bool, err error) {
	if r == nil {
		return
	}
	action := "unmark"
	if completed {
		action = "mark"
	}
	r.CompletionWrites.WithLabelValues(action, result(err)).Inc()
}

func (r *Registry) ObserveScan(d time.Duration) {
	if r == nil {
		return
	}
	r.ScanDuration.Observe(d.Seconds())
}

func (r *Registry) ObserveHTTP(route, method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
