package observability

import (
	"errors"
	"net/http"
	"time"

	"coursebot/internal/async"
	coreerrors "coursebot/internal/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcomes recorded by the runner.
const (
	OutcomeCompleted   = "completed"
	OutcomeBlocked     = "blocked"
	OutcomeUnreachable = "unreachable"
	OutcomeStreamError = "stream_error"
	OutcomeFault       = "fault"
)

// Admission results recorded by the submission entry point.
const (
	AdmissionAccepted    = "accepted"
	AdmissionRateLimited = "rate_limited"
	AdmissionDuplicate   = "duplicate"
	AdmissionRejected    = "rejected"
)

// Metrics exposes Prometheus collectors for queue, runner, and relay activity.
// A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	gatherer prometheus.Gatherer

	queuePending    prometheus.Gauge
	queueProcessing prometheus.Gauge
	runnerExits     *prometheus.CounterVec
	taskOutcomes    *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	relayCalls      *prometheus.CounterVec
	admissions      *prometheus.CounterVec
}

// NewRegistryMetrics builds metrics on a fresh registry that also carries the
// Go runtime and process collectors.
func NewRegistryMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetrics(reg, reg)
}

// NewMetrics registers the collectors with reg. Registration errors panic.
func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		queuePending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "coursebot",
			Subsystem: "queue",
			Name:      "pending_tasks",
			Help:      "Tasks waiting for a runner slot.",
		}),
		queueProcessing: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "coursebot",
			Subsystem: "queue",
			Name:      "processing_tasks",
			Help:      "Tasks currently held by a runner.",
		}),
		runnerExits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursebot",
			Subsystem: "scheduler",
			Name:      "runner_exits_total",
			Help:      "Runner exits observed by the scheduler, by result.",
		}, []string{"result"}),
		taskOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursebot",
			Subsystem: "runner",
			Name:      "task_outcomes_total",
			Help:      "Completed tasks by outcome.",
		}, []string{"outcome"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coursebot",
			Subsystem: "runner",
			Name:      "task_duration_seconds",
			Help:      "Time from runner start to cleanup, by outcome.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		relayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursebot",
			Subsystem: "relay",
			Name:      "channel_calls_total",
			Help:      "Output channel calls made by flushes, by kind.",
		}, []string{"kind"}),
		admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursebot",
			Subsystem: "admission",
			Name:      "submissions_total",
			Help:      "Submissions by admission result.",
		}, []string{"result"}),
	}
}

// QueueDepth sets the pending and processing gauges.
func (m *Metrics) QueueDepth(pending, processing int) {
	if m == nil {
		return
	}
	m.queuePending.Set(float64(pending))
	m.queueProcessing.Set(float64(processing))
}

// RunnerExited counts a runner exit seen by the scheduler safety net,
// labelled "ok", "panic" or the error kind.
func (m *Metrics) RunnerExited(err error) {
	if m == nil {
		return
	}
	result := "ok"
	var panicErr *async.PanicError
	switch {
	case errors.As(err, &panicErr):
		result = "panic"
	case err != nil:
		result = coreerrors.KindOf(err).String()
	}
	m.runnerExits.WithLabelValues(result).Inc()
}

// RecordOutcome counts a finished task and observes its duration.
func (m *Metrics) RecordOutcome(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(outcome).Inc()
	m.taskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRelayCalls counts sends, edits, and failed edits of one flush.
func (m *Metrics) RecordRelayCalls(sends, edits, editErrors int) {
	if m == nil {
		return
	}
	if sends > 0 {
		m.relayCalls.WithLabelValues("send").Add(float64(sends))
	}
	if edits > 0 {
		m.relayCalls.WithLabelValues("edit").Add(float64(edits))
	}
	if editErrors > 0 {
		m.relayCalls.WithLabelValues("edit_error").Add(float64(editErrors))
	}
}

// RecordAdmission counts a submission attempt.
func (m *Metrics) RecordAdmission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
