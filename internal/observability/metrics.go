package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type kernelMetrics struct {
	stepTotal    *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	controlRequestsTotal *prometheus.CounterVec
	confirmationsDenied  prometheus.Counter

	retryDecisionsTotal *prometheus.CounterVec

	scopeMergesTotal *prometheus.CounterVec
	tokensTotal      prometheus.Counter
	toolCallsTotal   *prometheus.CounterVec

	planRegenerationsTotal *prometheus.CounterVec

	runlogEventsTotal  prometheus.Counter
	runlogPrunedTotal  prometheus.Counter
	runlogAppendErrors prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *kernelMetrics
)

func getMetrics() *kernelMetrics {
	metricsOnce.Do(func() {
		m := &kernelMetrics{
			stepTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "step_outcomes_total",
					Help: "Total step executions by outcome state.",
				},
				[]string{"state"},
			),
			stepDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "step_duration_seconds",
					Help:    "Step execution duration in seconds by outcome state.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"state"},
			),
			controlRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "control_requests_total",
					Help: "Total control requests by kind and resolution mode.",
				},
				[]string{"kind", "mode"},
			),
			confirmationsDenied: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "confirmations_denied_total",
					Help: "Total confirmation requests resolved as denied.",
				},
			),
			retryDecisionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "retry_decisions_total",
					Help: "Total retry engine decisions by status.",
				},
				[]string{"status"},
			),
			scopeMergesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "scope_merges_total",
					Help: "Total child scope merges by depth.",
				},
				[]string{"depth"},
			),
			tokensTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tokens_total",
					Help: "Total tokens recorded across all scopes.",
				},
			),
			toolCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_calls_total",
					Help: "Total tool invocations by tool name.",
				},
				[]string{"tool"},
			),
			planRegenerationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "plan_regenerations_total",
					Help: "Total plan regenerations by trigger.",
				},
				[]string{"trigger"},
			),
			runlogEventsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "runlog_events_total",
					Help: "Total outcome events appended to the run log.",
				},
			),
			runlogPrunedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "runlog_pruned_total",
					Help: "Total outcome events removed by retention pruning.",
				},
			),
			runlogAppendErrors: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "runlog_append_errors_total",
					Help: "Total run log append failures.",
				},
			),
		}

		prometheus.MustRegister(
			m.stepTotal,
			m.stepDuration,
			m.controlRequestsTotal,
			m.confirmationsDenied,
			m.retryDecisionsTotal,
			m.scopeMergesTotal,
			m.tokensTotal,
			m.toolCallsTotal,
			m.planRegenerationsTotal,
			m.runlogEventsTotal,
			m.runlogPrunedTotal,
			m.runlogAppendErrors,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the HTTP handler for the metrics endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordStepOutcome counts a finished step and observes its duration.
func RecordStepOutcome(state string, duration time.Duration) {
	m := getMetrics()
	m.stepTotal.WithLabelValues(state).Inc()
	m.stepDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordControlRequest counts a control request by kind and by whether
// it was resolved by a driver or synchronously.
func RecordControlRequest(kind string, suspended bool) {
	mode := "sync"
	if suspended {
		mode = "suspended"
	}
	getMetrics().controlRequestsTotal.WithLabelValues(kind, mode).Inc()
}

// RecordConfirmationDenied counts a denied confirmation.
func RecordConfirmationDenied() {
	getMetrics().confirmationsDenied.Inc()
}

// RecordRetryDecision counts one retry engine decision.
func RecordRetryDecision(status string) {
	getMetrics().retryDecisionsTotal.WithLabelValues(status).Inc()
}

// RecordScopeMerge counts a child scope merging into its parent.
func RecordScopeMerge(depth int) {
	getMetrics().scopeMergesTotal.WithLabelValues(strconv.Itoa(depth)).Inc()
}

// AddTokens counts tokens recorded into any scope.
func AddTokens(n int) {
	if n > 0 {
		getMetrics().tokensTotal.Add(float64(n))
	}
}

// RecordToolCall counts one tool invocation.
func RecordToolCall(tool string) {
	getMetrics().toolCallsTotal.WithLabelValues(tool).Inc()
}

// RecordPlanRegeneration counts a plan regeneration by trigger.
func RecordPlanRegeneration(trigger string) {
	getMetrics().planRegenerationsTotal.WithLabelValues(trigger).Inc()
}

// RecordRunlogAppend counts a run log append, failed or not.
func RecordRunlogAppend(err error) {
	m := getMetrics()
	if err != nil {
		m.runlogAppendErrors.Inc()
		return
	}
	m.runlogEventsTotal.Inc()
}

// RecordRunlogPruned counts events removed by retention pruning.
func RecordRunlogPruned(n int) {
	if n > 0 {
		getMetrics().runlogPrunedTotal.Add(float64(n))
	}
}

