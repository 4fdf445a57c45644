// Package telemetry exports stopping decisions as Prometheus metrics and
// names the OpenTelemetry tracer used by the RPC layer.
package telemetry

import (
	"time"

	"github.com/danielpatrickdp/optisat/internal/stopping"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "optisat"

// TracerName is the instrumentation scope of RPC spans.
const TracerName = "optisat/rpc"

// Recorder holds the decision metrics for every live run.
type Recorder struct {
	// DecisionsTotal counts decisions.
	// Labels: action (continue, stop), reason ("", satisfy_unreachable, no_improvement)
	DecisionsTotal *prometheus.CounterVec

	// BestValue is the best optimize value per run.
	BestValue *prometheus.GaugeVec

	IterationsSinceBest         *prometheus.GaugeVec
	IterationsWithoutSatisfying *prometheus.GaugeVec

	EvaluateDuration prometheus.Histogram

	// EvaluateErrors counts rejected snapshots.
	// Labels: kind (configuration, missing_metric, invalid_snapshot, state, not_found)
	EvaluateErrors *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		DecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Stopping decisions by action and reason",
			},
			[]string{"action", "reason"},
		),
		BestValue: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "best_value",
				Help:      "Best satisfying value of the optimized metric",
			},
			[]string{"run"},
		),
		IterationsSinceBest: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "iterations_since_best",
				Help:      "Satisfying iterations since the best value last improved",
			},
			[]string{"run"},
		),
		IterationsWithoutSatisfying: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "iterations_without_satisfying",
				Help:      "Consecutive iterations that failed a satisfy criterion",
			},
			[]string{"run"},
		),
		EvaluateDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluate_duration_seconds",
				Help:      "Time spent evaluating one snapshot",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),
		EvaluateErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluate_errors_total",
				Help:      "Rejected evaluations by error kind",
			},
			[]string{"kind"},
		),
	}
}

// Observe records one accepted decision for runID.
func (r *Recorder) Observe(runID string, d stopping.Decision, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.DecisionsTotal.WithLabelValues(string(d.Action), string(d.Reason)).Inc()
	if d.Best != nil {
		r.BestValue.WithLabelValues(runID).Set(d.Best.Value)
	}
	r.IterationsSinceBest.WithLabelValues(runID).Set(float64(d.IterationsSinceBest))
	r.IterationsWithoutSatisfying.WithLabelValues(runID).Set(float64(d.IterationsWithoutSatisfying))
	r.EvaluateDuration.Observe(elapsed.Seconds())
}

// ObserveError counts a rejected evaluation.
func (r *Recorder) ObserveError(kind string) {
	if r == nil {
		return
	}
	if kind == "" {
		kind = "internal"
	}
	r.EvaluateErrors.WithLabelValues(kind).Inc()
}

// Forget drops the per-run series once a run has ended.
func (r *Recorder) Forget(runID string) {
	if r == nil {
		return
	}
	r.BestValue.DeleteLabelValues(runID)
	r.IterationsSinceBest.DeleteLabelValues(runID)
	r.IterationsWithoutSatisfying.DeleteLabelValues(runID)
}

// Tracer returns the RPC tracer from tp, or from the global provider when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		return otel.Tracer(TracerName)
	}
	return tp.Tracer(TracerName)
}
