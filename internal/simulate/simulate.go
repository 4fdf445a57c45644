// Package simulate fakes a training loop on an ordinal classification task
// so the stopping engine can be exercised end to end without a model.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/danielpatrickdp/optisat/internal/confidence"
	"github.com/danielpatrickdp/optisat/internal/ordinal"
	"github.com/danielpatrickdp/optisat/internal/stopping"
)

// Metric names emitted by every snapshot.
const (
	MetricAccuracy   = "accuracy"
	MetricMAE        = "mae"
	MetricConfidence = "confidence"
)

// #region options
// Options shape the synthetic task. Logit noise decays geometrically from
// InitialNoise towards FloorNoise, so metrics improve and then plateau.
type Options struct {
	Classes      int
	Samples      int
	Seed         uint64
	InitialNoise float64
	FloorNoise   float64
	Decay        float64 // per-iteration factor in (0, 1)
	Margin       float64 // logit magnitude of a noiseless prediction
}

// DefaultOptions returns a 5-class task over 200 samples.
func DefaultOptions() Options {
	return Options{
		Classes:      5,
		Samples:      200,
		Seed:         1,
		InitialNoise: 3,
		FloorNoise:   0.8,
		Decay:        0.85,
		Margin:       2,
	}
}

func (o Options) validate() error {
	var errs []error
	if o.Classes < 2 {
		errs = append(errs, fmt.Errorf("classes must be >= 2, got %d", o.Classes))
	}
	if o.Samples <= 0 {
		errs = append(errs, fmt.Errorf("samples must be > 0, got %d", o.Samples))
	}
	if o.FloorNoise < 0 || o.InitialNoise < o.FloorNoise {
		errs = append(errs, fmt.Errorf("need 0 <= floor_noise <= initial_noise, got %g and %g", o.FloorNoise, o.InitialNoise))
	}
	if o.Decay <= 0 || o.Decay >= 1 {
		errs = append(errs, fmt.Errorf("decay must be in (0, 1), got %g", o.Decay))
	}
	if o.Margin <= 0 {
		errs = append(errs, fmt.Errorf("margin must be > 0, got %g", o.Margin))
	}
	return errors.Join(errs...)
}

// DefaultCriteria minimizes MAE while requiring usable accuracy and confidence.
func DefaultCriteria() []stopping.CriterionSpec {
	return []stopping.CriterionSpec{
		stopping.Optimize(MetricMAE, stopping.Minimize, 0.005),
		stopping.Satisfy(MetricAccuracy, stopping.Maximize, 0.5),
		stopping.Satisfy(MetricConfidence, stopping.Maximize, 0.3),
	}
}

// #endregion options

// #region simulator
// Simulator produces one snapshot per call to Next.
type Simulator struct {
	opts    Options
	rng     *rand.Rand
	labels  []int
	targets [][]float64
	iter    int
}

// New draws the labels of the synthetic task.
func New(opts Options) (*Simulator, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("simulate options: %w", err)
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	labels := make([]int, opts.Samples)
	for i := range labels {
		labels[i] = rng.IntN(opts.Classes)
	}
	targets, err := ordinal.EncodeBatch(labels, opts.Classes)
	if err != nil {
		return nil, err
	}
	return &Simulator{opts: opts, rng: rng, labels: labels, targets: targets}, nil
}

// Noise is the logit noise used at iteration i.
func (s *Simulator) Noise(i int) float64 {
	o := s.opts
	return o.FloorNoise + (o.InitialNoise-o.FloorNoise)*math.Pow(o.Decay, float64(i))
}

// Next simulates one training iteration and returns its metrics.
func (s *Simulator) Next() (stopping.Snapshot, error) {
	noise := s.Noise(s.iter)

	logits := make([][]float64, len(s.targets))
	for i, row := range s.targets {
		logits[i] = make([]float64, len(row))
		for j, t := range row {
			logits[i][j] = (2*t-1)*s.opts.Margin + s.rng.NormFloat64()*noise
		}
	}
	pred := ordinal.DecodeLogits(logits)

	var correct, absErr float64
	rowConf := make([]float64, len(s.labels))
	for i, want := range s.labels {
		got := pred.Labels[i]
		if got == want {
			correct++
		}
		absErr += math.Abs(float64(got - want))

		cs, err := confidence.BinaryBatch(pred.Probabilities[i])
		if err != nil {
			return stopping.Snapshot{}, fmt.Errorf("sample %d: %w", i, err)
		}
		rowConf[i] = confidence.Mean(cs)
	}

	n := float64(len(s.labels))
	snap := stopping.Snapshot{
		Index: s.iter,
		Metrics: map[string]float64{
			MetricAccuracy:   correct / n,
			MetricMAE:        absErr / n,
			MetricConfidence: confidence.Mean(rowConf),
		},
	}
	s.iter++
	return snap, nil
}

// #endregion simulator

// #region run
// Evaluator is the part of stopping.Engine the simulator drives.
type Evaluator interface {
	Evaluate(stopping.Snapshot) (stopping.Decision, error)
}

// Step is one simulated iteration and the decision it produced.
type Step struct {
	Snapshot stopping.Snapshot `json:"snapshot"`
	Decision stopping.Decision `json:"decision"`
}

// Result is the outcome of Run.
type Result struct {
	Steps   []Step
	Stopped bool
}

// Last returns the final decision, if any step ran.
func (r Result) Last() (stopping.Decision, bool) {
	if len(r.Steps) == 0 {
		return stopping.Decision{}, false
	}
	return r.Steps[len(r.Steps)-1].Decision, true
}

// Run feeds snapshots to e until it stops, maxIter iterations have run, or
// ctx is cancelled. The steps completed so far are returned with any error.
func (s *Simulator) Run(ctx context.Context, e Evaluator, maxIter int) (Result, error) {
	var res Result
	for range maxIter {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		snap, err := s.Next()
		if err != nil {
			return res, err
		}
		d, err := e.Evaluate(snap)
		if err != nil {
			return res, fmt.Errorf("iteration %d: %w", snap.Index, err)
		}
		res.Steps = append(res.Steps, Step{Snapshot: snap, Decision: d})
		if d.Stop() {
			res.Stopped = true
			return res, nil
		}
	}
	return res, nil
}

// #endregion run
