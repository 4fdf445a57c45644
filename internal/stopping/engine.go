package stopping

import (
	"fmt"
	"maps"
	"math"
	"slices"
)

// #region engine
// Engine decides after every training iteration whether to continue or stop,
// optimizing one metric while requiring the others to clear their thresholds.
//
// An Engine is single-use and not safe for concurrent use: build a new one per
// run and call Evaluate from one goroutine, in increasing iteration order.
type Engine struct {
	config   EngineConfig
	optimize CriterionSpec
	satisfy  []CriterionSpec

	best        *Checkpoint
	bestMetrics map[string]float64

	sinceBest         int
	withoutSatisfying int

	lastIndex   int
	evaluations int
	stopped     *Decision
}

// NewEngine validates cfg and returns an engine in the running state.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	cfg = cfg.Clone()
	e := &Engine{config: cfg, lastIndex: -1}
	for _, c := range cfg.Criteria {
		if c.Role == RoleOptimize {
			e.optimize = c
		} else {
			e.satisfy = append(e.satisfy, c)
		}
	}
	return e, nil
}

// Validate checks cfg without building an engine.
func Validate(cfg EngineConfig) error {
	var problems []string

	if len(cfg.Criteria) == 0 {
		problems = append(problems, "no criteria configured")
	}

	seen := make(map[string]bool, len(cfg.Criteria))
	optimizers := 0
	for i, c := range cfg.Criteria {
		label := c.Name
		if label == "" {
			label = fmt.Sprintf("criteria[%d]", i)
			problems = append(problems, fmt.Sprintf("%s: empty name", label))
		} else if seen[c.Name] {
			problems = append(problems, fmt.Sprintf("%s: duplicate name", label))
		}
		seen[c.Name] = true

		if !c.Role.valid() {
			problems = append(problems, fmt.Sprintf("%s: unknown role %q", label, c.Role))
		}
		if !c.Direction.valid() {
			problems = append(problems, fmt.Sprintf("%s: unknown direction %q", label, c.Direction))
		}

		switch c.Role {
		case RoleOptimize:
			optimizers++
			if math.IsNaN(c.MinDelta) || math.IsInf(c.MinDelta, 0) || c.MinDelta < 0 {
				problems = append(problems, fmt.Sprintf("%s: min_delta must be a finite value >= 0", label))
			}
		case RoleSatisfy:
			if c.Threshold == nil {
				problems = append(problems, fmt.Sprintf("%s: satisfy criterion needs a threshold", label))
			} else if math.IsNaN(*c.Threshold) || math.IsInf(*c.Threshold, 0) {
				problems = append(problems, fmt.Sprintf("%s: threshold must be finite", label))
			}
		}
	}

	if len(cfg.Criteria) > 0 && optimizers != 1 {
		problems = append(problems, fmt.Sprintf("exactly one optimize criterion required, got %d", optimizers))
	}
	if cfg.SatisfyPatience <= 0 {
		problems = append(problems, fmt.Sprintf("satisfy_patience must be > 0, got %d", cfg.SatisfyPatience))
	}
	if cfg.OptimizePatience <= 0 {
		problems = append(problems, fmt.Sprintf("optimize_patience must be > 0, got %d", cfg.OptimizePatience))
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// #endregion engine

// #region evaluate
// Evaluate ingests the metrics of one iteration and returns the decision.
// On error the engine state is left exactly as it was.
func (e *Engine) Evaluate(snap Snapshot) (Decision, error) {
	if e.stopped != nil {
		return Decision{}, &StateError{Index: snap.Index, StoppedAt: copyDecision(*e.stopped)}
	}
	if err := e.check(snap); err != nil {
		return Decision{}, err
	}

	e.lastIndex = snap.Index
	e.evaluations++

	d := Decision{Index: snap.Index, Action: ActionContinue}

	// 1. Satisfaction: every satisfy criterion must pass.
	for _, c := range e.satisfy {
		if !c.passes(snap.Metrics[c.Name]) {
			d.Failed = append(d.Failed, c.Name)
		}
	}
	d.Satisfying = len(d.Failed) == 0

	if !d.Satisfying {
		e.withoutSatisfying++
		if e.withoutSatisfying >= e.config.SatisfyPatience {
			d.Action = ActionStop
			d.Reason = ReasonSatisfyUnreachable
		}
		return e.finish(d), nil
	}
	e.withoutSatisfying = 0

	// 2. Improvement of the optimize criterion, strict beyond MinDelta.
	v := snap.Metrics[e.optimize.Name]
	if e.best == nil || e.optimize.improves(v, e.best.Value) {
		e.best = &Checkpoint{Index: snap.Index, Value: v}
		e.bestMetrics = maps.Clone(snap.Metrics)
		e.sinceBest = 0
		d.Improved = true
		return e.finish(d), nil
	}

	e.sinceBest++
	if e.sinceBest >= e.config.OptimizePatience {
		d.Action = ActionStop
		d.Reason = ReasonNoImprovement
	}
	return e.finish(d), nil
}

// check validates snap against the configured criteria and index order.
func (e *Engine) check(snap Snapshot) error {
	var missing []string
	for _, c := range e.config.Criteria {
		if _, ok := snap.Metrics[c.Name]; !ok {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return &MissingMetricError{Index: snap.Index, Names: missing}
	}

	if snap.Index < 0 {
		return &InvalidSnapshotError{Index: snap.Index, Reason: "index must be non-negative"}
	}
	if snap.Index <= e.lastIndex {
		return &InvalidSnapshotError{
			Index:  snap.Index,
			Reason: fmt.Sprintf("index must be greater than previous index %d", e.lastIndex),
		}
	}

	for _, c := range e.config.Criteria {
		v := snap.Metrics[c.Name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidSnapshotError{Index: snap.Index, Metric: c.Name, Reason: "is not finite"}
		}
	}
	return nil
}

// finish fills the counters and best checkpoint and records a stop.
func (e *Engine) finish(d Decision) Decision {
	d.IterationsSinceBest = e.sinceBest
	d.IterationsWithoutSatisfying = e.withoutSatisfying
	if e.best != nil {
		b := *e.best
		d.Best = &b
	}
	if d.Stop() {
		stopped := copyDecision(d)
		e.stopped = &stopped
	}
	return d
}

// #endregion evaluate

// #region accessors
// Best returns the best satisfying checkpoint, if any.
func (e *Engine) Best() (Checkpoint, bool) {
	if e.best == nil {
		return Checkpoint{}, false
	}
	return *e.best, true
}

// BestMetrics returns a copy of the full snapshot that produced the best value.
func (e *Engine) BestMetrics() map[string]float64 {
	return maps.Clone(e.bestMetrics)
}

// IterationsSinceBest is the optimize patience counter.
func (e *Engine) IterationsSinceBest() int { return e.sinceBest }

// IterationsWithoutSatisfying is the satisfy patience counter.
func (e *Engine) IterationsWithoutSatisfying() int { return e.withoutSatisfying }

// Evaluations counts successful Evaluate calls.
func (e *Engine) Evaluations() int { return e.evaluations }

// Stopped reports whether the engine reached a terminal state.
func (e *Engine) Stopped() bool { return e.stopped != nil }

// StopDecision returns the decision that stopped the engine.
func (e *Engine) StopDecision() (Decision, bool) {
	if e.stopped == nil {
		return Decision{}, false
	}
	return copyDecision(*e.stopped), true
}

func copyDecision(d Decision) Decision {
	d.Failed = slices.Clone(d.Failed)
	if d.Best != nil {
		b := *d.Best
		d.Best = &b
	}
	return d
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() EngineConfig {
	return e.config.Clone()
}

// OptimizeCriterion returns the spec of the optimized metric.
func (e *Engine) OptimizeCriterion() CriterionSpec {
	return e.optimize.clone()
}

// #endregion accessors
