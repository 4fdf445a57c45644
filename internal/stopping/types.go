package stopping

import "math"

// #region role-direction
// Role says whether a criterion is optimized or only has to clear a threshold.
type Role string

const (
	RoleOptimize Role = "optimize"
	RoleSatisfy  Role = "satisfy"
)

// Direction says which way a metric is better (optimize) or which side of
// the threshold passes (satisfy).
type Direction string

const (
	Minimize Direction = "minimize"
	Maximize Direction = "maximize"
)

func (r Role) valid() bool {
	return r == RoleOptimize || r == RoleSatisfy
}

func (d Direction) valid() bool {
	return d == Minimize || d == Maximize
}

// #endregion role-direction

// #region criterion-spec
// CriterionSpec describes one tracked metric.
type CriterionSpec struct {
	Name      string    `json:"name" yaml:"name"`
	Role      Role      `json:"role" yaml:"role"`
	Direction Direction `json:"direction" yaml:"direction"`
	Threshold *float64  `json:"threshold,omitempty" yaml:"threshold,omitempty"` // required for satisfy
	MinDelta  float64   `json:"min_delta,omitempty" yaml:"min_delta,omitempty"` // optimize only
}

// Optimize returns the spec of the criterion to optimize.
func Optimize(name string, dir Direction, minDelta float64) CriterionSpec {
	return CriterionSpec{Name: name, Role: RoleOptimize, Direction: dir, MinDelta: minDelta}
}

// Satisfy returns the spec of a criterion that must clear threshold.
func Satisfy(name string, dir Direction, threshold float64) CriterionSpec {
	t := threshold
	return CriterionSpec{Name: name, Role: RoleSatisfy, Direction: dir, Threshold: &t}
}

// passes reports whether v is on the passing side of a satisfy threshold.
func (c CriterionSpec) passes(v float64) bool {
	if c.Direction == Maximize {
		return v >= *c.Threshold
	}
	return v <= *c.Threshold
}

// tieULPs is how many units of float64 rounding around the operands still
// count as "exactly MinDelta", so 0.39-0.389 ties with a MinDelta of 0.001.
const tieULPs = 4

// improves reports whether v beats best by strictly more than MinDelta.
func (c CriterionSpec) improves(v, best float64) bool {
	margin := best - v
	if c.Direction == Maximize {
		margin = v - best
	}
	tol := tieULPs * 0x1p-52 * math.Max(math.Abs(v), math.Abs(best))
	return margin-c.MinDelta > tol
}

func (c CriterionSpec) clone() CriterionSpec {
	if c.Threshold != nil {
		t := *c.Threshold
		c.Threshold = &t
	}
	return c
}

// #endregion criterion-spec

// #region engine-config
// EngineConfig is everything needed to build an Engine for one run.
type EngineConfig struct {
	Criteria         []CriterionSpec `json:"criteria" yaml:"criteria"`
	SatisfyPatience  int             `json:"satisfy_patience" yaml:"satisfy_patience"`
	OptimizePatience int             `json:"optimize_patience" yaml:"optimize_patience"`
}

// Clone returns a deep copy of the config.
func (c EngineConfig) Clone() EngineConfig {
	out := c
	out.Criteria = make([]CriterionSpec, len(c.Criteria))
	for i, cr := range c.Criteria {
		out.Criteria[i] = cr.clone()
	}
	return out
}

// #endregion engine-config

// #region snapshot
// Snapshot is the set of metric values measured at one iteration.
type Snapshot struct {
	Index   int                `json:"index" yaml:"index"`
	Metrics map[string]float64 `json:"metrics" yaml:"metrics"`
}

// #endregion snapshot

// #region decision
// Action is the outcome of one evaluation.
type Action string

const (
	ActionContinue Action = "continue"
	ActionStop     Action = "stop"
)

// StopReason explains a stop decision. Empty for continue.
type StopReason string

const (
	ReasonNone               StopReason = ""
	ReasonSatisfyUnreachable StopReason = "satisfy_unreachable"
	ReasonNoImprovement      StopReason = "no_improvement"
)

// Checkpoint identifies the best satisfying iteration seen so far.
type Checkpoint struct {
	Index int     `json:"index" yaml:"index"`
	Value float64 `json:"value" yaml:"value"`
}

// Decision is returned by Engine.Evaluate for every accepted snapshot.
type Decision struct {
	Index      int         `json:"index"`
	Action     Action      `json:"action"`
	Reason     StopReason  `json:"reason,omitempty"`
	Satisfying bool        `json:"satisfying"`
	Improved   bool        `json:"improved"`
	Failed     []string    `json:"failed,omitempty"` // satisfy criteria that did not pass
	Best       *Checkpoint `json:"best,omitempty"`

	IterationsSinceBest         int `json:"iterations_since_best"`
	IterationsWithoutSatisfying int `json:"iterations_without_satisfying"`
}

// Stop reports whether the decision ends the run.
func (d Decision) Stop() bool {
	return d.Action == ActionStop
}

// #endregion decision
