package rpc

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/optisat/internal/stopping"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region types
// StartRunRequest overrides the server's default engine config. Zero values
// are not sent, so the server default applies.
type StartRunRequest struct {
	Criteria         []stopping.CriterionSpec
	SatisfyPatience  int
	OptimizePatience int
}

// RunStatus is the GetStatus response.
type RunStatus struct {
	RunID                       string
	Stopped                     bool
	Evaluations                 int
	Best                        *stopping.Checkpoint
	IterationsSinceBest         int
	IterationsWithoutSatisfying int
	StopDecision                *stopping.Decision
}

// EndRunResult is the EndRun response.
type EndRunResult struct {
	RunID      string
	Status     string // "stopped" | "ended"
	Reason     stopping.StopReason
	Best       *stopping.Checkpoint
	Iterations int
}

// #endregion types

// #region field-access
func getString(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func getNumber(s *structpb.Struct, key string) (float64, bool) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}

func getInt(s *structpb.Struct, key string) (int, bool) {
	f, ok := getNumber(s, key)
	if !ok || f != math.Trunc(f) || f >= math.MaxInt || f < math.MinInt {
		return 0, false
	}
	return int(f), true
}

func getBool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func has(s *structpb.Struct, key string) bool {
	_, ok := s.GetFields()[key]
	return ok
}

// #endregion field-access

// #region criteria
func encodeCriterion(c stopping.CriterionSpec) *structpb.Value {
	fields := map[string]*structpb.Value{
		"name":      structpb.NewStringValue(c.Name),
		"role":      structpb.NewStringValue(string(c.Role)),
		"direction": structpb.NewStringValue(string(c.Direction)),
	}
	if c.Threshold != nil {
		fields["threshold"] = structpb.NewNumberValue(*c.Threshold)
	}
	if c.MinDelta != 0 {
		fields["min_delta"] = structpb.NewNumberValue(c.MinDelta)
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func decodeCriterion(v *structpb.Value) (stopping.CriterionSpec, error) {
	s := v.GetStructValue()
	if s == nil {
		return stopping.CriterionSpec{}, fmt.Errorf("criterion is not an object")
	}
	c := stopping.CriterionSpec{
		Name:      getString(s, "name"),
		Role:      stopping.Role(getString(s, "role")),
		Direction: stopping.Direction(getString(s, "direction")),
	}
	if has(s, "threshold") {
		t, ok := getNumber(s, "threshold")
		if !ok {
			return stopping.CriterionSpec{}, fmt.Errorf("%s: threshold is not a number", c.Name)
		}
		c.Threshold = &t
	}
	if has(s, "min_delta") {
		d, ok := getNumber(s, "min_delta")
		if !ok {
			return stopping.CriterionSpec{}, fmt.Errorf("%s: min_delta is not a number", c.Name)
		}
		c.MinDelta = d
	}
	return c, nil
}

// #endregion criteria

// #region start-run
func encodeStartRun(req StartRunRequest) *structpb.Struct {
	fields := map[string]*structpb.Value{}
	if len(req.Criteria) > 0 {
		list := make([]*structpb.Value, len(req.Criteria))
		for i, c := range req.Criteria {
			list[i] = encodeCriterion(c)
		}
		fields["criteria"] = structpb.NewListValue(&structpb.ListValue{Values: list})
	}
	if req.SatisfyPatience != 0 {
		fields["satisfy_patience"] = structpb.NewNumberValue(float64(req.SatisfyPatience))
	}
	if req.OptimizePatience != 0 {
		fields["optimize_patience"] = structpb.NewNumberValue(float64(req.OptimizePatience))
	}
	return &structpb.Struct{Fields: fields}
}

// applyStartRun overlays the fields present in s onto defaults. Problems are
// returned as a ConfigurationError so they map like engine construction errors.
func applyStartRun(s *structpb.Struct, defaults stopping.EngineConfig) (stopping.EngineConfig, error) {
	cfg := defaults.Clone()
	var problems []string

	if has(s, "criteria") {
		list := s.GetFields()["criteria"].GetListValue()
		if list == nil {
			problems = append(problems, "criteria must be a list")
		} else {
			cfg.Criteria = cfg.Criteria[:0]
			for i, v := range list.GetValues() {
				c, err := decodeCriterion(v)
				if err != nil {
					problems = append(problems, fmt.Sprintf("criteria[%d]: %v", i, err))
					continue
				}
				cfg.Criteria = append(cfg.Criteria, c)
			}
		}
	}
	for key, dst := range map[string]*int{
		"satisfy_patience":  &cfg.SatisfyPatience,
		"optimize_patience": &cfg.OptimizePatience,
	} {
		if !has(s, key) {
			continue
		}
		n, ok := getInt(s, key)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s must be an integer", key))
			continue
		}
		*dst = n
	}

	if len(problems) > 0 {
		return stopping.EngineConfig{}, &stopping.ConfigurationError{Problems: problems}
	}
	return cfg, nil
}

// #endregion start-run

// #region snapshot
func encodeEvaluate(runID string, snap stopping.Snapshot) *structpb.Struct {
	metrics := make(map[string]*structpb.Value, len(snap.Metrics))
	for k, v := range snap.Metrics {
		metrics[k] = structpb.NewNumberValue(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_id":  structpb.NewStringValue(runID),
		"index":   structpb.NewNumberValue(float64(snap.Index)),
		"metrics": structpb.NewStructValue(&structpb.Struct{Fields: metrics}),
	}}
}

func decodeSnapshot(s *structpb.Struct) (stopping.Snapshot, error) {
	idx, ok := getInt(s, "index")
	if !ok {
		return stopping.Snapshot{}, &stopping.InvalidSnapshotError{Index: -1, Reason: "index must be an integer within int range"}
	}
	snap := stopping.Snapshot{Index: idx, Metrics: map[string]float64{}}
	for name, v := range s.GetFields()["metrics"].GetStructValue().GetFields() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return stopping.Snapshot{}, &stopping.InvalidSnapshotError{Index: idx, Metric: name, Reason: "is not a number"}
		}
		snap.Metrics[name] = n.NumberValue
	}
	return snap, nil
}

// #endregion snapshot

// #region decision
func encodeCheckpoint(c *stopping.Checkpoint) *structpb.Value {
	if c == nil {
		return structpb.NewNullValue()
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"index": structpb.NewNumberValue(float64(c.Index)),
		"value": structpb.NewNumberValue(c.Value),
	}})
}

func decodeCheckpoint(v *structpb.Value) *stopping.Checkpoint {
	s := v.GetStructValue()
	if s == nil {
		return nil
	}
	idx, _ := getInt(s, "index")
	val, _ := getNumber(s, "value")
	return &stopping.Checkpoint{Index: idx, Value: val}
}

func encodeDecision(d stopping.Decision) *structpb.Struct {
	failed := make([]*structpb.Value, len(d.Failed))
	for i, f := range d.Failed {
		failed[i] = structpb.NewStringValue(f)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"index":                         structpb.NewNumberValue(float64(d.Index)),
		"action":                        structpb.NewStringValue(string(d.Action)),
		"reason":                        structpb.NewStringValue(string(d.Reason)),
		"satisfying":                    structpb.NewBoolValue(d.Satisfying),
		"improved":                      structpb.NewBoolValue(d.Improved),
		"failed":                        structpb.NewListValue(&structpb.ListValue{Values: failed}),
		"best":                          encodeCheckpoint(d.Best),
		"iterations_since_best":         structpb.NewNumberValue(float64(d.IterationsSinceBest)),
		"iterations_without_satisfying": structpb.NewNumberValue(float64(d.IterationsWithoutSatisfying)),
	}}
}

func decodeDecision(s *structpb.Struct) stopping.Decision {
	d := stopping.Decision{
		Action:     stopping.Action(getString(s, "action")),
		Reason:     stopping.StopReason(getString(s, "reason")),
		Satisfying: getBool(s, "satisfying"),
		Improved:   getBool(s, "improved"),
		Best:       decodeCheckpoint(s.GetFields()["best"]),
	}
	d.Index, _ = getInt(s, "index")
	d.IterationsSinceBest, _ = getInt(s, "iterations_since_best")
	d.IterationsWithoutSatisfying, _ = getInt(s, "iterations_without_satisfying")
	for _, v := range s.GetFields()["failed"].GetListValue().GetValues() {
		d.Failed = append(d.Failed, v.GetStringValue())
	}
	return d
}

// #endregion decision

// #region status
func encodeStatus(st RunStatus) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"run_id":                        structpb.NewStringValue(st.RunID),
		"stopped":                       structpb.NewBoolValue(st.Stopped),
		"evaluations":                   structpb.NewNumberValue(float64(st.Evaluations)),
		"best":                          encodeCheckpoint(st.Best),
		"iterations_since_best":         structpb.NewNumberValue(float64(st.IterationsSinceBest)),
		"iterations_without_satisfying": structpb.NewNumberValue(float64(st.IterationsWithoutSatisfying)),
	}
	if st.StopDecision != nil {
		fields["stop_decision"] = structpb.NewStructValue(encodeDecision(*st.StopDecision))
	}
	return &structpb.Struct{Fields: fields}
}

func decodeStatus(s *structpb.Struct) RunStatus {
	st := RunStatus{
		RunID:   getString(s, "run_id"),
		Stopped: getBool(s, "stopped"),
		Best:    decodeCheckpoint(s.GetFields()["best"]),
	}
	st.Evaluations, _ = getInt(s, "evaluations")
	st.IterationsSinceBest, _ = getInt(s, "iterations_since_best")
	st.IterationsWithoutSatisfying, _ = getInt(s, "iterations_without_satisfying")
	if sd := s.GetFields()["stop_decision"].GetStructValue(); sd != nil {
		d := decodeDecision(sd)
		st.StopDecision = &d
	}
	return st
}

func encodeEndRun(r EndRunResult) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_id":     structpb.NewStringValue(r.RunID),
		"status":     structpb.NewStringValue(r.Status),
		"reason":     structpb.NewStringValue(string(r.Reason)),
		"best":       encodeCheckpoint(r.Best),
		"iterations": structpb.NewNumberValue(float64(r.Iterations)),
	}}
}

func decodeEndRun(s *structpb.Struct) EndRunResult {
	r := EndRunResult{
		RunID:  getString(s, "run_id"),
		Status: getString(s, "status"),
		Reason: stopping.StopReason(getString(s, "reason")),
		Best:   decodeCheckpoint(s.GetFields()["best"]),
	}
	r.Iterations, _ = getInt(s, "iterations")
	return r
}

func runIDRequest(runID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_id": structpb.NewStringValue(runID),
	}}
}

// #endregion status
