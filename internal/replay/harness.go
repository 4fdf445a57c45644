package replay

import (
	"github.com/danielpatrickdp/optisat/internal/stopping"
)

// #region types
// Step outcomes beyond the engine's own continue/stop actions.
const (
	ActionError   = "error"   // the engine rejected the snapshot
	ActionSkipped = "skipped" // the snapshot came after a stop and was not fed
)

// ReplayResult captures the outcome of replaying one snapshot.
type ReplayResult struct {
	Index     int
	Action    string // "continue" | "stop" | "error" | "skipped"
	Reason    string
	ErrorKind string // stopping.Kind of the rejection, set when Action is "error"
	Err       error

	// Decision is nil unless the engine accepted the snapshot.
	Decision *stopping.Decision
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalSteps int
	Continues  int
	Stops      int
	Errors     int
	Skipped    int
	StopReason stopping.StopReason
	StopIndex  int // -1 when the run never stopped
	Best       *stopping.Checkpoint
}

// #endregion types

// #region replay
// Replay runs a fresh engine over recorded snapshots. Rejected snapshots are
// reported and leave the engine untouched; once the engine stops, the
// remaining snapshots are reported as skipped. The only returned error is a
// configuration error from building the engine.
func Replay(cfg stopping.EngineConfig, snapshots []stopping.Snapshot) ([]ReplayResult, error) {
	engine, err := stopping.NewEngine(cfg)
	if err != nil {
		return nil, err
	}

	results := make([]ReplayResult, 0, len(snapshots))
	for _, snap := range snapshots {
		if engine.Stopped() {
			results = append(results, ReplayResult{Index: snap.Index, Action: ActionSkipped})
			continue
		}

		d, err := engine.Evaluate(snap)
		if err != nil {
			results = append(results, ReplayResult{
				Index:     snap.Index,
				Action:    ActionError,
				Reason:    err.Error(),
				ErrorKind: stopping.Kind(err),
				Err:       err,
			})
			continue
		}

		results = append(results, ReplayResult{
			Index:    snap.Index,
			Action:   string(d.Action),
			Reason:   string(d.Reason),
			Decision: &d,
		})
	}
	return results, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalSteps: len(results), StopIndex: -1}
	for _, r := range results {
		switch r.Action {
		case string(stopping.ActionContinue):
			s.Continues++
		case string(stopping.ActionStop):
			s.Stops++
			s.StopReason = stopping.StopReason(r.Reason)
			s.StopIndex = r.Index
		case ActionError:
			s.Errors++
		case ActionSkipped:
			s.Skipped++
		}
		if r.Decision != nil && r.Decision.Best != nil {
			b := *r.Decision.Best
			s.Best = &b
		}
	}
	return s
}

// #endregion replay
