package state

import (
	"time"

	"github.com/danielpatrickdp/optisat/internal/stopping"
)

// #region run-status
// RunStatus is the lifecycle of a stored run.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusStopped RunStatus = "stopped" // the engine returned a stop decision
	StatusEnded   RunStatus = "ended"   // the caller ended the run before a stop
)

// #endregion run-status

// #region run-record
// RunRecord is one training run as stored in the runs table.
type RunRecord struct {
	RunID      string
	Config     stopping.EngineConfig
	Status     RunStatus
	StopReason stopping.StopReason
	Best       *stopping.Checkpoint
	Iterations int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RunOutcome is the mutable part of a run, written after each decision.
type RunOutcome struct {
	Status     RunStatus
	StopReason stopping.StopReason
	Best       *stopping.Checkpoint
	Iterations int
}

// #endregion run-record

// #region decision-row
// DecisionRow is one decision_log row.
type DecisionRow struct {
	RunID      string
	Iteration  int
	Action     string
	Reason     string
	RecordJSON string
	CreatedAt  time.Time
}

// RunWithSummary pairs a run with aggregate counts from its decision log.
type RunWithSummary struct {
	RunRecord
	Decisions  int
	Satisfying int
}

// #endregion decision-row
