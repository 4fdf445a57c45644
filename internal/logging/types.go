package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	RunID      string
	Iteration  int
	Action     string // "continue" | "stop"
	Reason     string // "" | "satisfy_unreachable" | "no_improvement"
	Satisfying bool
	RecordJSON string
	CreatedAt  time.Time
}

// #endregion decision-entry

// #region decision-record
// DecisionRecord captures the complete inputs and outputs of one evaluation.
// Serialized as JSON into decision_log.record_json for deterministic replay.
type DecisionRecord struct {
	Index   int                `json:"index"`
	Metrics map[string]float64 `json:"metrics"`

	// Criteria active at decision time
	Thresholds []RecordCriterion `json:"thresholds"`

	SatisfyPatience  int `json:"satisfy_patience"`
	OptimizePatience int `json:"optimize_patience"`

	// Engine output
	Action                      string   `json:"action"`
	Reason                      string   `json:"reason,omitempty"`
	Satisfying                  bool     `json:"satisfying"`
	Improved                    bool     `json:"improved"`
	Failed                      []string `json:"failed,omitempty"`
	IterationsSinceBest         int      `json:"iterations_since_best"`
	IterationsWithoutSatisfying int      `json:"iterations_without_satisfying"`

	BestIndex *int     `json:"best_index,omitempty"`
	BestValue *float64 `json:"best_value,omitempty"`
}

// RecordCriterion is one criterion as it was configured when the record was written.
type RecordCriterion struct {
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Direction string   `json:"direction"`
	Threshold *float64 `json:"threshold,omitempty"`
	MinDelta  float64  `json:"min_delta,omitempty"`
}

// #endregion decision-record
