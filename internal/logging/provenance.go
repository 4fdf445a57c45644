package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/optisat/internal/stopping"
)

// #region log-decision
// LogDecision writes a provenance entry to the decision_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	sat := 0
	if entry.Satisfying {
		sat = 1
	}

	_, err := db.Exec(
		`INSERT INTO decision_log (run_id, iteration, action, reason, satisfying, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Iteration,
		entry.Action,
		nullIfEmpty(entry.Reason),
		sat,
		nullIfEmpty(entry.RecordJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region build-record
// NewDecisionRecord assembles the record for one evaluation of an engine
// configured with cfg.
func NewDecisionRecord(cfg stopping.EngineConfig, snap stopping.Snapshot, d stopping.Decision) DecisionRecord {
	rec := DecisionRecord{
		Index:                       snap.Index,
		Metrics:                     snap.Metrics,
		SatisfyPatience:             cfg.SatisfyPatience,
		OptimizePatience:            cfg.OptimizePatience,
		Action:                      string(d.Action),
		Reason:                      string(d.Reason),
		Satisfying:                  d.Satisfying,
		Improved:                    d.Improved,
		Failed:                      d.Failed,
		IterationsSinceBest:         d.IterationsSinceBest,
		IterationsWithoutSatisfying: d.IterationsWithoutSatisfying,
	}
	for _, c := range cfg.Criteria {
		rec.Thresholds = append(rec.Thresholds, RecordCriterion{
			Name:      c.Name,
			Role:      string(c.Role),
			Direction: string(c.Direction),
			Threshold: c.Threshold,
			MinDelta:  c.MinDelta,
		})
	}
	if d.Best != nil {
		idx, val := d.Best.Index, d.Best.Value
		rec.BestIndex = &idx
		rec.BestValue = &val
	}
	return rec
}

// Entry serializes the record into a decision_log entry for runID.
func (r DecisionRecord) Entry(runID string) (DecisionEntry, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return DecisionEntry{}, fmt.Errorf("marshal decision record: %w", err)
	}
	return DecisionEntry{
		RunID:      runID,
		Iteration:  r.Index,
		Action:     r.Action,
		Reason:     r.Reason,
		Satisfying: r.Satisfying,
		RecordJSON: string(b),
	}, nil
}

// ParseRecord decodes a record_json column.
func ParseRecord(raw string) (DecisionRecord, error) {
	var rec DecisionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return DecisionRecord{}, fmt.Errorf("unmarshal decision record: %w", err)
	}
	return rec, nil
}

// #endregion build-record

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
