package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/optisat/internal/stopping"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id         TEXT PRIMARY KEY,
	config_json    TEXT NOT NULL,
	status         TEXT NOT NULL,
	stop_reason    TEXT,
	best_iteration INTEGER,
	best_value     REAL,
	iterations     INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	iteration     INTEGER NOT NULL,
	action        TEXT NOT NULL,
	reason        TEXT,
	satisfying    INTEGER NOT NULL DEFAULT 0,
	record_json   TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_decision_log_run ON decision_log(run_id, iteration);
`

// #endregion schema

// #region store-struct
// Store keeps training runs and their decision log in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an already-migrated database. Used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the schema to db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region create-run
// CreateRun stores a new run in the running state.
func (s *Store) CreateRun(cfg stopping.EngineConfig) (RunRecord, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal config: %w", err)
	}

	now := time.Now().UTC()
	rec := RunRecord{
		RunID:     uuid.New().String(),
		Config:    cfg.Clone(),
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, config_json, status, iterations, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		rec.RunID, string(cfgJSON), string(rec.Status),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// #endregion create-run

// #region get-run
const runColumns = `run_id, config_json, status, stop_reason, best_iteration, best_value, iterations, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var cfgJSON, status, createdStr, updatedStr string
	var stopReason sql.NullString
	var bestIter sql.NullInt64
	var bestValue sql.NullFloat64

	if err := row.Scan(&rec.RunID, &cfgJSON, &status, &stopReason, &bestIter, &bestValue,
		&rec.Iterations, &createdStr, &updatedStr); err != nil {
		return RunRecord{}, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &rec.Config); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal config: %w", err)
	}
	rec.Status = RunStatus(status)
	if stopReason.Valid {
		rec.StopReason = stopping.StopReason(stopReason.String)
	}
	if bestIter.Valid && bestValue.Valid {
		rec.Best = &stopping.Checkpoint{Index: int(bestIter.Int64), Value: bestValue.Float64}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return rec, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (RunRecord, error) {
	rec, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-run

// #region update-outcome
// UpdateRunOutcome records the latest status, stop reason and best checkpoint.
func (s *Store) UpdateRunOutcome(id string, out RunOutcome) error {
	var bestIter, bestValue any
	if out.Best != nil {
		bestIter = out.Best.Index
		bestValue = out.Best.Value
	}

	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, stop_reason = ?, best_iteration = ?, best_value = ?,
		 iterations = ?, updated_at = ? WHERE run_id = ?`,
		string(out.Status), nullIfEmpty(string(out.StopReason)), bestIter, bestValue,
		out.Iterations, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// #endregion update-outcome

// #region list-runs
// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListRunsWithSummary returns the most recent runs with decision counts.
func (s *Store) ListRunsWithSummary(limit int) ([]RunWithSummary, error) {
	runs, err := s.ListRuns(limit)
	if err != nil {
		return nil, err
	}

	out := make([]RunWithSummary, len(runs))
	for i, r := range runs {
		out[i].RunRecord = r
		err := s.db.QueryRow(
			`SELECT COUNT(*), COALESCE(SUM(satisfying), 0) FROM decision_log WHERE run_id = ?`, r.RunID,
		).Scan(&out[i].Decisions, &out[i].Satisfying)
		if err != nil {
			return nil, fmt.Errorf("summarize run %s: %w", r.RunID, err)
		}
	}
	return out, nil
}

// #endregion list-runs

// #region list-decisions
// ListDecisions returns a run's decision log in iteration order.
func (s *Store) ListDecisions(runID string) ([]DecisionRow, error) {
	rows, err := s.db.Query(
		`SELECT run_id, iteration, action, reason, record_json, created_at
		 FROM decision_log WHERE run_id = ? ORDER BY iteration ASC, id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRow
	for rows.Next() {
		var r DecisionRow
		var reason, record sql.NullString
		var createdStr string
		if err := rows.Scan(&r.RunID, &r.Iteration, &r.Action, &reason, &record, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Reason = reason.String
		r.RecordJSON = record.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion list-decisions

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
