package state

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/optisat/internal/stopping"
	_ "modernc.org/sqlite"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig() stopping.EngineConfig {
	return stopping.EngineConfig{
		Criteria: []stopping.CriterionSpec{
			stopping.Optimize("val_loss", stopping.Minimize, 0.001),
			stopping.Satisfy("latency_ms", stopping.Minimize, 50),
		},
		SatisfyPatience:  3,
		OptimizePatience: 2,
	}
}

func insertDecision(t *testing.T, db *sql.DB, runID string, iter int, action string, satisfying bool) {
	t.Helper()
	sat := 0
	if satisfying {
		sat = 1
	}
	_, err := db.Exec(
		`INSERT INTO decision_log (run_id, iteration, action, satisfying, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, iter, action, sat, `{"index":0}`, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		t.Fatalf("insert decision: %v", err)
	}
}

func TestCreateRunAndGetRun(t *testing.T) {
	s := tempDB(t)

	rec, err := s.CreateRun(testConfig())
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if rec.RunID == "" {
		t.Fatal("expected non-empty run ID")
	}
	if rec.Status != StatusRunning {
		t.Fatalf("expected running, got %s", rec.Status)
	}

	got, err := s.GetRun(rec.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.RunID != rec.RunID {
		t.Fatalf("expected %s, got %s", rec.RunID, got.RunID)
	}
	if len(got.Config.Criteria) != 2 {
		t.Fatalf("expected 2 criteria, got %d", len(got.Config.Criteria))
	}
	th := got.Config.Criteria[1].Threshold
	if th == nil || *th != 50 {
		t.Fatalf("threshold did not round-trip: %v", th)
	}
	if got.Config.Criteria[0].MinDelta != 0.001 {
		t.Fatalf("min_delta did not round-trip: %v", got.Config.Criteria[0].MinDelta)
	}
	if got.Best != nil {
		t.Fatalf("expected no best, got %+v", got.Best)
	}
	if got.StopReason != stopping.ReasonNone {
		t.Fatalf("expected empty stop reason, got %q", got.StopReason)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := tempDB(t)
	if _, err := s.GetRun("nonexistent-id"); err == nil {
		t.Fatal("expected error for nonexistent run")
	}
}

func TestUpdateRunOutcome(t *testing.T) {
	s := tempDB(t)
	rec, _ := s.CreateRun(testConfig())

	err := s.UpdateRunOutcome(rec.RunID, RunOutcome{
		Status:     StatusStopped,
		StopReason: stopping.ReasonNoImprovement,
		Best:       &stopping.Checkpoint{Index: 3, Value: 0.39},
		Iterations: 6,
	})
	if err != nil {
		t.Fatalf("UpdateRunOutcome: %v", err)
	}

	got, _ := s.GetRun(rec.RunID)
	if got.Status != StatusStopped {
		t.Fatalf("expected stopped, got %s", got.Status)
	}
	if got.StopReason != stopping.ReasonNoImprovement {
		t.Fatalf("expected no_improvement, got %s", got.StopReason)
	}
	if got.Best == nil || got.Best.Index != 3 || got.Best.Value != 0.39 {
		t.Fatalf("unexpected best %+v", got.Best)
	}
	if got.Iterations != 6 {
		t.Fatalf("expected 6 iterations, got %d", got.Iterations)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Fatal("updated_at before created_at")
	}
}

func TestUpdateRunOutcomeNotFound(t *testing.T) {
	s := tempDB(t)
	err := s.UpdateRunOutcome("missing", RunOutcome{Status: StatusEnded})
	if err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestListRuns(t *testing.T) {
	s := tempDB(t)
	first, _ := s.CreateRun(testConfig())
	time.Sleep(2 * time.Millisecond)
	second, _ := s.CreateRun(testConfig())

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != second.RunID || runs[1].RunID != first.RunID {
		t.Fatal("expected newest run first")
	}

	runs, _ = s.ListRuns(1)
	if len(runs) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(runs))
	}
}

func TestListRunsWithSummary(t *testing.T) {
	s := tempDB(t)
	rec, _ := s.CreateRun(testConfig())
	insertDecision(t, s.DB(), rec.RunID, 0, "continue", false)
	insertDecision(t, s.DB(), rec.RunID, 1, "continue", true)
	insertDecision(t, s.DB(), rec.RunID, 2, "stop", true)

	runs, err := s.ListRunsWithSummary(5)
	if err != nil {
		t.Fatalf("ListRunsWithSummary: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Decisions != 3 || runs[0].Satisfying != 2 {
		t.Fatalf("unexpected summary %d/%d", runs[0].Decisions, runs[0].Satisfying)
	}
}

func TestListDecisionsOrdered(t *testing.T) {
	s := tempDB(t)
	rec, _ := s.CreateRun(testConfig())
	insertDecision(t, s.DB(), rec.RunID, 2, "stop", true)
	insertDecision(t, s.DB(), rec.RunID, 0, "continue", false)
	insertDecision(t, s.DB(), rec.RunID, 1, "continue", true)

	rows, err := s.ListDecisions(rec.RunID)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, r := range rows {
		if r.Iteration != i {
			t.Fatalf("row %d: expected iteration %d, got %d", i, i, r.Iteration)
		}
	}
	if rows[2].Action != "stop" {
		t.Fatalf("expected last action stop, got %s", rows[2].Action)
	}
	if rows[0].Reason != "" {
		t.Fatalf("expected empty reason for NULL, got %q", rows[0].Reason)
	}
}

func TestDecisionLogForeignKey(t *testing.T) {
	s := tempDB(t)
	_, err := s.DB().Exec(
		`INSERT INTO decision_log (run_id, iteration, action, created_at) VALUES (?, 0, 'continue', ?)`,
		"no-such-run", time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestNewStoreInvalidPath(t *testing.T) {
	_, err := NewStore(filepath.Join(string(os.PathSeparator), "nonexistent", "deep", "path", "test.db"))
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestNewStore_CorruptDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "corrupt.db")
	os.WriteFile(dbPath, []byte("not a sqlite database"), 0644)

	_, err := NewStore(dbPath)
	if err == nil {
		t.Fatal("expected error for corrupted DB file")
	}
}

func TestNewStoreWithDB_InMemory(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	s := NewStoreWithDB(db)
	rec, err := s.CreateRun(testConfig())
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := s.GetRun(rec.RunID); err != nil {
		t.Fatalf("GetRun: %v", err)
	}
}

func TestGetRun_BadConfigJSON(t *testing.T) {
	s := tempDB(t)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	s.DB().Exec(
		`INSERT INTO runs (run_id, config_json, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"bad-json", "not-json", "running", now, now,
	)

	if _, err := s.GetRun("bad-json"); err == nil {
		t.Fatal("expected unmarshal error for bad config JSON")
	}
	if _, err := s.ListRuns(10); err == nil {
		t.Fatal("expected unmarshal error in ListRuns")
	}
}

func TestOperationsOnClosedDB(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(filepath.Join(dir, "test.db"))
	rec, _ := s.CreateRun(testConfig())
	s.Close()

	if _, err := s.CreateRun(testConfig()); err == nil {
		t.Error("CreateRun: expected error on closed DB")
	}
	if _, err := s.GetRun(rec.RunID); err == nil {
		t.Error("GetRun: expected error on closed DB")
	}
	if err := s.UpdateRunOutcome(rec.RunID, RunOutcome{Status: StatusEnded}); err == nil {
		t.Error("UpdateRunOutcome: expected error on closed DB")
	}
	if _, err := s.ListRuns(10); err == nil {
		t.Error("ListRuns: expected error on closed DB")
	}
	if _, err := s.ListDecisions(rec.RunID); err == nil {
		t.Error("ListDecisions: expected error on closed DB")
	}
}
