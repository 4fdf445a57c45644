package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielpatrickdp/optisat/internal/logging"
	"github.com/danielpatrickdp/optisat/internal/state"
	"github.com/danielpatrickdp/optisat/internal/stopping"
	"gopkg.in/yaml.v3"
)

// #region fixture-types

// Fixture is the top-level structure for a replay fixture.
type Fixture struct {
	Description  string                `json:"description" yaml:"description"`
	Engine       stopping.EngineConfig `json:"engine" yaml:"engine"`
	Snapshots    []stopping.Snapshot   `json:"snapshots" yaml:"snapshots"`
	Expected     []Expectation         `json:"expected" yaml:"expected"`
	ExpectedBest *stopping.Checkpoint  `json:"expected_best,omitempty" yaml:"expected_best,omitempty"`
}

// Expectation captures the expected outcome per snapshot.
type Expectation struct {
	Index  int    `json:"index" yaml:"index"`
	Action string `json:"action" yaml:"action"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Divergence is one place where a replay disagrees with its fixture.
type Divergence struct {
	Position int
	Field    string
	Want     string
	Got      string
}

func (d Divergence) String() string {
	return fmt.Sprintf("step %d: %s want %q got %q", d.Position, d.Field, d.Want, d.Got)
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads a .json, .yaml or .yml fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}

	var f Fixture
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Run replays the fixture's snapshots against its engine config.
func (f *Fixture) Run() ([]ReplayResult, error) {
	return Replay(f.Engine, f.Snapshots)
}

// Compare checks results against the fixture's expectations.
func (f *Fixture) Compare(results []ReplayResult) []Divergence {
	var out []Divergence
	if len(results) != len(f.Expected) {
		out = append(out, Divergence{
			Position: -1, Field: "steps",
			Want: fmt.Sprint(len(f.Expected)), Got: fmt.Sprint(len(results)),
		})
	}
	for i := 0; i < len(results) && i < len(f.Expected); i++ {
		want, got := f.Expected[i], results[i]
		if want.Index != got.Index {
			out = append(out, Divergence{i, "index", fmt.Sprint(want.Index), fmt.Sprint(got.Index)})
		}
		if want.Action != got.Action {
			out = append(out, Divergence{i, "action", want.Action, got.Action})
		}
		if got.Action != ActionError && want.Reason != got.Reason {
			out = append(out, Divergence{i, "reason", want.Reason, got.Reason})
		}
	}

	if f.ExpectedBest != nil {
		best := Summarize(results).Best
		switch {
		case best == nil:
			out = append(out, Divergence{-1, "best", checkpointString(f.ExpectedBest), "none"})
		case *best != *f.ExpectedBest:
			out = append(out, Divergence{-1, "best", checkpointString(f.ExpectedBest), checkpointString(best)})
		}
	}
	return out
}

func checkpointString(c *stopping.Checkpoint) string {
	return fmt.Sprintf("%g@%d", c.Value, c.Index)
}

// #endregion fixture-loader

// #region from-store

// FromDecisions rebuilds the snapshots of a stored run from its decision log.
func FromDecisions(rows []state.DecisionRow) ([]stopping.Snapshot, error) {
	snaps := make([]stopping.Snapshot, 0, len(rows))
	for _, r := range rows {
		if r.RecordJSON == "" {
			return nil, fmt.Errorf("iteration %d: no decision record", r.Iteration)
		}
		rec, err := logging.ParseRecord(r.RecordJSON)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", r.Iteration, err)
		}
		snaps = append(snaps, stopping.Snapshot{Index: rec.Index, Metrics: rec.Metrics})
	}
	return snaps, nil
}

// ExportFixture turns a stored run into a fixture whose expectations are the
// decisions that were actually logged.
func ExportFixture(run state.RunRecord, rows []state.DecisionRow) (*Fixture, error) {
	snaps, err := FromDecisions(rows)
	if err != nil {
		return nil, err
	}
	f := &Fixture{
		Description: fmt.Sprintf("exported from run %s (%s)", run.RunID, run.Status),
		Engine:      run.Config.Clone(),
		Snapshots:   snaps,
	}
	for _, r := range rows {
		f.Expected = append(f.Expected, Expectation{Index: r.Iteration, Action: r.Action, Reason: r.Reason})
	}
	if run.Best != nil {
		b := *run.Best
		f.ExpectedBest = &b
	}
	return f, nil
}

// #endregion from-store
