package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/optisat/internal/logging"
	"github.com/danielpatrickdp/optisat/internal/state"
	"github.com/spf13/cobra"
)

var (
	inspectDB   string
	inspectLast int
	inspectRun  string
	inspectJSON bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List stored runs or show one run's decision log",
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDB, "db", "", "run store (default store.path from config)")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "show N most recent runs")
	inspectCmd.Flags().StringVar(&inspectRun, "run", "", "show a single run in detail")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of table")
}

func openStore(path string) (*state.Store, error) {
	if path == "" {
		path = appCfg.Store.Path
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return state.NewStore(path)
}

func runInspect(cmd *cobra.Command, args []string) error {
	store, err := openStore(inspectDB)
	if err != nil {
		return err
	}
	defer store.Close()

	if inspectRun != "" {
		return runDetailMode(store, inspectRun, inspectJSON)
	}
	return runListMode(store, inspectLast, inspectJSON)
}

// #region list-mode

type listRow struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	StopReason string `json:"stop_reason,omitempty"`
	Best       string `json:"best"`
	Iterations int    `json:"iterations"`
	Decisions  int    `json:"decisions"`
	Satisfying int    `json:"satisfying"`
	CreatedAt  string `json:"created_at"`
}

func runListMode(store *state.Store, last int, jsonOut bool) error {
	runs, err := store.ListRunsWithSummary(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		rows[i] = listRow{
			RunID:      r.RunID,
			Status:     string(r.Status),
			StopReason: string(r.StopReason),
			Best:       bestString(r.Best),
			Iterations: r.Iterations,
			Decisions:  r.Decisions,
			Satisfying: r.Satisfying,
			CreatedAt:  r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-8s  %-20s  %-14s  %5s  %9s  %s\n",
		"Run", "Status", "Stop Reason", "Best", "Iter", "Sat/Dec", "Created")
	fmt.Printf("%-10s+-%-8s+-%-20s+-%-14s+-%5s+-%9s+-%s\n",
		"----------", "--------", "--------------------", "--------------", "-----", "---------", "--------------------")
	for _, r := range rows {
		reason := r.StopReason
		if reason == "" {
			reason = "—"
		}
		fmt.Printf("%-10s  %-8s  %-20s  %-14s  %5d  %9s  %s\n",
			shortID(r.RunID), r.Status, reason, r.Best, r.Iterations,
			fmt.Sprintf("%d/%d", r.Satisfying, r.Decisions), r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	RunID      string           `json:"run_id"`
	Status     string           `json:"status"`
	StopReason string           `json:"stop_reason,omitempty"`
	Best       string           `json:"best"`
	Iterations int              `json:"iterations"`
	Criteria   []string         `json:"criteria"`
	CreatedAt  string           `json:"created_at"`
	UpdatedAt  string           `json:"updated_at"`
	Decisions  []decisionOutput `json:"decisions"`
}

type decisionOutput struct {
	Iteration  int                `json:"iteration"`
	Action     string             `json:"action"`
	Reason     string             `json:"reason,omitempty"`
	Satisfying bool               `json:"satisfying"`
	Improved   bool               `json:"improved"`
	Failed     []string           `json:"failed,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

func runDetailMode(store *state.Store, runID string, jsonOut bool) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	rows, err := store.ListDecisions(run.RunID)
	if err != nil {
		return err
	}

	out := detailOutput{
		RunID:      run.RunID,
		Status:     string(run.Status),
		StopReason: string(run.StopReason),
		Best:       bestString(run.Best),
		Iterations: run.Iterations,
		CreatedAt:  run.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:  run.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
	for _, c := range run.Config.Criteria {
		desc := fmt.Sprintf("%s %s %s", c.Role, c.Direction, c.Name)
		if c.Threshold != nil {
			desc += fmt.Sprintf(" threshold=%g", *c.Threshold)
		}
		if c.MinDelta > 0 {
			desc += fmt.Sprintf(" min_delta=%g", c.MinDelta)
		}
		out.Criteria = append(out.Criteria, desc)
	}
	for _, r := range rows {
		d := decisionOutput{Iteration: r.Iteration, Action: r.Action, Reason: r.Reason}
		if rec, err := logging.ParseRecord(r.RecordJSON); err == nil {
			d.Satisfying = rec.Satisfying
			d.Improved = rec.Improved
			d.Failed = rec.Failed
			d.Metrics = rec.Metrics
		}
		out.Decisions = append(out.Decisions, d)
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:        %s\n", out.RunID)
	fmt.Printf("Status:     %s\n", out.Status)
	if out.StopReason != "" {
		fmt.Printf("Stopped:    %s\n", out.StopReason)
	}
	fmt.Printf("Best:       %s\n", out.Best)
	fmt.Printf("Iterations: %d\n", out.Iterations)
	fmt.Printf("Created:    %s\n", out.CreatedAt)
	fmt.Printf("Updated:    %s\n", out.UpdatedAt)
	fmt.Printf("\nCriteria:\n")
	for _, c := range out.Criteria {
		fmt.Printf("  %s\n", c)
	}

	if len(out.Decisions) == 0 {
		fmt.Printf("\nNo decisions logged.\n")
		return nil
	}
	fmt.Printf("\n%5s  %-26s  %-4s  %-4s  %s\n", "Iter", "Decision", "Sat", "Impr", "Metrics")
	for _, d := range out.Decisions {
		fmt.Printf("%5d  %-26s  %-4s  %-4s  %s\n",
			d.Iteration, actionString(d.Action, d.Reason), yesNo(d.Satisfying), yesNo(d.Improved), metricsString(d.Metrics))
	}
	return nil
}

// #endregion detail-mode

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func metricsString(m map[string]float64) string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%.4g", k, m[k])
	}
	return strings.Join(parts, " ")
}
