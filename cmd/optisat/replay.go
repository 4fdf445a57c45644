package main

import (
	"fmt"

	"github.com/danielpatrickdp/optisat/internal/replay"
	"github.com/spf13/cobra"
)

var (
	replayFixture string
	replayDB      string
	replayRun     string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded snapshots through a fresh engine",
	Long: `Replay a fixture file (--fixture) or a stored run (--run) through a new
engine and compare every decision with the recorded one.

Exits 1 when any decision diverges and 2 when the input cannot be loaded.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFixture, "fixture", "", "fixture file (.json, .yaml)")
	replayCmd.Flags().StringVar(&replayDB, "db", "", "run store (default store.path from config)")
	replayCmd.Flags().StringVar(&replayRun, "run", "", "stored run ID")
	replayCmd.MarkFlagsMutuallyExclusive("fixture", "run")
	replayCmd.MarkFlagsOneRequired("fixture", "run")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := loadReplaySource()
	if err != nil {
		fmt.Println(err)
		return exitCode(2)
	}

	results, err := f.Run()
	if err != nil {
		fmt.Println(err)
		return exitCode(2)
	}

	if f.Description != "" {
		fmt.Printf("%s\n\n", f.Description)
	}
	divs := printComparison(f, results)
	if len(divs) > 0 {
		return exitCode(1)
	}
	return nil
}

func loadReplaySource() (*replay.Fixture, error) {
	if replayFixture != "" {
		return replay.LoadFixture(replayFixture)
	}

	store, err := openStore(replayDB)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	run, err := store.GetRun(replayRun)
	if err != nil {
		return nil, err
	}
	rows, err := store.ListDecisions(run.RunID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("run %s has no logged decisions", run.RunID)
	}
	return replay.ExportFixture(run, rows)
}

// #region output

// printComparison prints expected against replayed decisions and returns the
// divergences.
func printComparison(f *replay.Fixture, results []replay.ReplayResult) []replay.Divergence {
	fmt.Printf("%-8s| %-28s| %-28s| %s\n", "Index", "Expected", "Replayed", "Match")
	fmt.Printf("%-8s+%-29s+%-29s+%s\n",
		"--------", "-----------------------------", "-----------------------------", "------")

	for i, r := range results {
		exp := "—"
		if i < len(f.Expected) {
			exp = actionString(f.Expected[i].Action, f.Expected[i].Reason)
		}
		got := actionString(r.Action, r.Reason)
		if r.Action == replay.ActionError {
			got = actionString(r.Action, r.ErrorKind)
		}
		match := "DIFF"
		if i < len(f.Expected) && f.Expected[i].Action == r.Action && f.Expected[i].Reason == r.Reason {
			match = "OK"
		}
		fmt.Printf("%-8d| %-28s| %-28s| %s\n", r.Index, exp, got, match)
	}

	sum := replay.Summarize(results)
	divs := f.Compare(results)
	fmt.Printf("\nSummary: %d steps, %d continue, %d stop, %d error, %d skipped, best %s\n",
		sum.TotalSteps, sum.Continues, sum.Stops, sum.Errors, sum.Skipped, bestString(sum.Best))
	if len(divs) == 0 {
		fmt.Println("No divergences.")
		return nil
	}
	fmt.Printf("%d divergence(s):\n", len(divs))
	for _, d := range divs {
		fmt.Printf("  %s\n", d)
	}
	return divs
}

// #endregion output
