package main

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/optisat/internal/logging"
	"github.com/danielpatrickdp/optisat/internal/simulate"
	"github.com/danielpatrickdp/optisat/internal/state"
	"github.com/danielpatrickdp/optisat/internal/stopping"
	"github.com/spf13/cobra"
)

var (
	simMaxIter int
	simSeed    uint64
	simClasses int
	simSamples int
	simDB      string
	simJSON    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the engine against a simulated ordinal training loop",
	Long: `Simulate training on a synthetic ordinal classification task and feed
accuracy, mae and confidence to a local engine until it stops.

Uses the engine section of the config; when no criteria are configured the
simulator's own criteria apply (minimize mae, accuracy >= 0.5,
confidence >= 0.3).`,
	RunE: runSimulate,
}

func init() {
	defaults := simulate.DefaultOptions()
	simulateCmd.Flags().IntVar(&simMaxIter, "max-iter", 1000, "maximum iterations")
	simulateCmd.Flags().Uint64Var(&simSeed, "seed", defaults.Seed, "random seed")
	simulateCmd.Flags().IntVar(&simClasses, "classes", defaults.Classes, "number of ordinal classes")
	simulateCmd.Flags().IntVar(&simSamples, "samples", defaults.Samples, "samples per iteration")
	simulateCmd.Flags().StringVar(&simDB, "db", "", "store the run and its decision log in this database")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "output steps as JSON")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg := appCfg.Engine.ToStopping()
	if len(cfg.Criteria) == 0 {
		cfg.Criteria = simulate.DefaultCriteria()
	}
	engine, err := stopping.NewEngine(cfg)
	if err != nil {
		return err
	}

	opts := simulate.DefaultOptions()
	opts.Seed, opts.Classes, opts.Samples = simSeed, simClasses, simSamples
	sim, err := simulate.New(opts)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := sim.Run(cmd.Context(), engine, simMaxIter)
	if err != nil {
		return err
	}
	logger.Info("simulation finished", "iterations", len(res.Steps), "stopped", res.Stopped,
		"elapsed", time.Since(start).Round(time.Millisecond))

	if simDB != "" {
		runID, err := persistSimulation(simDB, engine, res)
		if err != nil {
			return err
		}
		logger.Info("run stored", "run", runID, "db", simDB)
	}

	if simJSON {
		return printJSON(res.Steps)
	}
	printSimulation(res, engine)
	return nil
}

// persistSimulation writes the run and every decision the way the server does.
func persistSimulation(dbPath string, engine *stopping.Engine, res simulate.Result) (string, error) {
	store, err := state.NewStore(dbPath)
	if err != nil {
		return "", fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	cfg := engine.Config()
	run, err := store.CreateRun(cfg)
	if err != nil {
		return "", err
	}
	for _, st := range res.Steps {
		entry, err := logging.NewDecisionRecord(cfg, st.Snapshot, st.Decision).Entry(run.RunID)
		if err != nil {
			return "", err
		}
		if err := logging.LogDecision(store.DB(), entry); err != nil {
			return "", err
		}
	}

	out := state.RunOutcome{Status: state.StatusEnded, Iterations: engine.Evaluations()}
	if b, ok := engine.Best(); ok {
		out.Best = &b
	}
	if d, ok := engine.StopDecision(); ok {
		out.Status, out.StopReason = state.StatusStopped, d.Reason
	}
	if err := store.UpdateRunOutcome(run.RunID, out); err != nil {
		return "", err
	}
	return run.RunID, nil
}

func printSimulation(res simulate.Result, engine *stopping.Engine) {
	fmt.Printf("%5s  %8s  %8s  %10s  %-4s  %-12s  %s\n",
		"Iter", "Accuracy", "MAE", "Confidence", "Sat", "Best", "Decision")
	fmt.Printf("%5s+-%8s+-%8s+-%10s+-%-4s+-%-12s+-%s\n",
		"-----", "--------", "--------", "----------", "----", "------------", "--------------------")
	for _, st := range res.Steps {
		m, d := st.Snapshot.Metrics, st.Decision
		sat := "no"
		if d.Satisfying {
			sat = "yes"
		}
		fmt.Printf("%5d  %8.4f  %8.4f  %10.4f  %-4s  %-12s  %s\n",
			st.Snapshot.Index, m[simulate.MetricAccuracy], m[simulate.MetricMAE], m[simulate.MetricConfidence],
			sat, bestString(d.Best), actionString(string(d.Action), string(d.Reason)))
	}

	if !res.Stopped {
		fmt.Printf("\nReached --max-iter without a stop after %d iterations\n", len(res.Steps))
		return
	}
	last, _ := res.Last()
	fmt.Printf("\nStopped at iteration %d: %s\n", last.Index, last.Reason)
	if b, ok := engine.Best(); ok {
		fmt.Printf("Best %s = %.4f at iteration %d\n", engine.OptimizeCriterion().Name, b.Value, b.Index)
	} else {
		fmt.Println("No iteration satisfied every threshold")
	}
}
