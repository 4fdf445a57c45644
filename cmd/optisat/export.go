package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danielpatrickdp/optisat/internal/replay"
	"github.com/spf13/cobra"
)

var (
	exportDB  string
	exportRun string
	exportOut string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored run as a replay fixture",
	Long: `Export a stored run as a JSON fixture. The fixture's expectations are the
decisions that were logged, so replaying it checks that the engine still
decides the same way.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportDB, "db", "", "run store (default store.path from config)")
	exportCmd.Flags().StringVar(&exportRun, "run", "", "stored run ID")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output fixture path (default stdout)")
	_ = exportCmd.MarkFlagRequired("run")
}

func runExport(cmd *cobra.Command, args []string) error {
	store, err := openStore(exportDB)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(exportRun)
	if err != nil {
		return err
	}
	rows, err := store.ListDecisions(run.RunID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("run %s has no logged decisions", run.RunID)
	}

	f, err := replay.ExportFixture(run, rows)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if exportOut != "" {
		file, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		defer file.Close()
		w = file
	}
	if err := writeJSON(w, f); err != nil {
		return err
	}
	if exportOut != "" {
		fmt.Fprintf(os.Stderr, "Exported %d decisions from run %s to %s\n", len(rows), shortID(run.RunID), exportOut)
	}
	return nil
}
