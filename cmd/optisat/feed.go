package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danielpatrickdp/optisat/internal/rpc"
	"github.com/danielpatrickdp/optisat/internal/stopping"
	"github.com/spf13/cobra"
)

var (
	feedAddr    string
	feedInput   string
	feedTimeout time.Duration
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Stream JSONL snapshots to a running server",
	Long: `Read one snapshot per line, {"index": 3, "metrics": {"val_loss": 0.4}},
from --input or stdin and send each to a running optisat server.
A line without "index" takes its position in the stream.

Exits 0 when the engine stops and 1 when the input ends first.
Snapshots the engine rejects are reported and skipped.`,
	RunE: runFeed,
}

func init() {
	feedCmd.Flags().StringVar(&feedAddr, "addr", "", "server address (default server.addr from config)")
	feedCmd.Flags().StringVar(&feedInput, "input", "", "JSONL file (default stdin)")
	feedCmd.Flags().DurationVar(&feedTimeout, "timeout", 10*time.Second, "per-call timeout")
}

func runFeed(cmd *cobra.Command, args []string) error {
	addr := feedAddr
	if addr == "" {
		addr = appCfg.Server.Addr
	}

	var in io.Reader = os.Stdin
	if feedInput != "" {
		f, err := os.Open(feedInput)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	client, err := rpc.NewClient(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	call := func() (context.Context, context.CancelFunc) { return context.WithTimeout(ctx, feedTimeout) }

	cctx, cancel := call()
	runID, err := client.StartRun(cctx, rpc.StartRunRequest{})
	cancel()
	if err != nil {
		return err
	}
	logger.Info("run started", "run", runID, "addr", addr)

	stopped := false
	reader := newSnapshotReader(in)
	for !stopped {
		snap, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		cctx, cancel := call()
		d, err := client.Evaluate(cctx, runID, snap)
		cancel()
		switch {
		case errors.Is(err, stopping.ErrMissingMetric), errors.Is(err, stopping.ErrInvalidSnapshot):
			logger.Warn("snapshot rejected", "line", reader.line, "error", err)
			continue
		case err != nil:
			return err
		}

		fmt.Printf("%5d  sat=%-5v  best=%-12s  %s\n", d.Index, d.Satisfying, bestString(d.Best),
			actionString(string(d.Action), string(d.Reason)))
		stopped = d.Stop()
	}

	cctx, cancel = call()
	end, err := client.EndRun(cctx, runID)
	cancel()
	if err != nil {
		return err
	}
	fmt.Printf("\nRun %s %s after %d iterations, best %s\n", shortID(end.RunID), end.Status, end.Iterations, bestString(end.Best))

	if !stopped {
		return exitCode(1)
	}
	return nil
}

// #region snapshot-reader

type snapshotLine struct {
	Index   *int               `json:"index"`
	Metrics map[string]float64 `json:"metrics"`
}

// snapshotReader decodes one snapshot per non-blank line.
type snapshotReader struct {
	sc   *bufio.Scanner
	line int
	pos  int
}

func newSnapshotReader(r io.Reader) *snapshotReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &snapshotReader{sc: sc}
}

// Next returns the next snapshot, or io.EOF at the end of input.
func (r *snapshotReader) Next() (stopping.Snapshot, error) {
	for r.sc.Scan() {
		r.line++
		raw := r.sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var sl snapshotLine
		if err := json.Unmarshal(raw, &sl); err != nil {
			return stopping.Snapshot{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		snap := stopping.Snapshot{Index: r.pos, Metrics: sl.Metrics}
		if sl.Index != nil {
			snap.Index = *sl.Index
		}
		r.pos++
		return snap, nil
	}
	if err := r.sc.Err(); err != nil {
		return stopping.Snapshot{}, fmt.Errorf("read input: %w", err)
	}
	return stopping.Snapshot{}, io.EOF
}

// #endregion snapshot-reader
