package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/danielpatrickdp/optisat/internal/stopping"
)

// #region output

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func bestString(b *stopping.Checkpoint) string {
	if b == nil {
		return "—"
	}
	return fmt.Sprintf("%.4g@%d", b.Value, b.Index)
}

func actionString(action, reason string) string {
	if reason == "" {
		return action
	}
	return action + " (" + reason + ")"
}

// #endregion output
