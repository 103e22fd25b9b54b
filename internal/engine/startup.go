package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that every configured model is reachable, writing one
// status line per model to w. Duplicate and empty names are skipped.
func EnsureReady(ctx context.Context, c ModelChecker, models []string, w io.Writer) error {
	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if err := c.CheckModel(ctx, model); err != nil {
			fmt.Fprintf(w, "model %s: unavailable\n", model)
			return fmt.Errorf("model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}
