// Package responder implements the vacation reply pipeline: ensuring the completion label,
// finding unhandled mail, composing threaded replies and committing them with a label.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joshsymonds/vacationd/internal/rate"
)

func wait(ctx context.Context, limiter rate.Limiter, operation string) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return l
}
