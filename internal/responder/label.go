package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshsymonds/vacationd/internal/gmail"
	"github.com/joshsymonds/vacationd/internal/rate"
)

// LabelManager owns the completion label.
type LabelManager struct {
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
}

// EnsureLabel creates name, or returns the existing label's id if the provider reports a
// conflict. It never creates a second label with the same name.
func (m *LabelManager) EnsureLabel(ctx context.Context, name string) (gmail.LabelID, error) {
	if name == "" {
		return "", errors.New("label name must not be empty")
	}
	if err := wait(ctx, m.Limiter, "rate limit create label"); err != nil {
		return "", err
	}
	id, err := m.Client.CreateLabel(ctx, name, gmail.DefaultVisibility)
	if err == nil {
		logger(m.Logger).InfoContext(ctx, "created completion label", "label", name, "label_id", id)
		return id, nil
	}
	if !errors.Is(err, gmail.ErrLabelExists) {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}

	if err := wait(ctx, m.Limiter, "rate limit list labels"); err != nil {
		return "", err
	}
	labels, err := m.Client.ListLabels(ctx)
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	for _, l := range labels {
		if l.Name == name {
			logger(m.Logger).InfoContext(ctx, "found completion label", "label", name, "label_id", l.ID)
			return l.ID, nil
		}
	}
	return "", fmt.Errorf("label %q reported as existing but not listed", name)
}
