package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshsymonds/vacationd/internal/gmail"
	"github.com/joshsymonds/vacationd/internal/rate"
)

// Outcome records what Dispatch did with a draft.
type Outcome int

const (
	OutcomeReplied Outcome = iota
	OutcomeSuppressed
	OutcomeDryRun
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplied:
		return "replied"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeDryRun:
		return "dry-run"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// PartialCommitError means the reply went out but the completion label was not applied.
// The message stays a candidate and will be answered again on the next cycle.
type PartialCommitError struct {
	MessageID gmail.MessageID
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("reply sent for %s but labeling failed: %v", e.MessageID, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }

// IsPartialCommit reports whether err (or any error in its chain) is a PartialCommitError.
func IsPartialCommit(err error) bool {
	var pc *PartialCommitError
	return errors.As(err, &pc)
}

// Dispatcher sends a draft and then labels the original message.
type Dispatcher struct {
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
	DryRun  bool
}

// Dispatch sends d and, only if the send succeeded, adds labelID to the message and removes
// it from the inbox. Suppressed drafts skip the send and are labeled directly.
func (d *Dispatcher) Dispatch(ctx context.Context, draft Draft, labelID gmail.LabelID) (Outcome, error) {
	if labelID == "" {
		return 0, errors.New("completion label id is empty")
	}
	log := logger(d.Logger)

	if d.DryRun {
		log.InfoContext(ctx, "dry-run: would reply",
			"message_id", draft.MessageID,
			"to", draft.To,
			"subject", draft.Subject,
			"suppressed", draft.Suppressed,
		)
		return OutcomeDryRun, nil
	}

	outcome := OutcomeSuppressed
	if !draft.Suppressed {
		if err := wait(ctx, d.Limiter, "rate limit send"); err != nil {
			return 0, err
		}
		if err := d.Client.Send(ctx, draft.Envelope); err != nil {
			return 0, fmt.Errorf("send reply to %s: %w", draft.MessageID, err)
		}
		outcome = OutcomeReplied
	}

	ops := gmail.ModifyOps{
		AddLabels:    []gmail.LabelID{labelID},
		RemoveLabels: []gmail.LabelID{gmail.LabelInbox},
	}
	err := wait(ctx, d.Limiter, "rate limit modify")
	if err == nil {
		err = d.Client.Modify(ctx, draft.MessageID, ops)
	}
	if err != nil {
		if outcome == OutcomeReplied {
			return outcome, &PartialCommitError{MessageID: draft.MessageID, Err: err}
		}
		return outcome, fmt.Errorf("label %s: %w", draft.MessageID, err)
	}
	return outcome, nil
}
