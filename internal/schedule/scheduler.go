// Package schedule drives responder cycles on a randomized polling interval.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/joshsymonds/vacationd/internal/gmail"
	"github.com/joshsymonds/vacationd/internal/responder"
)

// State is the scheduler's position in a cycle.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateReplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateReplying:
		return "replying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Worker is the part of responder.Service the scheduler needs.
type Worker interface {
	Scan(ctx context.Context) ([]gmail.MessageRef, error)
	ReplyAll(ctx context.Context, refs []gmail.MessageRef) responder.CycleReport
}

// Scheduler runs one cycle at a time: scan, reply to the batch, then wait a random interval.
type Scheduler struct {
	Worker   Worker
	Interval Interval
	Logger   *slog.Logger
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	state atomic.Int32
}

// New returns a Scheduler after validating the interval.
func New(worker Worker, interval Interval, log *slog.Logger) (*Scheduler, error) {
	if worker == nil {
		return nil, errors.New("scheduler requires a worker")
	}
	if err := interval.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Scheduler{Worker: worker, Interval: interval, Logger: log}, nil
}

// State reports the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// RunOnce performs a single cycle. The returned error is the cycle-level scan failure, if any;
// per-message failures only show up in the report.
func (s *Scheduler) RunOnce(ctx context.Context) (responder.CycleReport, error) {
	defer s.state.Store(int32(StateIdle))

	s.state.Store(int32(StateScanning))
	refs, err := s.Worker.Scan(ctx)
	if err != nil {
		return responder.CycleReport{}, fmt.Errorf("scan: %w", err)
	}
	if len(refs) == 0 {
		return responder.CycleReport{}, nil
	}

	s.state.Store(int32(StateReplying))
	return s.Worker.ReplyAll(ctx, refs), nil
}

// Run loops until ctx is canceled. The first cycle starts immediately. Cancellation is only
// observed between cycles, so an in-flight batch always completes.
func (s *Scheduler) Run(ctx context.Context) error {
	log := s.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	cycleCtx := context.WithoutCancel(ctx)
	for {
		report, err := s.RunOnce(cycleCtx)
		if err != nil {
			log.ErrorContext(ctx, "cycle failed", "error", err)
		} else {
			log.InfoContext(ctx, "cycle complete",
				"count", report.Candidates,
				"replied", report.Replied,
				"suppressed", report.Suppressed,
				"dry_run", report.DryRun,
				"failed", report.Failed,
				"partial_commits", report.PartialCommits,
			)
		}

		next := s.Interval.Next()
		log.DebugContext(ctx, "next cycle scheduled", "next_in", next)
		if err := s.sleep(ctx, next); err != nil {
			log.InfoContext(ctx, "scheduler stopped")
			return nil
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
