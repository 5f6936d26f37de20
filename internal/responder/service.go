package responder

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joshsymonds/vacationd/internal/gmail"
	"github.com/joshsymonds/vacationd/internal/rate"
)

// Options configures a Service.
type Options struct {
	Label             string
	Body              string
	From              string
	PageSize          int
	DryRun            bool
	SuppressAutomated bool
}

// Service wires the label manager, scanner, composer and dispatcher over one client.
type Service struct {
	Labels     *LabelManager
	Scanner    *Scanner
	Composer   *Composer
	Dispatcher *Dispatcher
	Logger     *slog.Logger

	label   string
	labelID gmail.LabelID
}

// NewService constructs a Service with sane defaults.
func NewService(client gmail.Client, limiter rate.Limiter, log *slog.Logger, opts Options) *Service {
	log = logger(log)
	composer := NewComposer(client, limiter, opts.From, opts.Body)
	composer.SuppressAutomated = opts.SuppressAutomated
	return &Service{
		Labels:     &LabelManager{Client: client, Limiter: limiter, Logger: log},
		Scanner:    NewScanner(client, limiter, opts.PageSize),
		Composer:   composer,
		Dispatcher: &Dispatcher{Client: client, Limiter: limiter, Logger: log, DryRun: opts.DryRun},
		Logger:     log,
		label:      opts.Label,
	}
}

// Prepare ensures the completion label and remembers its id. It must succeed before Scan or
// Reply are used; failures are setup errors.
func (s *Service) Prepare(ctx context.Context) (gmail.LabelID, error) {
	id, err := s.Labels.EnsureLabel(ctx, s.label)
	if err != nil {
		return "", err
	}
	s.labelID = id
	return id, nil
}

// LabelID returns the id resolved by Prepare.
func (s *Service) LabelID() gmail.LabelID { return s.labelID }

// Scan returns the current candidates.
func (s *Service) Scan(ctx context.Context) ([]gmail.MessageRef, error) {
	return s.Scanner.FindCandidates(ctx)
}

// Reply composes and dispatches a reply for a single candidate.
func (s *Service) Reply(ctx context.Context, ref gmail.MessageRef) (Outcome, error) {
	if s.labelID == "" {
		return 0, errors.New("completion label not prepared")
	}
	draft, err := s.Composer.Compose(ctx, ref)
	if err != nil {
		return 0, err
	}
	return s.Dispatcher.Dispatch(ctx, draft, s.labelID)
}

// CycleReport summarizes one pass over a batch of candidates.
type CycleReport struct {
	Candidates     int
	Replied        int
	Suppressed     int
	DryRun         int
	Failed         int
	PartialCommits int
}

// ReplyAll processes refs in order. A failure on one message is logged and counted; the rest of
// the batch still runs.
func (s *Service) ReplyAll(ctx context.Context, refs []gmail.MessageRef) CycleReport {
	log := logger(s.Logger)
	report := CycleReport{Candidates: len(refs)}
	for _, ref := range refs {
		outcome, err := s.Reply(ctx, ref)
		switch {
		case IsPartialCommit(err):
			report.PartialCommits++
			log.WarnContext(ctx, "reply sent but message not labeled", "message_id", ref.ID, "error", err)
			continue
		case errors.Is(err, ErrMalformedHeader):
			report.Failed++
			log.WarnContext(ctx, "skipping message with malformed headers", "message_id", ref.ID, "error", err)
			continue
		case err != nil:
			report.Failed++
			log.ErrorContext(ctx, "reply failed", "message_id", ref.ID, "error", err)
			continue
		}
		switch outcome {
		case OutcomeReplied:
			report.Replied++
			log.InfoContext(ctx, "replied", "message_id", ref.ID, "label_id", s.labelID)
		case OutcomeSuppressed:
			report.Suppressed++
			log.InfoContext(ctx, "labeled automated message without reply", "message_id", ref.ID)
		case OutcomeDryRun:
			report.DryRun++
		}
	}
	return report
}
