package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/vacationd/internal/config"
	"github.com/joshsymonds/vacationd/internal/gmail"
	"github.com/joshsymonds/vacationd/internal/imapmail"
	"github.com/joshsymonds/vacationd/internal/rate"
	"github.com/joshsymonds/vacationd/internal/responder"
	"github.com/joshsymonds/vacationd/internal/runtime"
	"github.com/joshsymonds/vacationd/internal/schedule"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		runtime.DefaultLogger().Error("vacationd failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "vacationd",
		Short:         "Gmail vacation auto-responder",
		Long:          "Replies once to every unhandled inbox message, then labels and archives it.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, cfgFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultPath()+")")
	pf.String("label", "", "completion label applied to answered mail")
	pf.String("body", "", "reply body text")
	pf.Duration("min-interval", schedule.DefaultMinInterval, "minimum delay between cycles")
	pf.Duration("max-interval", schedule.DefaultMaxInterval, "maximum delay between cycles")
	pf.Int("page-size", 100, "messages examined per cycle (<=500)")
	pf.Int("rps", 4, "max mailbox requests per second (0 disables limiting)")
	pf.Bool("dry-run", false, "log replies without sending or labeling")
	pf.Bool("suppress-automated", false, "label automated mail without replying")
	pf.String("backend", config.BackendAPI, "mailbox backend: api or imap")
	pf.String("credentials", "", "OAuth client credentials.json (api backend)")
	pf.String("token-file", "", "store the OAuth token in this file instead of the OS keyring")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.String("imap-username", "", "Gmail address (imap backend)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Ensure the label and keep replying until interrupted",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runLoop(cmd, cfgFile)
			},
		},
		&cobra.Command{
			Use:   "once",
			Short: "Run a single cycle and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOnce(cmd, cfgFile)
			},
		},
		&cobra.Command{
			Use:   "label",
			Short: "Create or look up the completion label and print its id",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runLabel(cmd, cfgFile)
			},
		},
		newAuthCmd(&cfgFile),
	)
	return root
}

// app is everything a command needs after configuration and client setup.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	svc     *responder.Service
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func setup(cmd *cobra.Command, cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	log, err := runtime.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	client, from, err := newClient(cmd.Context(), cfg, a)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create mailbox client: %w", err)
	}
	client = runtime.NewBreakerClient(client, runtime.BreakerSettings{
		MaxFailures: cfg.Breaker.MaxFailures,
		Cooldown:    cfg.Breaker.Cooldown,
		Logger:      log,
	})

	limiter, stop := rate.New(cfg.RPS)
	a.closers = append(a.closers, stop)

	a.svc = responder.NewService(client, limiter, log, responder.Options{
		Label:             cfg.Label,
		Body:              cfg.Body,
		From:              from,
		PageSize:          cfg.PageSize,
		DryRun:            cfg.DryRun,
		SuppressAutomated: cfg.SuppressAutomated,
	})
	return a, nil
}

// newClient returns the configured backend and the From value replies should carry.
func newClient(ctx context.Context, cfg *config.Config, a *app) (gmail.Client, string, error) {
	switch cfg.Backend {
	case config.BackendIMAP:
		password := cfg.IMAP.Password
		if password == "" {
			pw, err := imapmail.LoadPassword(cfg.IMAP.Username)
			if err != nil {
				return nil, "", err
			}
			password = pw
		}
		c, err := imapmail.New(imapmail.Config{
			IMAPAddress: cfg.IMAP.Address,
			SMTPAddress: cfg.IMAP.SMTPAddress,
			Username:    cfg.IMAP.Username,
			Password:    password,
		})
		if err != nil {
			return nil, "", err
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		return c, cfg.IMAP.Username, nil
	default:
		store := runtime.NewTokenStore(cfg.TokenFile, "default")
		c, err := runtime.NewGmailClient(ctx, cfg.CredentialsFile, store)
		if errors.Is(err, runtime.ErrNoToken) {
			return nil, "", fmt.Errorf("%w: run `vacationd auth` first", err)
		}
		if err != nil {
			return nil, "", err
		}
		return c, "me", nil
	}
}

func prepare(ctx context.Context, a *app) error {
	id, err := a.svc.Prepare(ctx)
	if err != nil {
		return fmt.Errorf("ensure label %q: %w", a.cfg.Label, err)
	}
	a.log.Info("completion label ready", "label", a.cfg.Label, "label_id", id)
	return nil
}

func runLoop(cmd *cobra.Command, cfgFile string) error {
	a, err := setup(cmd, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := prepare(ctx, a); err != nil {
		return err
	}
	sched, err := schedule.New(a.svc, schedule.Interval{Min: a.cfg.MinInterval, Max: a.cfg.MaxInterval}, a.log)
	if err != nil {
		return err
	}
	a.log.Info("vacation responder started",
		"backend", a.cfg.Backend,
		"dry_run", a.cfg.DryRun,
		"min_interval", a.cfg.MinInterval.String(),
		"max_interval", a.cfg.MaxInterval.String(),
	)
	return sched.Run(ctx)
}

func runOnce(cmd *cobra.Command, cfgFile string) error {
	a, err := setup(cmd, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := prepare(ctx, a); err != nil {
		return err
	}
	sched, err := schedule.New(a.svc, schedule.Interval{Min: a.cfg.MinInterval, Max: a.cfg.MaxInterval}, a.log)
	if err != nil {
		return err
	}
	start := time.Now()
	report, err := sched.RunOnce(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}
	a.log.Info("cycle complete",
		"count", report.Candidates,
		"replied", report.Replied,
		"suppressed", report.Suppressed,
		"dry_run", report.DryRun,
		"failed", report.Failed,
		"partial_commits", report.PartialCommits,
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return nil
}

func runLabel(cmd *cobra.Command, cfgFile string) error {
	a, err := setup(cmd, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.svc.Prepare(cmd.Context())
	if err != nil {
		return fmt.Errorf("ensure label %q: %w", a.cfg.Label, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
