package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/goalsync/internal/lock"
	"github.com/fyrsmithlabs/goalsync/internal/metrics"
	"github.com/fyrsmithlabs/goalsync/internal/report"
	"github.com/fyrsmithlabs/goalsync/internal/state"
	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

const (
	outputText = "text"
	outputJSON = "json"
)

type runOptions struct {
	dryRun bool
	output string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one synchronization pass",
		Long: `Resolve the configured goals, find ticket references on their supporting
tasks, and post a status update for every ticket whose status changed since
the last run. With --dry-run the updates are printed instead of posted and
no state is written.

Per-item failures are reported in the summary and do not fail the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != outputText && opts.output != outputJSON {
				return &usageError{err: fmt.Errorf("--output must be %q or %q", outputText, outputJSON)}
			}
			a, err := loadApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.close()

			if cmd.Flags().Changed("dry-run") {
				a.cfg.DryRun = opts.dryRun
			}
			return runSync(cmd.Context(), a, root, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "build updates without posting them (overrides dry_run)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", outputText, "summary format: text or json")
	return cmd
}

func runSync(ctx context.Context, a *app, root *rootOptions, opts *runOptions) error {
	cfg := a.cfg
	logger := a.logger

	if err := syncer.ValidateScope(scopeFromConfig(cfg)); err != nil {
		return err
	}

	if cfg.LockFile != "" {
		fl := lock.New(cfg.LockFile)
		if err := fl.TryLock(); err != nil {
			if errors.Is(err, lock.ErrLocked) {
				return fmt.Errorf("another goalsync run is active: %w", err)
			}
			return err
		}
		defer func() {
			if err := fl.Unlock(); err != nil {
				logger.Warn(ctx, "failed to release run lock", zap.String("path", fl.Path()), zap.Error(err))
			}
		}()
	}

	store, err := state.New(cfg.State.Driver, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	jiraClient, err := a.jiraClient(nil)
	if err != nil {
		return &usageError{err: err}
	}
	asanaClient, err := a.asanaClient(nil)
	if err != nil {
		return &usageError{err: err}
	}
	redactor, err := a.redactor()
	if err != nil {
		return err
	}

	orch, err := syncer.New(syncer.Deps{
		Goals:   asanaClient,
		Tasks:   asanaClient,
		Tickets: jiraClient,
		Poster:  asanaClient,
		Store:   store,
	}, syncer.Options{
		DryRun:           cfg.DryRun,
		CommentsTrigger:  cfg.CommentTriggersUpdate,
		MaxComments:      cfg.Comments.MaxPerUpdate,
		MaxCommentLength: cfg.Comments.MaxLength,
		StatusTable:      cfg.StatusTable,
		Redactor:         redactor,
		Logger:           logger.Named("syncer"),
		Tracer:           a.telemetry.Tracer(instrumentationName),
		Meter:            a.telemetry.Meter(instrumentationName),
	})
	if err != nil {
		return err
	}

	summary, runErr := orch.Run(ctx, scopeFromConfig(cfg))
	pushMetrics(ctx, a, summary, runErr)

	// An interrupted run is terminating; its partial summary is not a report.
	if summary != nil && !errors.Is(runErr, syncer.ErrInterrupted) &&
		(runErr == nil || summary.GoalsResolved > 0) {
		if werr := writeSummary(root, opts, summary); werr != nil {
			logger.Warn(ctx, "failed to write run summary", zap.Error(werr))
		}
	}
	return runErr
}

func writeSummary(root *rootOptions, opts *runOptions, s *syncer.RunSummary) error {
	out := root.stdout
	if out == nil {
		out = os.Stdout
	}
	if opts.output == outputJSON {
		return report.WriteJSON(out, s)
	}
	report.WriteSummary(out, s)
	if s.DryRun {
		fmt.Fprintln(out)
		report.WriteDryRun(out, s.Records())
	}
	return nil
}

// pushMetrics sends the run gauges when a Pushgateway is configured. A
// failed push never fails the run.
func pushMetrics(ctx context.Context, a *app, summary *syncer.RunSummary, runErr error) {
	if a.cfg.Metrics.PushgatewayURL == "" {
		return
	}
	rec := metrics.New()
	rec.Observe(summary, runErr)

	pusher := metrics.NewPusher(a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job)
	if summary != nil && summary.DryRun {
		pusher.Grouping("mode", "dry_run")
	}
	if err := pusher.Push(ctx, rec); err != nil {
		a.logger.Warn(ctx, "metrics push failed", zap.Error(err))
		return
	}
	a.logger.Debug(ctx, "metrics pushed", zap.String("url", a.cfg.Metrics.PushgatewayURL))
}
