package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/goalsync/internal/apiclient"
	"github.com/fyrsmithlabs/goalsync/internal/asana"
	"github.com/fyrsmithlabs/goalsync/internal/config"
	"github.com/fyrsmithlabs/goalsync/internal/jira"
	"github.com/fyrsmithlabs/goalsync/internal/logging"
	"github.com/fyrsmithlabs/goalsync/internal/secrets"
	"github.com/fyrsmithlabs/goalsync/internal/syncer"
	"github.com/fyrsmithlabs/goalsync/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/goalsync"

// app is the process-wide state built from configuration.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

// loadApp reads configuration and starts logging and telemetry. Callers
// must call close.
func loadApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, &usageError{err: err}
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, &usageError{err: err}
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.OTEL = cfg.Logging.OTEL && cfg.Telemetry.Enabled
	logger, err := logging.NewLoggerTo(opts.stderr, logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, &usageError{err: fmt.Errorf("logging: %w", err)}
	}

	for _, reason := range tel.Health().Reasons {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", reason))
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

// close flushes telemetry and logs. It uses a fresh context so a cancelled
// run still exports its spans.
func (a *app) close() {
	ctx := context.Background()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	tc.Endpoint = cfg.Telemetry.Endpoint
	tc.Protocol = cfg.Telemetry.Protocol
	tc.Insecure = cfg.Telemetry.Insecure
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	tc.SampleRate = cfg.Telemetry.SampleRate
	if d := cfg.Telemetry.Shutdown.Duration(); d > 0 {
		tc.Shutdown.Timeout = d
	}
	return tc
}

func scopeFromConfig(cfg *config.Config) syncer.ScopeConfig {
	return syncer.ScopeConfig{
		GoalIDs:      cfg.AsanaGoalGIDs,
		ProjectIDs:   cfg.AsanaProjectGIDs,
		TeamIDs:      cfg.AsanaTeamGIDs,
		WorkspaceIDs: cfg.AsanaWorkspaceGIDs,
	}
}

func retryConfig(cfg *config.Config) apiclient.RetryConfig {
	r := apiclient.DefaultRetryConfig()
	r.MaxRetries = cfg.HTTP.MaxRetries
	return r
}

func (a *app) jiraClient(httpClient *http.Client) (*jira.Client, error) {
	return jira.New(jira.Config{
		BaseURL:     a.cfg.JiraBaseURL,
		Email:       a.cfg.JiraEmail,
		Token:       a.cfg.JiraToken.Value(),
		StatusField: a.cfg.JiraStatusField,
		Timeout:     a.cfg.HTTP.Timeout.Duration(),
		RateLimit:   a.cfg.HTTP.RateLimit,
		Burst:       a.cfg.HTTP.Burst,
		Retry:       retryConfig(a.cfg),
		HTTPClient:  httpClient,
		Logger:      a.logger.Named("jira"),
	})
}

func (a *app) asanaClient(httpClient *http.Client) (*asana.Client, error) {
	return asana.New(asana.Config{
		BaseURL:    a.cfg.AsanaBaseURL,
		Token:      a.cfg.AsanaToken.Value(),
		Timeout:    a.cfg.HTTP.Timeout.Duration(),
		RateLimit:  a.cfg.HTTP.RateLimit,
		Burst:      a.cfg.HTTP.Burst,
		Retry:      retryConfig(a.cfg),
		HTTPClient: httpClient,
		Logger:     a.logger.Named("asana"),
	})
}

// redactor scrubs credentials from comment text when redact_comments is on.
func (a *app) redactor() (syncer.Redactor, error) {
	if !a.cfg.RedactComments {
		return syncer.NoRedaction, nil
	}
	scrubber, err := secrets.New(secrets.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("secret scrubber: %w", err)
	}
	return syncer.RedactorFunc(scrubber.Redact), nil
}
