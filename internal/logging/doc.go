// Package logging provides structured logging for goalsync.
//
// Logger wraps Zap with context-aware methods that add the active trace
// and span IDs plus the run ID to every entry:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "status update posted", zap.String("goal.id", id))
//
// Output goes to stderr so stdout can carry the run summary. Entries can
// also be bridged to an OpenTelemetry log provider.
//
// # Secret Redaction
//
// Secrets are masked in three places: the config.Secret type, encoder
// key filtering (token, authorization, ...) and encoder value patterns
// (bearer and basic credentials, Atlassian API tokens).
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "ticket unchanged", zap.String("ticket.key", "ABC-1"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "ticket unchanged")
//	tl.AssertField(t, "ticket unchanged", "ticket.key", "ABC-1")
package logging
