// Package main is the goalsync batch job: it mirrors Jira ticket status and
// new comments onto the Asana goals those tickets support.
//
// Usage:
//
//	goalsync --config /etc/goalsync/config.yaml run
//	GOALSYNC_DRY_RUN=true goalsync
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/goalsync/internal/config"
	"github.com/fyrsmithlabs/goalsync/internal/lock"
	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

// Set by -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes.
const (
	exitOK        = 0
	exitUserError = 1
	exitInternal  = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// execute runs the CLI and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitCode(err)
}

// usageError marks failures caused by how goalsync was invoked or
// configured.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cfgErr *config.ConfigError
	var useErr *usageError
	switch {
	case errors.Is(err, syncer.ErrInterrupted):
		// SIGINT/SIGTERM: the run did not complete.
		return exitInternal
	case errors.As(err, &cfgErr),
		errors.As(err, &useErr),
		syncer.IsFatal(err),
		errors.Is(err, lock.ErrLocked):
		return exitUserError
	}
	return exitInternal
}
