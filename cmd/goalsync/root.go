package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	run := newRunCmd(opts)

	cmd := &cobra.Command{
		Use:   "goalsync",
		Short: "Sync Jira ticket status to Asana goal status updates",
		Long: `goalsync finds the Jira tickets attached to tasks supporting Asana goals
and posts a status update to a goal whenever one of its tickets changed
status since the last run. New ticket comments are summarized in the update.

Without a subcommand goalsync performs a run.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          run.RunE,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("goalsync {{.Version}}\n")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", envOr("GOALSYNC_CONFIG", ""), "config file (yaml, json or toml); env GOALSYNC_CONFIG")
	pf.StringVar(&opts.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "", "override logging.format (json, console)")

	// The root command runs too, so it takes the run flags.
	cmd.Flags().AddFlagSet(run.Flags())

	cmd.AddCommand(
		run,
		newValidateCmd(opts),
		newCheckCmd(opts),
		newVersionCmd(opts),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
