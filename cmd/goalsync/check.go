package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

type pinger interface {
	Ping(ctx context.Context) (string, error)
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration, then test the Jira and Asana credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.close()

			if err := syncer.ValidateScope(scopeFromConfig(a.cfg)); err != nil {
				return err
			}

			jiraClient, err := a.jiraClient(nil)
			if err != nil {
				return &usageError{err: err}
			}
			asanaClient, err := a.asanaClient(nil)
			if err != nil {
				return &usageError{err: err}
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Service", "Status", "Identity"})

			var failed []error
			for _, svc := range []struct {
				name string
				p    pinger
			}{
				{"jira", jiraClient},
				{"asana", asanaClient},
			} {
				who, err := svc.p.Ping(ctx)
				if err != nil {
					a.logger.Error(ctx, "connection check failed", zap.String("service", svc.name), zap.Error(err))
					tw.AppendRow(table.Row{svc.name, "FAILED", err.Error()})
					if errors.Is(err, syncer.ErrUnauthorized) {
						err = &syncer.AuthError{Service: svc.name, Err: err}
					}
					failed = append(failed, err)
					continue
				}
				tw.AppendRow(table.Row{svc.name, "OK", who})
			}
			tw.Render()

			if len(failed) > 0 {
				return fmt.Errorf("connection check failed: %w", errors.Join(failed...))
			}
			return nil
		},
	}
}
