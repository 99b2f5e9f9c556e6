package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and scope without calling any API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.close()

			scope := scopeFromConfig(a.cfg)
			if err := syncer.ValidateScope(scope); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration OK")
			fmt.Fprintf(out, "  jira:  %s (status field %s)\n", a.cfg.JiraBaseURL, a.cfg.JiraStatusField)
			fmt.Fprintf(out, "  asana: %s\n", a.cfg.AsanaBaseURL)
			fmt.Fprintf(out, "  scope: %s\n", describeScope(scope))
			fmt.Fprintf(out, "  state: %s %s\n", a.cfg.State.Driver, a.cfg.State.Path)
			if a.cfg.DryRun {
				fmt.Fprintln(out, "  mode:  dry run")
			}
			return nil
		},
	}
}

func describeScope(s syncer.ScopeConfig) string {
	var parts []string
	add := func(label string, ids []string) {
		if len(ids) > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", len(ids), label))
		}
	}
	add("goal(s)", s.GoalIDs)
	add("project(s)", s.ProjectIDs)
	add("team(s)", s.TeamIDs)
	add("workspace(s)", s.WorkspaceIDs)
	return strings.Join(parts, ", ")
}
