// Package report renders run results for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

// WriteSummary renders the per-outcome totals, then one row per item and
// any goal or selector failures.
func WriteSummary(w io.Writer, s *syncer.RunSummary) {
	mode := "live"
	if s.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "Run %s (%s) finished in %s\n", s.RunID, mode, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))

	totals := table.NewWriter()
	totals.SetOutputMirror(w)
	totals.AppendHeader(table.Row{"Goals", "Posted", "Dry run", "Skipped", "Failed", "Goal failures", "State errors"})
	totals.AppendRow(table.Row{
		s.GoalsResolved,
		s.Count(syncer.OutcomePosted),
		s.Count(syncer.OutcomeDryRun),
		s.Count(syncer.OutcomeSkipped),
		s.Count(syncer.OutcomeFailed),
		len(s.GoalFailures),
		s.StateErrors,
	})
	totals.Render()

	if len(s.Items) > 0 {
		items := table.NewWriter()
		items.SetOutputMirror(w)
		items.AppendHeader(table.Row{"Goal", "Task", "Ticket", "Stage", "Outcome", "Detail"})
		for _, it := range s.Items {
			items.AppendRow(table.Row{goalLabel(it), it.TaskID, it.TicketKey, it.Stage, it.Outcome, detail(it)})
		}
		items.Render()
	}

	if len(s.GoalFailures) > 0 || len(s.SelectorFails) > 0 {
		fails := table.NewWriter()
		fails.SetOutputMirror(w)
		fails.AppendHeader(table.Row{"Scope", "Error"})
		for _, f := range s.SelectorFails {
			fails.AppendRow(table.Row{string(f.Selector.Kind) + " " + f.Selector.ID, f.Err})
		}
		for _, f := range s.GoalFailures {
			fails.AppendRow(table.Row{"goal " + f.GoalID, f.Err})
		}
		fails.Render()
	}
}

// WriteDryRun lists the updates a dry run would have posted, each followed
// by its full text.
func WriteDryRun(w io.Writer, records []syncer.StatusUpdateRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No status updates would be posted.")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Goal", "Ticket", "Title", "Category", "New comments"})
	for _, r := range records {
		tw.AppendRow(table.Row{r.GoalID, r.TicketKey, r.Title, r.Category, len(r.Comments)})
	}
	tw.Render()

	for _, r := range records {
		fmt.Fprintf(w, "\n--- goal %s / %s ---\n%s\n", r.GoalID, r.TicketKey, r.Text)
	}
}

func goalLabel(it syncer.ItemResult) string {
	if it.GoalName == "" {
		return it.GoalID
	}
	return it.GoalName + " (" + it.GoalID + ")"
}

func detail(it syncer.ItemResult) string {
	switch {
	case it.Err != nil:
		return it.Err.Error()
	case it.Reason != "":
		return it.Reason
	case it.Record != nil:
		return it.Record.Title
	}
	return ""
}

type jsonItem struct {
	GoalID    string         `json:"goal_id"`
	GoalName  string         `json:"goal_name,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	TicketKey string         `json:"ticket_key,omitempty"`
	Stage     syncer.Stage   `json:"stage"`
	Outcome   syncer.Outcome `json:"outcome"`
	Reason    string         `json:"reason,omitempty"`
	Error     string         `json:"error,omitempty"`
	Title     string         `json:"title,omitempty"`
	Text      string         `json:"text,omitempty"`
}

type jsonFailure struct {
	Scope string `json:"scope"`
	Error string `json:"error"`
}

type jsonSummary struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	DryRun        bool           `json:"dry_run"`
	GoalsResolved int            `json:"goals_resolved"`
	Counts        map[string]int `json:"counts"`
	StateErrors   int            `json:"state_errors"`
	Failures      []jsonFailure  `json:"failures,omitempty"`
	Items         []jsonItem     `json:"items"`
}

// WriteJSON renders the summary as one indented JSON document.
func WriteJSON(w io.Writer, s *syncer.RunSummary) error {
	out := jsonSummary{
		RunID:         s.RunID,
		StartedAt:     s.StartedAt.UTC(),
		FinishedAt:    s.FinishedAt.UTC(),
		DryRun:        s.DryRun,
		GoalsResolved: s.GoalsResolved,
		Counts:        map[string]int{},
		StateErrors:   s.StateErrors,
		Items:         make([]jsonItem, 0, len(s.Items)),
	}
	for _, o := range []syncer.Outcome{syncer.OutcomePosted, syncer.OutcomeDryRun, syncer.OutcomeSkipped, syncer.OutcomeFailed} {
		out.Counts[string(o)] = s.Count(o)
	}
	for _, f := range s.SelectorFails {
		out.Failures = append(out.Failures, jsonFailure{Scope: string(f.Selector.Kind) + " " + f.Selector.ID, Error: f.Err.Error()})
	}
	for _, f := range s.GoalFailures {
		out.Failures = append(out.Failures, jsonFailure{Scope: "goal " + f.GoalID, Error: f.Err.Error()})
	}
	for _, it := range s.Items {
		ji := jsonItem{
			GoalID:    it.GoalID,
			GoalName:  it.GoalName,
			TaskID:    it.TaskID,
			TicketKey: it.TicketKey,
			Stage:     it.Stage,
			Outcome:   it.Outcome,
			Reason:    it.Reason,
		}
		if it.Err != nil {
			ji.Error = it.Err.Error()
		}
		if it.Record != nil {
			ji.Title = it.Record.Title
			ji.Text = it.Record.Text
		}
		out.Items = append(out.Items, ji)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
