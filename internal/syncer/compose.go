package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/goalsync/internal/statusmap"
)

const (
	defaultMaxComments      = 5
	defaultMaxCommentLength = 150
	noCommentsText          = "No new comments."
	commentTimeLayout       = "01/02 15:04"
)

// ComposerOptions tunes how update text is built.
type ComposerOptions struct {
	DryRun           bool
	MaxComments      int
	MaxCommentLength int
	Redactor         Redactor
}

// Composer turns a change decision into a status update and applies it.
// It never touches the state store.
type Composer struct {
	poster StatusPoster
	table  statusmap.Table
	opts   ComposerOptions
}

// NewComposer creates a Composer. Zero option values take defaults.
func NewComposer(poster StatusPoster, table statusmap.Table, opts ComposerOptions) *Composer {
	if opts.MaxComments <= 0 {
		opts.MaxComments = defaultMaxComments
	}
	if opts.MaxCommentLength <= 0 {
		opts.MaxCommentLength = defaultMaxCommentLength
	}
	if opts.Redactor == nil {
		opts.Redactor = NoRedaction
	}
	return &Composer{poster: poster, table: table, opts: opts}
}

// Compose returns Skipped for an unchanged decision. Otherwise it builds the
// record and, unless in dry-run mode, posts it exactly once.
func (c *Composer) Compose(ctx context.Context, goal Goal, ref Reference, dec Decision) (Outcome, *StatusUpdateRecord, error) {
	if !dec.Changed {
		return OutcomeSkipped, nil, nil
	}

	rec := c.Build(goal, ref, dec)
	if c.opts.DryRun {
		return OutcomeDryRun, &rec, nil
	}

	_, err := c.poster.CreateStatusUpdate(ctx, StatusUpdate{
		GoalID:   rec.GoalID,
		Title:    rec.Title,
		Text:     rec.Text,
		Category: rec.Category,
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return OutcomeFailed, &rec, asAuthError(serviceAsana, err)
		}
		return OutcomeFailed, &rec, &PostError{GoalID: goal.ID, TicketKey: ref.Ticket.Key, Err: err}
	}
	return OutcomePosted, &rec, nil
}

// Build assembles the record for a changed decision without side effects.
func (c *Composer) Build(goal Goal, ref Reference, dec Decision) StatusUpdateRecord {
	mapped, category := c.table.Map(dec.Snapshot.Status)
	block := c.commentBlock(dec.NewComments)

	var text strings.Builder
	text.WriteString(ticketLink(ref.Ticket.Key, dec.Snapshot.URL))
	fmt.Fprintf(&text, " (%s - %s)\n", mapped, ref.Task.Name)
	fmt.Fprintf(&text, "Tracker status: %s\n", dec.Snapshot.Status)
	text.WriteString("New comments:\n")
	text.WriteString(block)

	return StatusUpdateRecord{
		GoalID:       goal.ID,
		TicketKey:    ref.Ticket.Key,
		TaskName:     ref.Task.Name,
		Title:        ref.Ticket.Key + ": " + mapped,
		Status:       mapped,
		Category:     category,
		CommentBlock: block,
		Text:         text.String(),
		Comments:     dec.NewComments,
		DryRun:       c.opts.DryRun,
	}
}

// commentBlock renders the newest comments first, capped and truncated.
// comments must be oldest first.
func (c *Composer) commentBlock(comments []Comment) string {
	if len(comments) == 0 {
		return "    " + noCommentsText
	}

	lines := make([]string, 0, c.opts.MaxComments)
	for i := len(comments) - 1; i >= 0 && len(lines) < c.opts.MaxComments; i-- {
		cm := comments[i]
		body := c.opts.Redactor.Redact(flatten(cm.Body))
		author := cm.Author
		if author == "" {
			author = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("    %s (%s UTC): %s",
			author, cm.Created.UTC().Format(commentTimeLayout), truncate(body, c.opts.MaxCommentLength)))
	}
	return strings.Join(lines, "\n")
}

func ticketLink(key, url string) string {
	if url == "" {
		return key
	}
	return "[" + key + "](" + url + ")"
}

// flatten collapses runs of whitespace, including newlines, to single spaces.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
