package syncer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/goalsync/internal/logging"
)

// ticketKeyPattern matches tracker keys such as ABC-123 or OPS2-7 anywhere
// in a name or URL, including inside file names (ABC-123_screenshot.png,
// notesABC-123.txt). The key is capture group 1; the optional prefix only
// keeps a key from starting mid-run of capitals or digits.
var ticketKeyPattern = regexp.MustCompile(`(?:^|[^A-Z0-9])([A-Z][A-Z0-9]+-[0-9]+)`)

// TicketKeys returns the distinct keys referenced by attachments, in
// attachment order. Within one attachment the name is scanned before the URL.
func TicketKeys(attachments []Attachment) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, a := range attachments {
		for _, field := range []string{a.Name, a.URL} {
			for _, m := range ticketKeyPattern.FindAllStringSubmatch(field, -1) {
				k := m[1]
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
		}
	}
	return keys
}

// Extractor discovers ticket references on the tasks linked to a goal.
type Extractor struct {
	tasks  TaskLookup
	logger *logging.Logger
}

// NewExtractor creates an Extractor. A nil logger discards output.
func NewExtractor(tasks TaskLookup, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Extractor{tasks: tasks, logger: logger}
}

// Extract lists the goal's tasks and returns a lazy sequence of references.
//
// Attachments are fetched per task as the sequence is consumed. Tasks with
// no ticket key are left out. When a task names several keys the first one
// wins and the rest are logged. An attachment lookup failure is yielded as
// an error for that task alone.
func (x *Extractor) Extract(ctx context.Context, goal Goal) (iter.Seq2[Reference, error], error) {
	tasks, err := x.tasks.ListLinkedTasks(ctx, goal.ID)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, asAuthError(serviceAsana, err)
		}
		return nil, fmt.Errorf("list tasks for goal %s: %w", goal.ID, err)
	}

	return func(yield func(Reference, error) bool) {
		for _, task := range tasks {
			if task.GoalID == "" {
				task.GoalID = goal.ID
			}

			atts, err := x.tasks.ListAttachments(ctx, task.ID)
			if err != nil {
				err = asAuthError(serviceAsana, err)
				if !yield(Reference{Task: task}, fmt.Errorf("list attachments for task %s: %w", task.ID, err)) {
					return
				}
				continue
			}
			task.Attachments = atts

			keys := TicketKeys(atts)
			switch {
			case len(keys) == 0:
				x.logger.Debug(ctx, "task has no ticket reference",
					zap.String("goal.id", goal.ID),
					zap.String("task.id", task.ID),
				)
				continue
			case len(keys) > 1:
				x.logger.Info(ctx, "task references multiple tickets, using first",
					zap.String("goal.id", goal.ID),
					zap.String("task.id", task.ID),
					zap.String("ticket.key", keys[0]),
					zap.Strings("ignored", keys[1:]),
				)
			}

			if !yield(Reference{Task: task, Ticket: TicketReference{Key: keys[0]}}, nil) {
				return
			}
		}
	}, nil
}
