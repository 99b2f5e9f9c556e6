// Package asana reads goals and their supporting tasks from the Asana REST
// API and posts goal status updates.
package asana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/goalsync/internal/apiclient"
	"github.com/fyrsmithlabs/goalsync/internal/logging"
	"github.com/fyrsmithlabs/goalsync/internal/statusmap"
	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

const (
	serviceName = "asana"

	// DefaultBaseURL is the public Asana API root.
	DefaultBaseURL  = "https://app.asana.com/api/1.0"
	defaultPageSize = 100

	goalFields       = "gid,name,status,workspace.gid,team.gid"
	relationFields   = "supporting_resource.gid,supporting_resource.name,supporting_resource.resource_type"
	attachmentFields = "name,view_url,permanent_url,download_url"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string

	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Retry     apiclient.RetryConfig
	PageSize  int

	// HTTPClient is the base client the bearer transport wraps.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client implements syncer.GoalLookup, syncer.TaskLookup and
// syncer.StatusPoster.
type Client struct {
	api      *apiclient.Client
	pageSize int
}

var (
	_ syncer.GoalLookup   = (*Client)(nil)
	_ syncer.TaskLookup   = (*Client)(nil)
	_ syncer.StatusPoster = (*Client)(nil)
)

// New creates a Client authenticating with a personal access token.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("asana: token is required")
	}

	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.Token,
		TokenType:   "Bearer",
	}))

	api, err := apiclient.New(apiclient.Config{
		Service:     serviceName,
		BaseURL:     base,
		Timeout:     cfg.Timeout,
		RateLimit:   cfg.RateLimit,
		Burst:       cfg.Burst,
		Retry:       cfg.Retry,
		HTTPClient:  httpClient,
		DecodeError: decodeError,
		UserAgent:   "goalsync",
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}
	return &Client{api: api, pageSize: pageSize}, nil
}

type ref struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

type goalJSON struct {
	GID       string `json:"gid"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Workspace *ref   `json:"workspace"`
	Team      *ref   `json:"team"`
}

func (g goalJSON) toGoal() syncer.Goal {
	goal := syncer.Goal{
		ID:     g.GID,
		Name:   g.Name,
		Status: goalCategory(g.Status),
	}
	if g.Workspace != nil {
		goal.WorkspaceID = g.Workspace.GID
	}
	if g.Team != nil {
		goal.TeamID = g.Team.GID
	}
	return goal
}

// goalCategory maps the goal's color or closed state; unset stays empty.
func goalCategory(status string) statusmap.Category {
	switch status {
	case "green", "on_track":
		return statusmap.OnTrack
	case "yellow", "at_risk":
		return statusmap.AtRisk
	case "red", "off_track", "missed", "dropped":
		return statusmap.OffTrack
	case "achieved", "partial", "complete":
		return statusmap.Complete
	}
	return ""
}

// statusType is the wire value for a goal status update. Closed goals use
// "achieved" rather than the project-only "complete".
func statusType(c statusmap.Category) string {
	if c == statusmap.Complete {
		return "achieved"
	}
	if c == "" {
		return string(statusmap.OnTrack)
	}
	return string(c)
}

type envelope[T any] struct {
	Data     T `json:"data"`
	NextPage *struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
}

// GetGoal reads one goal.
func (c *Client) GetGoal(ctx context.Context, id string) (syncer.Goal, error) {
	var resp envelope[goalJSON]
	if err := c.api.Get(ctx, "goals/"+url.PathEscape(id), url.Values{"opt_fields": {goalFields}}, &resp); err != nil {
		return syncer.Goal{}, err
	}
	goal := resp.Data.toGoal()
	if goal.ID == "" {
		goal.ID = id
	}
	return goal, nil
}

// ListGoals lists every goal in a project, team or workspace.
func (c *Client) ListGoals(ctx context.Context, sel syncer.Selector) ([]syncer.Goal, error) {
	switch sel.Kind {
	case syncer.SelectProject, syncer.SelectTeam, syncer.SelectWorkspace:
	default:
		return nil, fmt.Errorf("asana: unsupported selector kind %q", sel.Kind)
	}

	q := url.Values{
		string(sel.Kind): {sel.ID},
		"opt_fields":     {goalFields},
	}
	raw, err := list[goalJSON](ctx, c, "goals", q)
	if err != nil {
		return nil, err
	}

	goals := make([]syncer.Goal, 0, len(raw))
	for _, g := range raw {
		goal := g.toGoal()
		if sel.Kind == syncer.SelectProject {
			goal.ProjectID = sel.ID
		}
		goals = append(goals, goal)
	}
	return goals, nil
}

type relationshipJSON struct {
	SupportingResource struct {
		GID          string `json:"gid"`
		Name         string `json:"name"`
		ResourceType string `json:"resource_type"`
	} `json:"supporting_resource"`
}

// ListLinkedTasks returns the tasks supporting a goal. Supporting projects,
// portfolios and sub-goals are ignored.
func (c *Client) ListLinkedTasks(ctx context.Context, goalID string) ([]syncer.LinkedTask, error) {
	q := url.Values{
		"supported_goal": {goalID},
		"opt_fields":     {relationFields},
	}
	raw, err := list[relationshipJSON](ctx, c, "goal_relationships", q)
	if err != nil {
		return nil, err
	}

	var tasks []syncer.LinkedTask
	for _, rel := range raw {
		res := rel.SupportingResource
		if res.ResourceType != "task" || res.GID == "" {
			continue
		}
		tasks = append(tasks, syncer.LinkedTask{ID: res.GID, GoalID: goalID, Name: res.Name})
	}
	return tasks, nil
}

type attachmentJSON struct {
	Name         string `json:"name"`
	ViewURL      string `json:"view_url"`
	PermanentURL string `json:"permanent_url"`
	DownloadURL  string `json:"download_url"`
}

// ListAttachments returns a task's attachments and links.
func (c *Client) ListAttachments(ctx context.Context, taskID string) ([]syncer.Attachment, error) {
	raw, err := list[attachmentJSON](ctx, c, "tasks/"+url.PathEscape(taskID)+"/attachments",
		url.Values{"opt_fields": {attachmentFields}})
	if err != nil {
		return nil, err
	}

	out := make([]syncer.Attachment, 0, len(raw))
	for _, a := range raw {
		link := a.ViewURL
		if link == "" {
			link = a.PermanentURL
		}
		if link == "" {
			link = a.DownloadURL
		}
		out = append(out, syncer.Attachment{Name: a.Name, URL: link})
	}
	return out, nil
}

type statusUpdateRequest struct {
	Data struct {
		Parent     string `json:"parent"`
		Title      string `json:"title"`
		Text       string `json:"text"`
		StatusType string `json:"status_type"`
	} `json:"data"`
}

// CreateStatusUpdate posts one status update to a goal.
func (c *Client) CreateStatusUpdate(ctx context.Context, u syncer.StatusUpdate) (syncer.PostAck, error) {
	var req statusUpdateRequest
	req.Data.Parent = u.GoalID
	req.Data.Title = u.Title
	req.Data.Text = u.Text
	req.Data.StatusType = statusType(u.Category)

	var resp envelope[struct {
		GID       string    `json:"gid"`
		CreatedAt time.Time `json:"created_at"`
	}]
	if err := c.api.Post(ctx, "status_updates", req, &resp); err != nil {
		return syncer.PostAck{}, err
	}
	return syncer.PostAck{ID: resp.Data.GID, CreatedAt: resp.Data.CreatedAt}, nil
}

// Ping verifies the token and returns the authenticated user's name.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var resp envelope[ref]
	if err := c.api.Get(ctx, "users/me", url.Values{"opt_fields": {"name"}}, &resp); err != nil {
		return "", err
	}
	return resp.Data.Name, nil
}

// list follows next_page offsets until exhausted.
func list[T any](ctx context.Context, c *Client, path string, q url.Values) ([]T, error) {
	q.Set("limit", strconv.Itoa(c.pageSize))

	var out []T
	for {
		var page envelope[[]T]
		if err := c.api.Get(ctx, path, q, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		if page.NextPage == nil || page.NextPage.Offset == "" {
			return out, nil
		}
		q.Set("offset", page.NextPage.Offset)
	}
}

// decodeError reads {"errors":[{"message":"..."}]}.
func decodeError(body []byte) string {
	var e struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, m := range e.Errors {
		if m.Message != "" {
			msgs = append(msgs, m.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
