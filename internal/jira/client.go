// Package jira reads tickets and comment threads from the Jira Cloud REST
// API (v3).
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/goalsync/internal/apiclient"
	"github.com/fyrsmithlabs/goalsync/internal/logging"
	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

const (
	serviceName     = "jira"
	defaultPageSize = 100

	// Jira renders offsets without a colon, which RFC 3339 rejects.
	jiraTimeLayout = "2006-01-02T15:04:05.000-0700"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Email   string
	Token   string

	// StatusField is "status" or a custom field ID such as
	// "customfield_10406" holding a select value.
	StatusField string

	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Retry     apiclient.RetryConfig
	PageSize  int

	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client implements syncer.TicketFetcher.
type Client struct {
	api         *apiclient.Client
	baseURL     string
	statusField string
	pageSize    int
	logger      *logging.Logger
}

var _ syncer.TicketFetcher = (*Client)(nil)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Email == "" || cfg.Token == "" {
		return nil, fmt.Errorf("jira: email and token are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	email, token := cfg.Email, cfg.Token
	api, err := apiclient.New(apiclient.Config{
		Service:     serviceName,
		BaseURL:     normalizeBaseURL(cfg.BaseURL),
		Timeout:     cfg.Timeout,
		RateLimit:   cfg.RateLimit,
		Burst:       cfg.Burst,
		Retry:       cfg.Retry,
		HTTPClient:  cfg.HTTPClient,
		Authorize:   func(r *http.Request) { r.SetBasicAuth(email, token) },
		DecodeError: decodeError,
		UserAgent:   "goalsync",
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	field := strings.TrimSpace(cfg.StatusField)
	if field == "" {
		field = "status"
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Client{
		api:         api,
		baseURL:     api.BaseURL(),
		statusField: field,
		pageSize:    pageSize,
		logger:      logger,
	}, nil
}

// BrowseURL returns the human-facing link for a ticket.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + url.PathEscape(key)
}

type issueResponse struct {
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// GetTicket reads the configured status field of one ticket. Comments are
// fetched separately with GetComments.
func (c *Client) GetTicket(ctx context.Context, key string) (syncer.TicketSnapshot, error) {
	var issue issueResponse
	path := "rest/api/3/issue/" + url.PathEscape(key)
	if err := c.api.Get(ctx, path, url.Values{"fields": {c.statusField}}, &issue); err != nil {
		return syncer.TicketSnapshot{}, err
	}

	raw, ok := issue.Fields[c.statusField]
	if !ok {
		c.logger.Warn(ctx, "ticket has no status field",
			zap.String("ticket.key", key), zap.String("field", c.statusField))
	}

	canonical := issue.Key
	if canonical == "" {
		canonical = key
	}
	return syncer.TicketSnapshot{
		Key:    canonical,
		Status: fieldText(raw),
		URL:    c.BrowseURL(canonical),
	}, nil
}

// fieldText reads a status-like field: an object with "name" (status) or
// "value" (select option), or a bare string.
func fieldText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if obj.Name != "" {
		return obj.Name
	}
	return obj.Value
}

type commentPage struct {
	StartAt    int           `json:"startAt"`
	MaxResults int           `json:"maxResults"`
	Total      int           `json:"total"`
	Comments   []commentJSON `json:"comments"`
}

type commentJSON struct {
	ID     string `json:"id"`
	Author struct {
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	} `json:"author"`
	Body    json.RawMessage `json:"body"`
	Created string          `json:"created"`
}

// GetComments pages through the ticket's comments, oldest first, and drops
// those already covered by since.
func (c *Client) GetComments(ctx context.Context, key string, since *syncer.CommentMarker) ([]syncer.Comment, error) {
	path := "rest/api/3/issue/" + url.PathEscape(key) + "/comment"

	var out []syncer.Comment
	for startAt := 0; ; {
		var page commentPage
		q := url.Values{
			"orderBy":    {"created"},
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(c.pageSize)},
		}
		if err := c.api.Get(ctx, path, q, &page); err != nil {
			return nil, err
		}

		for _, raw := range page.Comments {
			cm, err := toComment(raw)
			if err != nil {
				c.logger.Warn(ctx, "skipping comment with unreadable timestamp",
					zap.String("ticket.key", key), zap.String("comment.id", raw.ID), zap.Error(err))
				continue
			}
			if since != nil && since.Covers(cm) {
				continue
			}
			out = append(out, cm)
		}

		startAt += len(page.Comments)
		if len(page.Comments) == 0 || startAt >= page.Total {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

func toComment(raw commentJSON) (syncer.Comment, error) {
	created, err := parseTime(raw.Created)
	if err != nil {
		return syncer.Comment{}, err
	}
	author := raw.Author.DisplayName
	if author == "" {
		author = raw.Author.EmailAddress
	}
	if author == "" {
		author = "Unknown"
	}
	return syncer.Comment{
		ID:      raw.ID,
		Author:  author,
		Created: created,
		Body:    bodyText(raw.Body),
	}, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{jiraTimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// Ping verifies the credentials and returns the authenticated user's name.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var me struct {
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	}
	if err := c.api.Get(ctx, "rest/api/3/myself", nil, &me); err != nil {
		return "", err
	}
	if me.DisplayName != "" {
		return me.DisplayName, nil
	}
	return me.EmailAddress, nil
}

// decodeError reads {"errorMessages":[...],"errors":{field:msg}}.
func decodeError(body []byte) string {
	var e struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	msgs := append([]string(nil), e.ErrorMessages...)
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msgs = append(msgs, k+": "+e.Errors[k])
	}
	return strings.Join(msgs, "; ")
}

func normalizeBaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s != "" && !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	return strings.TrimRight(s, "/")
}
