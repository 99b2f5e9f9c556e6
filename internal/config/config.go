// Package config loads goalsync configuration.
package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/goalsync/internal/statusmap"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the complete goalsync configuration.
type Config struct {
	JiraBaseURL     string `koanf:"jira_base_url"`
	JiraEmail       string `koanf:"jira_email"`
	JiraToken       Secret `koanf:"jira_token"`
	JiraStatusField string `koanf:"jira_status_field"`

	AsanaToken   Secret `koanf:"asana_token"`
	AsanaBaseURL string `koanf:"asana_base_url"`

	AsanaGoalGIDs      []string `koanf:"asana_goal_gids"`
	AsanaProjectGIDs   []string `koanf:"asana_project_gids"`
	AsanaTeamGIDs      []string `koanf:"asana_team_gids"`
	AsanaWorkspaceGIDs []string `koanf:"asana_workspace_gids"`

	// StatusMapping is the raw override object. Use StatusTable.
	StatusMapping map[string]any `koanf:"status_mapping"`

	DryRun                bool           `koanf:"dry_run"`
	CommentTriggersUpdate bool           `koanf:"comment_triggers_update"`
	RedactComments        bool           `koanf:"redact_comments"`
	Comments              CommentsConfig `koanf:"comments"`

	State    StateConfig `koanf:"state"`
	LockFile string      `koanf:"lock_file"`
	HTTP     HTTPConfig  `koanf:"http"`

	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Metrics   MetricsConfig   `koanf:"metrics"`

	// StatusTable is the default mapping merged with StatusMapping.
	// Populated by Load.
	StatusTable statusmap.Table `koanf:"-"`
}

// CommentsConfig shapes the comment block of an update.
type CommentsConfig struct {
	MaxPerUpdate int `koanf:"max_per_update"`
	MaxLength    int `koanf:"max_length"`
}

// StateConfig selects the state store.
type StateConfig struct {
	Driver string `koanf:"driver"` // sqlite, file or memory
	Path   string `koanf:"path"`
}

// HTTPConfig tunes the outbound API clients.
type HTTPConfig struct {
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
	RateLimit  float64  `koanf:"rate_limit"` // requests per second, per service
	Burst      int      `koanf:"burst"`
}

// LoggingConfig is the configurable subset of logging options.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Endpoint    string   `koanf:"endpoint"`
	Protocol    string   `koanf:"protocol"` // grpc or http/protobuf
	Insecure    bool     `koanf:"insecure"`
	ServiceName string   `koanf:"service_name"`
	SampleRate  float64  `koanf:"sample_rate"`
	Shutdown    Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the Prometheus Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `koanf:"pushgateway_url"`
	Job            string `koanf:"job"`
}

// ConfigError lists every missing or invalid setting.
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required parameters: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid parameters: "+strings.Join(e.Invalid, "; "))
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

func (e *ConfigError) empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

// Validate checks required keys and value ranges. It returns a
// *ConfigError describing every problem at once.
func (c *Config) Validate() error {
	cerr := &ConfigError{}

	if strings.TrimSpace(c.JiraBaseURL) == "" {
		cerr.Missing = append(cerr.Missing, "jira_base_url")
	}
	if strings.TrimSpace(c.JiraEmail) == "" {
		cerr.Missing = append(cerr.Missing, "jira_email")
	}
	if !c.JiraToken.IsSet() {
		cerr.Missing = append(cerr.Missing, "jira_token")
	}
	if !c.AsanaToken.IsSet() {
		cerr.Missing = append(cerr.Missing, "asana_token")
	}

	invalid := func(format string, args ...any) {
		cerr.Invalid = append(cerr.Invalid, fmt.Sprintf(format, args...))
	}

	if c.JiraBaseURL != "" {
		if u, err := url.Parse(c.JiraBaseURL); err != nil || u.Host == "" {
			invalid("jira_base_url %q is not a URL", c.JiraBaseURL)
		}
	}
	if u, err := url.Parse(c.AsanaBaseURL); err != nil || u.Host == "" {
		invalid("asana_base_url %q is not a URL", c.AsanaBaseURL)
	}

	switch c.State.Driver {
	case "sqlite", "file":
		if strings.TrimSpace(c.State.Path) == "" {
			cerr.Missing = append(cerr.Missing, "state.path")
		}
	case "memory":
	default:
		invalid("state.driver must be sqlite, file or memory, got %q", c.State.Driver)
	}

	if c.Comments.MaxPerUpdate <= 0 {
		invalid("comments.max_per_update must be positive")
	}
	if c.Comments.MaxLength <= 0 {
		invalid("comments.max_length must be positive")
	}
	if c.HTTP.Timeout.Duration() <= 0 {
		invalid("http.timeout must be positive")
	}
	if c.HTTP.MaxRetries < 0 {
		invalid("http.max_retries must not be negative")
	}
	if c.HTTP.RateLimit <= 0 {
		invalid("http.rate_limit must be positive")
	}
	if c.HTTP.Burst <= 0 {
		invalid("http.burst must be positive")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		invalid("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			cerr.Missing = append(cerr.Missing, "telemetry.endpoint")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			invalid("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			invalid("telemetry.sample_rate must be between 0 and 1")
		}
	}

	if c.Metrics.PushgatewayURL != "" {
		if u, err := url.Parse(c.Metrics.PushgatewayURL); err != nil || u.Host == "" {
			invalid("metrics.pushgateway_url %q is not a URL", c.Metrics.PushgatewayURL)
		}
	}

	if cerr.empty() {
		return nil
	}
	sort.Strings(cerr.Missing)
	return cerr
}

// NormalizeBaseURL adds an https scheme when none is given and drops
// trailing slashes.
func NormalizeBaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	return strings.TrimRight(s, "/")
}

// NormalizeIDs trims entries, drops empties and removes duplicates while
// keeping first-seen order. Comma-separated entries are split.
func NormalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, raw := range ids {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
