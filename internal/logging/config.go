// internal/logging/config.go
package logging

import (
	"fmt"
	"regexp"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug for wire-level request logging.
const TraceLevel = zapcore.Level(-2)

// Config holds logging configuration.
type Config struct {
	Level      string            `koanf:"level"`
	Format     string            `koanf:"format"`
	OTEL       bool              `koanf:"otel"`
	Caller     bool              `koanf:"caller"`
	Stacktrace string            `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"`
	Redaction  RedactionConfig   `koanf:"redaction"`
}

// RedactionConfig controls encoder-level masking.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// NewDefaultConfig returns the defaults used by goalsync.
func NewDefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "json",
		Caller:     false,
		Stacktrace: "fatal",
		Fields: map[string]string{
			"service": "goalsync",
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"token", "jira_token", "asana_token", "password", "secret",
				"authorization", "credential",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)basic\s+[A-Za-z0-9+/=]{8,}`,
				`ATATT[A-Za-z0-9_\-=]{20,}`,
			},
		},
	}
}

// LevelFromString parses a level name, including "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if _, err := LevelFromString(c.Level); err != nil {
		return fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	if c.Stacktrace != "" {
		if _, err := LevelFromString(c.Stacktrace); err != nil {
			return fmt.Errorf("invalid stacktrace level %q: %w", c.Stacktrace, err)
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > 200 {
				return fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant field %q must have a non-empty key and value", k)
		}
	}
	return nil
}
