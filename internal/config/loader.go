// internal/config/loader.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/goalsync/internal/statusmap"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GOALSYNC_"
)

// secretAliases maps the "#"-prefixed names used by encrypted parameter
// stores to their plain keys.
var secretAliases = map[string]string{
	"#jira_token":  "jira_token",
	"#asana_token": "asana_token",
}

// Load reads configuration with this precedence, highest first:
//  1. Environment variables (GOALSYNC_JIRA_TOKEN, GOALSYNC_STATE__DRIVER)
//  2. The config file, if configPath is non-empty
//  3. Built-in defaults
//
// The file may be YAML, JSON or TOML, chosen by extension; anything
// unrecognized is parsed as YAML. A top-level
// "parameters" object is unwrapped, and "#jira_token"/"#asana_token" are
// accepted as aliases.
//
// Environment keys drop the prefix, are lowercased, and use a double
// underscore for nesting:
//
//	GOALSYNC_JIRA_BASE_URL -> jira_base_url
//	GOALSYNC_HTTP__MAX_RETRIES -> http.max_retries
//
// The file must not be readable by group or others, and may not exceed 1MB.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		fileK, err := loadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Merge(fileK); err != nil {
			return nil, fmt.Errorf("failed to merge config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	overrides, err := statusmap.ParseOverrides(cfg.StatusMapping)
	if err != nil {
		return nil, &ConfigError{Invalid: []string{err.Error()}}
	}
	cfg.StatusTable = statusmap.Default().With(overrides)

	return &cfg, nil
}

// loadFile reads and parses one config file into its own koanf instance.
func loadFile(path string) (*koanf.Koanf, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		parser = TOMLParser()
	case ".json":
		parser = JSONParser()
	default:
		parser = yaml.Parser()
	}

	fileK := koanf.New(".")
	if err := fileK.Load(rawbytes.Provider(content), parser); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if fileK.Exists("parameters") {
		fileK = fileK.Cut("parameters")
	}
	for alias, key := range secretAliases {
		if fileK.Exists(alias) && !fileK.Exists(key) {
			if err := fileK.Set(key, fileK.Get(alias)); err != nil {
				return nil, fmt.Errorf("failed to apply alias %s: %w", alias, err)
			}
		}
		fileK.Delete(alias)
	}
	return fileK, nil
}

// validateConfigFileProperties checks permissions and size on an already
// opened file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be accessible by group or others)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// envKey maps GOALSYNC_HTTP__MAX_RETRIES to http.max_retries.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// normalize canonicalizes values the Validate step depends on.
func normalize(cfg *Config) {
	cfg.JiraBaseURL = NormalizeBaseURL(cfg.JiraBaseURL)
	cfg.AsanaBaseURL = NormalizeBaseURL(cfg.AsanaBaseURL)
	cfg.JiraEmail = strings.TrimSpace(cfg.JiraEmail)
	cfg.JiraStatusField = strings.TrimSpace(cfg.JiraStatusField)
	if cfg.JiraStatusField == "" {
		cfg.JiraStatusField = "status"
	}

	cfg.AsanaGoalGIDs = NormalizeIDs(cfg.AsanaGoalGIDs)
	cfg.AsanaProjectGIDs = NormalizeIDs(cfg.AsanaProjectGIDs)
	cfg.AsanaTeamGIDs = NormalizeIDs(cfg.AsanaTeamGIDs)
	cfg.AsanaWorkspaceGIDs = NormalizeIDs(cfg.AsanaWorkspaceGIDs)

	cfg.State.Driver = strings.ToLower(strings.TrimSpace(cfg.State.Driver))
	if cfg.LockFile == "" && cfg.State.Path != "" && cfg.State.Driver != "memory" {
		cfg.LockFile = filepath.Join(filepath.Dir(cfg.State.Path), "goalsync.lock")
	}
}
