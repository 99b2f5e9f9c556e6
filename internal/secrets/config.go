package secrets

import (
	"fmt"
	"regexp"
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active.
	Enabled bool

	// Rules are the detection rules, applied in order.
	Rules []Rule

	// RedactionString replaces each detected secret. Defaults to "[REDACTED]".
	RedactionString string

	// AllowList holds patterns; a match that also matches one of these is kept.
	AllowList []string

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule defines a secret detection rule.
type Rule struct {
	ID          string
	Description string
	Pattern     string

	// Keywords, when set, gate the rule: at least one must appear
	// (case-insensitively) in the text before Pattern is tried.
	Keywords []string

	// Severity is high, medium or low.
	Severity string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig returns an enabled configuration with DefaultRules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

// Validate compiles rules and the allow list.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.RedactionString == "" {
		c.RedactionString = "[REDACTED]"
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}

		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}

		compiled := &compiledRule{
			Rule:     rule,
			pattern:  pattern,
			keywords: make([]*regexp.Regexp, 0, len(rule.Keywords)),
		}
		for _, kw := range rule.Keywords {
			compiled.keywords = append(compiled.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		c.compiledRules = append(c.compiledRules, compiled)
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, compiled)
	}

	return nil
}
