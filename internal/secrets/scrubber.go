package secrets

import (
	"sort"
	"strings"
)

// Scrubber detects and redacts secrets in text.
type Scrubber interface {
	// Scrub redacts secrets and reports what was found.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// Redact returns content with secrets replaced.
	Redact(content string) string

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

type scrubber struct {
	config *Config
}

type redaction struct {
	start, end int
}

// New creates a Scrubber. A nil cfg means DefaultConfig().
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &scrubber{config: cfg}, nil
}

// MustNew is New that panics on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) Scrub(content string) *Result {
	result := &Result{
		Original: content,
		Scrubbed: content,
		ByRule:   make(map[string]int),
	}
	if !s.config.Enabled || content == "" {
		return result
	}

	var redactions []redaction

	for _, rule := range s.config.compiledRules {
		if !rule.applies(content) {
			continue
		}

		for _, match := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.isAllowed(content[match[0]:match[1]]) {
				continue
			}

			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Severity:    rule.Severity,
				StartIndex:  match[0],
				EndIndex:    match[1],
				Line:        strings.Count(content[:match[0]], "\n") + 1,
			})
			result.ByRule[rule.ID]++
			redactions = append(redactions, redaction{start: match[0], end: match[1]})
		}
	}

	result.TotalFindings = len(result.Findings)
	if len(redactions) == 0 {
		return result
	}

	sort.Slice(redactions, func(i, j int) bool {
		return redactions[i].start < redactions[j].start
	})
	merged := mergeRedactions(redactions)

	// Left to right into a builder; merged spans are disjoint and ordered.
	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, r := range merged {
		b.WriteString(content[last:r.start])
		b.WriteString(s.config.RedactionString)
		last = r.end
	}
	b.WriteString(content[last:])
	result.Scrubbed = b.String()

	return result
}

func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = result.Original
	return result
}

func (s *scrubber) Redact(content string) string {
	return s.Scrub(content).Scrubbed
}

func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

// mergeRedactions merges overlapping or adjacent spans. Input must be
// sorted by start.
func mergeRedactions(redactions []redaction) []redaction {
	if len(redactions) == 0 {
		return redactions
	}

	merged := []redaction{redactions[0]}
	for _, curr := range redactions[1:] {
		last := &merged[len(merged)-1]
		if curr.start <= last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}
	return merged
}

// NoopScrubber returns content unchanged.
type NoopScrubber struct{}

func (NoopScrubber) Scrub(content string) *Result {
	return &Result{Original: content, Scrubbed: content, ByRule: map[string]int{}}
}

func (n NoopScrubber) Check(content string) *Result { return n.Scrub(content) }

func (NoopScrubber) Redact(content string) string { return content }

func (NoopScrubber) IsEnabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = NoopScrubber{}
)
