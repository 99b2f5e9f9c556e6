package secrets

import "sort"

// Result is the outcome of scrubbing one text.
type Result struct {
	Original string `json:"-"`
	Scrubbed string `json:"scrubbed"`

	// Findings never include the matched value.
	Findings []Finding `json:"findings,omitempty"`

	TotalFindings int            `json:"total_findings"`
	ByRule        map[string]int `json:"by_rule,omitempty"`
}

// Finding locates one detected secret.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
	Line        int    `json:"line,omitempty"`
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// RuleIDs returns the matched rule IDs, sorted.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary returns a brief summary of findings.
func (r *Result) Summary() string {
	if !r.HasFindings() {
		return "no secrets detected"
	}
	for _, sev := range []string{"high", "medium", "low"} {
		for _, f := range r.Findings {
			if f.Severity == sev {
				return "secrets redacted (" + sev + " severity)"
			}
		}
	}
	return "secrets redacted"
}
