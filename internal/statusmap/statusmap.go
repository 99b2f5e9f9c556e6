// Package statusmap translates tracker status names into goal status text
// and a coarse category.
package statusmap

import (
	"fmt"
	"sort"
	"strings"
)

// Category is the semantic health of a goal.
type Category string

const (
	OnTrack  Category = "on_track"
	AtRisk   Category = "at_risk"
	OffTrack Category = "off_track"
	Complete Category = "complete"
)

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	switch c {
	case OnTrack, AtRisk, OffTrack, Complete:
		return true
	}
	return false
}

// ParseCategory accepts a category literal in any case, with surrounding
// whitespace ignored.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Entry is one row of a mapping table.
type Entry struct {
	Status   string
	Category Category
}

// Table maps tracker status strings, matched exactly, to entries.
// The zero value is an empty table where every status passes through.
type Table struct {
	entries map[string]Entry
}

// Default returns the built-in mapping.
func Default() Table {
	return Table{entries: map[string]Entry{
		"To Do":       {Status: "New", Category: OnTrack},
		"In Progress": {Status: "In Progress", Category: OnTrack},
		"Done":        {Status: "Complete", Category: Complete},
		"Blocked":     {Status: "On Hold", Category: AtRisk},
	}}
}

// Map returns the mapped status text and category for a tracker status.
// Unknown statuses pass through unchanged as on_track.
func (t Table) Map(trackerStatus string) (string, Category) {
	if e, ok := t.entries[trackerStatus]; ok {
		return e.Status, e.Category
	}
	return trackerStatus, OnTrack
}

// Lookup returns the entry for status and whether it exists.
func (t Table) Lookup(status string) (Entry, bool) {
	e, ok := t.entries[status]
	return e, ok
}

// Len returns the number of entries.
func (t Table) Len() int {
	return len(t.entries)
}

// Keys returns the tracker statuses in sorted order.
func (t Table) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of t with overrides applied over it.
func (t Table) With(overrides map[string]Entry) Table {
	merged := make(map[string]Entry, len(t.entries)+len(overrides))
	for k, v := range t.entries {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return Table{entries: merged}
}

// ParseOverrides converts a decoded status_mapping object into entries.
//
// Each value is either a string holding the mapped status text, or an
// object with "status" and an optional "category". When no category is
// given it is derived from the mapped text with InferCategory.
func ParseOverrides(raw map[string]any) (map[string]Entry, error) {
	out := make(map[string]Entry, len(raw))
	for key, v := range raw {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("status_mapping: empty tracker status key")
		}
		switch val := v.(type) {
		case string:
			out[key] = Entry{Status: val, Category: InferCategory(val)}
		case map[string]any:
			e, err := parseObject(key, val)
			if err != nil {
				return nil, err
			}
			out[key] = e
		default:
			return nil, fmt.Errorf("status_mapping[%q]: expected string or object, got %T", key, v)
		}
	}
	return out, nil
}

func parseObject(key string, obj map[string]any) (Entry, error) {
	status, _ := obj["status"].(string)
	if status == "" {
		return Entry{}, fmt.Errorf("status_mapping[%q]: object form requires a non-empty \"status\"", key)
	}

	raw, present := obj["category"]
	if !present {
		return Entry{Status: status, Category: InferCategory(status)}, nil
	}
	s, ok := raw.(string)
	if !ok {
		return Entry{}, fmt.Errorf("status_mapping[%q]: category must be a string", key)
	}
	c, ok := ParseCategory(s)
	if !ok {
		return Entry{}, fmt.Errorf("status_mapping[%q]: unknown category %q", key, s)
	}
	return Entry{Status: status, Category: c}, nil
}

// InferCategory derives a category for mapped status text that came without
// one. A category literal wins; otherwise keywords are checked in order.
func InferCategory(mapped string) Category {
	if c, ok := ParseCategory(mapped); ok {
		return c
	}
	lower := strings.ToLower(mapped)
	switch {
	case strings.Contains(lower, "hold"), strings.Contains(lower, "block"):
		return AtRisk
	case strings.Contains(lower, "complete"), strings.Contains(lower, "done"):
		return Complete
	case strings.Contains(lower, "off track"), strings.Contains(lower, "off_track"):
		return OffTrack
	case strings.Contains(lower, "risk"):
		return AtRisk
	}
	return OnTrack
}
