package jira

import (
	"encoding/json"
	"strings"
)

// adfNode is the subset of Atlassian Document Format needed to pull text.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
	Attrs   struct {
		Text        string `json:"text,omitempty"`
		ShortName   string `json:"shortName,omitempty"`
		URL         string `json:"url,omitempty"`
		DisplayName string `json:"displayName,omitempty"`
	} `json:"attrs"`
}

// bodyText flattens a comment body to plain text. API v3 returns ADF; older
// endpoints and some proxies return a plain string.
func bodyText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	var parts []string
	collectText(doc, &parts)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func collectText(n adfNode, parts *[]string) {
	switch n.Type {
	case "text":
		if n.Text != "" {
			*parts = append(*parts, n.Text)
		}
	case "mention":
		*parts = append(*parts, n.Attrs.Text)
	case "emoji":
		*parts = append(*parts, n.Attrs.ShortName)
	case "inlineCard":
		*parts = append(*parts, n.Attrs.URL)
	}
	for _, child := range n.Content {
		collectText(child, parts)
	}
}
