// internal/ingest/frontmatter.go
package ingest

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/deskhand/internal/types"
)

// frontmatter is the YAML header of a drop-folder markdown file.
type frontmatter struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"`
	Source   string            `yaml:"source"`
	Priority string            `yaml:"priority"`
	Metadata map[string]string `yaml:"metadata"`
}

const frontmatterDelim = "---"

// ParseMarkdownItem parses a markdown document with YAML frontmatter into a
// WorkItem. The body is everything after the closing delimiter. Missing or
// malformed frontmatter is an error; callers quarantine the file.
func ParseMarkdownItem(data []byte) (*types.WorkItem, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, frontmatterDelim+"\n") {
		return nil, fmt.Errorf("malformed item: missing frontmatter delimiter")
	}
	rest := text[len(frontmatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelim)
	if end < 0 {
		return nil, fmt.Errorf("malformed item: unterminated frontmatter")
	}
	header := rest[:end]
	body := rest[end+len(frontmatterDelim)+1:]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, fmt.Errorf("malformed item frontmatter: %w", err)
	}

	item := &types.WorkItem{
		ID:        types.ItemID(fm.ID),
		Type:      itemType(fm.Type),
		Source:    fm.Source,
		Priority:  priority(fm.Priority),
		CreatedAt: time.Now().UTC(),
		Body:      strings.TrimSpace(body),
		Metadata:  fm.Metadata,
	}
	if item.ID == "" {
		item.ID = types.NewItemID()
	}
	if item.Source == "" {
		return nil, fmt.Errorf("malformed item: source is required")
	}
	return item, nil
}

func itemType(s string) types.ItemType {
	switch types.ItemType(strings.ToLower(s)) {
	case types.ItemEmail, types.ItemMessage, types.ItemFile, types.ItemSocial:
		return types.ItemType(strings.ToLower(s))
	}
	return types.ItemGeneric
}

func priority(s string) types.Priority {
	switch types.Priority(strings.ToLower(s)) {
	case types.PriorityHigh, types.PriorityLow:
		return types.Priority(strings.ToLower(s))
	}
	return types.PriorityMedium
}
