// internal/plan/prompt.go
package plan

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/pkg/llm"
)

const systemPrompt = `You are the planning engine of an autonomous personal assistant.
Given an incoming work item, produce an execution plan as a markdown checklist.
Each step is one line of the form "- [ ] N. description".
Mark any step that sends, publishes, pays, or otherwise acts externally with
the marker [APPROVAL REQUIRED] at the start of its description.
Output only the checklist.`

// PromptBuilder assembles token-budgeted planning prompts.
type PromptBuilder struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// NewPromptBuilder creates a builder with the given token budget. model
// selects the tokenizer; unknown models fall back to cl100k_base.
func NewPromptBuilder(model string, maxTokens int) (*PromptBuilder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &PromptBuilder{tokenizer: enc, maxTokens: maxTokens}, nil
}

func (b *PromptBuilder) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// truncate cuts text to fit within budget tokens, appending a marker when
// anything was dropped.
func (b *PromptBuilder) truncate(text string, budget int) string {
	if b.countTokens(text) <= budget {
		return text
	}
	tokens := b.tokenizer.Encode(text, nil, nil)
	if budget < 1 {
		return ""
	}
	return b.tokenizer.Decode(tokens[:budget]) + "\n...[truncated]"
}

// Build assembles the planning messages for a work item. contextText (the
// operator's handbook and goals) gets at most a third of the budget; the
// item body takes the remainder.
func (b *PromptBuilder) Build(item *types.WorkItem, contextText string) []llm.Message {
	budget := b.maxTokens - b.countTokens(systemPrompt)
	contextBudget := budget / 3
	bodyBudget := budget - contextBudget

	var sb strings.Builder
	if contextText != "" {
		sb.WriteString("## Context\n")
		sb.WriteString(b.truncate(contextText, contextBudget))
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "## Work item\nid: %s\ntype: %s\nsource: %s\npriority: %s\n\n",
		item.ID, item.Type, item.Source, item.Priority)
	sb.WriteString(b.truncate(item.Body, bodyBudget))

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: sb.String()},
	}
}
