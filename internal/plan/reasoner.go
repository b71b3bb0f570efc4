// internal/plan/reasoner.go
package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/pkg/llm"
)

// ErrRateLimited means the per-minute reasoner budget is exhausted; the
// caller should fall back to template planning without waiting.
var ErrRateLimited = errors.New("reasoner rate limit exhausted")

// LLMReasoner calls an external chat-completion backend to draft plans.
// Calls are bounded by a hard timeout and a per-minute invocation budget;
// when the budget is spent the reasoner refuses immediately instead of
// blocking the orchestrator tick.
type LLMReasoner struct {
	provider llm.Provider
	prompts  *PromptBuilder
	limiter  *rate.Limiter
	timeout  time.Duration
}

// NewLLMReasoner creates a reasoner with the given call budget and timeout.
func NewLLMReasoner(provider llm.Provider, prompts *PromptBuilder, callsPerMinute int, timeout time.Duration) *LLMReasoner {
	return &LLMReasoner{
		provider: provider,
		prompts:  prompts,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(callsPerMinute)), callsPerMinute),
		timeout:  timeout,
	}
}

// Plan generates a plan draft for the item. Returns the raw markdown
// checklist, or an error (including ErrRateLimited and timeouts) which the
// generator treats as "fall back to templates".
func (r *LLMReasoner) Plan(ctx context.Context, item *types.WorkItem, contextText string) (string, error) {
	if !r.limiter.Allow() {
		return "", ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := r.prompts.Build(item, contextText)
	resp, err := r.provider.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("reasoner call: %w", err)
	}
	return resp.Content, nil
}

var _ types.Reasoner = (*LLMReasoner)(nil)
