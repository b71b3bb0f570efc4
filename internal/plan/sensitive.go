// internal/plan/sensitive.go
package plan

import (
	"strings"

	"github.com/user/deskhand/internal/types"
)

// sensitiveKeywords match actions that must never run without human
// sign-off: outbound communication, payments and financial postings, and
// public-facing posts.
var sensitiveKeywords = []string{
	"send", "reply to", "pay", "payment", "invoice", "transfer",
	"publish", "post to", "new contact",
}

// IsSensitive reports whether a step description matches the
// sensitive-action heuristic.
func IsSensitive(description string) bool {
	lower := strings.ToLower(description)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ForceApproval marks every sensitive step approval-required, regardless of
// whether the reasoner or a template produced it. This is a hard safety
// invariant, not a suggestion.
func ForceApproval(steps []types.PlanStep) {
	for i := range steps {
		if IsSensitive(steps[i].Description) {
			steps[i].ApprovalRequired = true
		}
	}
}
