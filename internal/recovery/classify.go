// internal/recovery/classify.go
package recovery

import (
	"strings"

	"github.com/user/deskhand/internal/types"
)

// Strategy pairs a failure category with its recovery behavior.
type Strategy struct {
	Name       string
	MaxRetries int
}

// strategies is the failure taxonomy table: what each category means and how
// many retries it earns.
var strategies = map[types.FailureCategory]Strategy{
	types.FailureTransient: {Name: "retry_with_backoff", MaxRetries: 3},
	types.FailureAuth:      {Name: "refresh_or_alert", MaxRetries: 1},
	types.FailureLogic:     {Name: "human_review", MaxRetries: 0},
	types.FailureData:      {Name: "quarantine_and_alert", MaxRetries: 0},
	types.FailureSystem:    {Name: "supervisor_restart", MaxRetries: 3},
}

// StrategyFor returns the recovery strategy for a category.
func StrategyFor(cat types.FailureCategory) Strategy {
	return strategies[cat]
}

// Classify sorts an error into the failure taxonomy based on its message.
// Unknown errors default to transient so they get retried and, failing that,
// requeued rather than dropped.
func Classify(err error) types.FailureCategory {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "unauthorized", "forbidden", "token expired", "revoked", "authentication", "invalid credentials"):
		return types.FailureAuth
	case containsAny(msg, "corrupt", "missing field", "unmarshal", "malformed", "invalid character", "unexpected end of json"):
		return types.FailureData
	case containsAny(msg, "disk full", "no space left", "process crash", "killed", "out of memory"):
		return types.FailureSystem
	case containsAny(msg, "misinterpret", "unsupported", "unknown action", "no handler"):
		return types.FailureLogic
	case containsAny(msg, "timeout", "deadline exceeded", "rate limit", "too many requests",
		"connection refused", "connection reset", "temporary failure", "unavailable"):
		return types.FailureTransient
	}
	return types.FailureTransient
}

func containsAny(msg string, fragments ...string) bool {
	for _, f := range fragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}
