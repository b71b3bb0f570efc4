// internal/recovery/executor.go
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/deskhand/internal/types"
)

// Operation is a unit of work run under recovery supervision. Bucket and
// Name identify the record behind the operation so data failures can be
// quarantined at the source.
type Operation struct {
	Action string
	Target string
	Bucket string
	Name   string
	Fn     func(ctx context.Context) error
}

// Executor runs operations under the failure taxonomy: transient and system
// failures retry with backoff up to the policy's attempt budget and land in
// the recovery queue on exhaustion, authentication failures get one retry
// then an alert, logic failures go straight to human review, data failures
// quarantine the offending record.
type Executor struct {
	queue      *Queue
	quarantine *Quarantine
	alerts     *Alerter
	policy     *BackoffPolicy

	// RefreshAuth, when set, is invoked before the single authentication
	// retry to re-establish credentials.
	RefreshAuth func(ctx context.Context) error

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor with the given collaborators. A nil policy
// uses the default.
func NewExecutor(queue *Queue, quarantine *Quarantine, alerts *Alerter, policy *BackoffPolicy) *Executor {
	if policy == nil {
		policy = DefaultBackoffPolicy()
	}
	return &Executor{
		queue:      queue,
		quarantine: quarantine,
		alerts:     alerts,
		policy:     policy,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes an operation, applying the recovery strategy for whatever
// failure category its errors fall into. A nil return means the operation
// eventually succeeded; a non-nil return means recovery has taken over
// (queued, quarantined, or escalated) and the caller should move on.
func (e *Executor) Run(ctx context.Context, op Operation) error {
	err := op.Fn(ctx)
	if err == nil {
		return nil
	}

	category := Classify(err)
	strategy := StrategyFor(category)
	slog.Warn("operation failed",
		"action", op.Action, "target", op.Target,
		"category", string(category), "strategy", strategy.Name, "error", err)

	switch category {
	case types.FailureData:
		if op.Bucket != "" && op.Name != "" && e.quarantine != nil {
			if qerr := e.quarantine.Isolate(ctx, op.Bucket, op.Name, err.Error()); qerr != nil {
				slog.Error("quarantine failed", "record", op.Name, "error", qerr)
			}
		} else if e.alerts != nil {
			e.alerts.Raise(ctx, "warning", "data failure in "+op.Action+": "+err.Error(), op.Target)
		}
		return err

	case types.FailureLogic:
		if e.alerts != nil {
			e.alerts.Raise(ctx, "warning", "logic failure needs review in "+op.Action+": "+err.Error(), op.Target)
		}
		return err

	case types.FailureAuth:
		if e.RefreshAuth != nil {
			if rerr := e.RefreshAuth(ctx); rerr != nil {
				slog.Warn("credential refresh failed", "error", rerr)
			}
		}
		if retryErr := op.Fn(ctx); retryErr == nil {
			return nil
		}
		if e.alerts != nil {
			e.alerts.Raise(ctx, "critical", "authentication failure in "+op.Action+": "+err.Error(), op.Target)
		}
		return e.requeue(ctx, op, category, 1, err)

	default: // transient and system
		// The configured policy is the total attempt budget, initial call
		// included. The taxonomy table only supplies a default when the
		// policy carries none.
		budget := e.policy.MaxAttempts
		if budget < 1 {
			budget = 1 + strategy.MaxRetries
		}
		attempt := 1
		for ; attempt < budget; attempt++ {
			if serr := e.sleep(ctx, e.policy.DelayWithJitter(attempt)); serr != nil {
				return serr
			}
			if err = op.Fn(ctx); err == nil {
				return nil
			}
		}
		if category == types.FailureSystem && e.alerts != nil {
			e.alerts.Raise(ctx, "critical", "system failure in "+op.Action+": "+err.Error(), op.Target)
		}
		return e.requeue(ctx, op, category, attempt, err)
	}
}

// requeue records an exhausted operation in the recovery queue so it is
// retried later instead of being dropped.
func (e *Executor) requeue(ctx context.Context, op Operation, category types.FailureCategory, attempts int, lastErr error) error {
	if e.queue == nil {
		return lastErr
	}
	entry := &types.RecoveryEntry{
		Action:       op.Action,
		Target:       op.Target,
		Category:     category,
		RetryCount:   attempts,
		LastError:    lastErr.Error(),
		NextEligible: time.Now().UTC().Add(e.policy.Delay(attempts + 1)),
	}
	if err := e.queue.Enqueue(ctx, entry); err != nil {
		slog.Error("recovery enqueue failed", "action", op.Action, "error", err)
	}
	return lastErr
}

// Drain retries every due queue entry using the provided handler registry,
// which maps action names to operations. Entries whose action has no handler
// stay queued. Entries that succeed are removed; entries that fail again are
// rescheduled with a bumped retry count.
func (e *Executor) Drain(ctx context.Context, handlers map[string]func(ctx context.Context, entry *types.RecoveryEntry) error) {
	due, err := e.queue.Due(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("list due recovery entries", "error", err)
		return
	}
	for _, entry := range due {
		handler, ok := handlers[entry.Action]
		if !ok {
			continue
		}
		if herr := handler(ctx, entry); herr != nil {
			if rerr := e.queue.Reschedule(ctx, entry, 1, herr, e.policy); rerr != nil {
				slog.Error("reschedule recovery entry", "operation", entry.OperationID, "error", rerr)
			}
			continue
		}
		if cerr := e.queue.Complete(ctx, entry.OperationID); cerr != nil {
			slog.Error("complete recovery entry", "operation", entry.OperationID, "error", cerr)
		}
	}
}
