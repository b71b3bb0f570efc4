// internal/recovery/queue.go
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// Queue holds failed operations awaiting retry. Entries are deleted on
// success and rescheduled with an incremented retry count on continued
// failure; they are never silently dropped.
type Queue struct {
	store types.Store
	log   *audit.Logger
	agent types.AgentID
}

// NewQueue creates a recovery Queue over the shared store.
func NewQueue(store types.Store, log *audit.Logger, agent types.AgentID) *Queue {
	return &Queue{store: store, log: log, agent: agent}
}

func entryName(id types.OperationID) string {
	return string(id) + ".json"
}

// Enqueue records a newly failed operation.
func (q *Queue) Enqueue(ctx context.Context, entry *types.RecoveryEntry) error {
	if entry.OperationID == "" {
		entry.OperationID = types.NewOperationID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := q.store.Put(ctx, vault.BucketRecoveryQueue, entryName(entry.OperationID), entry); err != nil {
		return fmt.Errorf("enqueue recovery entry: %w", err)
	}
	q.log.Record(audit.Entry{
		Actor:  string(q.agent),
		Action: "recovery_enqueue",
		Target: string(entry.OperationID),
		Result: "queued",
		Params: map[string]any{
			"action":      entry.Action,
			"category":    string(entry.Category),
			"retry_count": entry.RetryCount,
		},
	})
	return nil
}

// Reschedule bumps the entry's retry count by attempts and pushes its
// next-eligible time out according to the policy.
func (q *Queue) Reschedule(ctx context.Context, entry *types.RecoveryEntry, attempts int, lastErr error, policy *BackoffPolicy) error {
	entry.RetryCount += attempts
	if lastErr != nil {
		entry.LastError = lastErr.Error()
	}
	entry.NextEligible = time.Now().UTC().Add(policy.Delay(entry.RetryCount))
	if err := q.store.Put(ctx, vault.BucketRecoveryQueue, entryName(entry.OperationID), entry); err != nil {
		return fmt.Errorf("reschedule recovery entry: %w", err)
	}
	q.log.Record(audit.Entry{
		Actor:  string(q.agent),
		Action: "recovery_reschedule",
		Target: string(entry.OperationID),
		Result: "rescheduled",
		Params: map[string]any{"retry_count": entry.RetryCount},
		Error:  entry.LastError,
	})
	return nil
}

// Complete removes a successfully retried entry.
func (q *Queue) Complete(ctx context.Context, id types.OperationID) error {
	if err := q.store.Delete(ctx, vault.BucketRecoveryQueue, entryName(id)); err != nil {
		return err
	}
	q.log.Record(audit.Entry{
		Actor:  string(q.agent),
		Action: "recovery_complete",
		Target: string(id),
		Result: "success",
	})
	return nil
}

// Get returns one entry by operation id.
func (q *Queue) Get(ctx context.Context, id types.OperationID) (*types.RecoveryEntry, error) {
	var entry types.RecoveryEntry
	if err := q.store.Get(ctx, vault.BucketRecoveryQueue, entryName(id), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns all queued entries.
func (q *Queue) List(ctx context.Context) ([]*types.RecoveryEntry, error) {
	names, err := q.store.List(ctx, vault.BucketRecoveryQueue)
	if err != nil {
		return nil, err
	}
	var entries []*types.RecoveryEntry
	for _, name := range names {
		var entry types.RecoveryEntry
		if err := q.store.Get(ctx, vault.BucketRecoveryQueue, name, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Due returns the entries whose next-eligible time has passed.
func (q *Queue) Due(ctx context.Context, now time.Time) ([]*types.RecoveryEntry, error) {
	entries, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	due := entries[:0]
	for _, e := range entries {
		if !e.NextEligible.After(now) {
			due = append(due, e)
		}
	}
	return due, nil
}
