// internal/recovery/executor_test.go
package recovery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

func newTestExecutor(t *testing.T) (*Executor, *Queue, *vault.Vault) {
	t.Helper()
	dir := t.TempDir()
	v := vault.New(dir)
	if err := v.EnsureStructure(); err != nil {
		t.Fatal(err)
	}
	log := audit.New(filepath.Join(dir, vault.BucketLogs))
	queue := NewQueue(v, log, "agent-test")
	alerts := NewAlerter(v)
	quarantine := NewQuarantine(v, log, "agent-test", alerts)

	policy := &BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Kind: BackoffExponential}
	e := NewExecutor(queue, quarantine, alerts, policy)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e, queue, v
}

func TestTransientRetriesThenSucceeds(t *testing.T) {
	e, queue, _ := newTestExecutor(t)
	ctx := context.Background()

	calls := 0
	err := e.Run(ctx, Operation{
		Action: "fetch",
		Fn: func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	entries, _ := queue.List(ctx)
	if len(entries) != 0 {
		t.Error("successful operation must not be queued")
	}
}

func TestTransientExhaustionRequeues(t *testing.T) {
	e, queue, _ := newTestExecutor(t)
	ctx := context.Background()

	calls := 0
	err := e.Run(ctx, Operation{
		Action: "fetch",
		Target: "item-1",
		Fn: func(ctx context.Context) error {
			calls++
			return errors.New("request timeout")
		},
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if calls != 3 { // MaxAttempts is the total budget, initial call included
		t.Errorf("expected 3 attempts, got %d", calls)
	}

	entries, err := queue.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 queued entry, got %d", len(entries))
	}
	e1 := entries[0]
	if e1.Category != types.FailureTransient || e1.NextEligible.IsZero() {
		t.Errorf("bad recovery entry: %+v", e1)
	}
	if e1.RetryCount != 3 {
		t.Errorf("queued retry count %d, want the 3 attempts made", e1.RetryCount)
	}
}

func TestAttemptBudgetFollowsPolicy(t *testing.T) {
	ctx := context.Background()
	for _, budget := range []int{1, 2, 5} {
		e, queue, _ := newTestExecutor(t)
		e.policy.MaxAttempts = budget

		calls := 0
		err := e.Run(ctx, Operation{
			Action: "fetch",
			Fn: func(ctx context.Context) error {
				calls++
				return errors.New("connection reset")
			},
		})
		if err == nil {
			t.Fatalf("budget %d: expected exhaustion error", budget)
		}
		if calls != budget {
			t.Errorf("budget %d: Fn called %d times", budget, calls)
		}
		entries, _ := queue.List(ctx)
		if len(entries) != 1 || entries[0].RetryCount != budget {
			t.Errorf("budget %d: queued entries %+v", budget, entries)
		}
	}
}

func TestDataFailureQuarantines(t *testing.T) {
	e, queue, v := newTestExecutor(t)
	ctx := context.Background()

	if err := v.Put(ctx, vault.BucketPlans, "bad.json", map[string]string{"x": "y"}); err != nil {
		t.Fatal(err)
	}

	err := e.Run(ctx, Operation{
		Action: "parse",
		Bucket: vault.BucketPlans,
		Name:   "bad.json",
		Fn: func(ctx context.Context) error {
			return errors.New("unmarshal record: malformed payload")
		},
	})
	if err == nil {
		t.Fatal("data failures surface to the caller")
	}

	if ok, _ := v.Exists(ctx, vault.BucketQuarantine, "bad.json"); !ok {
		t.Error("record not quarantined")
	}
	if ok, _ := v.Exists(ctx, vault.BucketQuarantine, "bad.json.meta.json"); !ok {
		t.Error("quarantine metadata sidecar missing")
	}
	if ok, _ := v.Exists(ctx, vault.BucketPlans, "bad.json"); ok {
		t.Error("quarantined record still in source bucket")
	}
	entries, _ := queue.List(ctx)
	if len(entries) != 0 {
		t.Error("data failures are never retried")
	}
}

func TestAuthFailureSingleRetry(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()

	refreshed := false
	e.RefreshAuth = func(ctx context.Context) error {
		refreshed = true
		return nil
	}

	calls := 0
	err := e.Run(ctx, Operation{
		Action: "sync",
		Fn: func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("401 unauthorized")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !refreshed {
		t.Error("credentials not refreshed before retry")
	}
	if calls != 2 {
		t.Errorf("expected exactly one retry, got %d calls", calls)
	}
}

func TestLogicFailureNoRetry(t *testing.T) {
	e, queue, v := newTestExecutor(t)
	ctx := context.Background()

	calls := 0
	err := e.Run(ctx, Operation{
		Action: "route",
		Fn: func(ctx context.Context) error {
			calls++
			return errors.New("unknown action: frobnicate")
		},
	})
	if err == nil {
		t.Fatal("logic failures surface to the caller")
	}
	if calls != 1 {
		t.Errorf("logic failures must not retry, got %d calls", calls)
	}
	entries, _ := queue.List(ctx)
	if len(entries) != 0 {
		t.Error("logic failures go to human review, not the retry queue")
	}
	alerts, _ := v.List(ctx, vault.BucketAlerts)
	if len(alerts) == 0 {
		t.Error("logic failure must raise an alert")
	}
}

func TestDrainCompletesAndReschedules(t *testing.T) {
	e, queue, _ := newTestExecutor(t)
	ctx := context.Background()

	good := &types.RecoveryEntry{Action: "good", Category: types.FailureTransient, NextEligible: time.Now().Add(-time.Minute)}
	bad := &types.RecoveryEntry{Action: "bad", Category: types.FailureTransient, NextEligible: time.Now().Add(-time.Minute)}
	if err := queue.Enqueue(ctx, good); err != nil {
		t.Fatal(err)
	}
	if err := queue.Enqueue(ctx, bad); err != nil {
		t.Fatal(err)
	}

	e.Drain(ctx, map[string]func(ctx context.Context, entry *types.RecoveryEntry) error{
		"good": func(ctx context.Context, entry *types.RecoveryEntry) error { return nil },
		"bad":  func(ctx context.Context, entry *types.RecoveryEntry) error { return errors.New("still broken") },
	})

	entries, err := queue.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the failing entry to remain, got %d", len(entries))
	}
	if entries[0].Action != "bad" || entries[0].RetryCount != 1 {
		t.Errorf("failing entry not rescheduled: %+v", entries[0])
	}
	if !entries[0].NextEligible.After(time.Now().Add(-time.Second)) {
		t.Error("rescheduled entry should not be immediately eligible")
	}
}

func TestQueueNeverDropsEntries(t *testing.T) {
	_, queue, _ := newTestExecutor(t)
	ctx := context.Background()

	entry := &types.RecoveryEntry{Action: "op", Category: types.FailureTransient}
	if err := queue.Enqueue(ctx, entry); err != nil {
		t.Fatal(err)
	}

	policy := DefaultBackoffPolicy()
	for i := 0; i < 5; i++ {
		if err := queue.Reschedule(ctx, entry, 1, errors.New("again"), policy); err != nil {
			t.Fatal(err)
		}
	}
	got, err := queue.Get(ctx, entry.OperationID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetryCount != 5 {
		t.Errorf("retry count %d, want 5", got.RetryCount)
	}

	if err := queue.Complete(ctx, entry.OperationID); err != nil {
		t.Fatal(err)
	}
	if _, err := queue.Get(ctx, entry.OperationID); err == nil {
		t.Error("completed entry should be gone")
	}
}
