// internal/loop/driver_test.go
package loop

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

type stubApprovals struct {
	pending bool
}

func (s *stubApprovals) HasPendingForLoop(ctx context.Context, loopID types.LoopID) (bool, error) {
	return s.pending, nil
}

func newTestDriver(t *testing.T, approvals ApprovalChecker, work WorkFn) (*Driver, *vault.Vault) {
	t.Helper()
	dir := t.TempDir()
	v := vault.New(dir)
	if err := v.EnsureStructure(); err != nil {
		t.Fatal(err)
	}
	log := audit.New(filepath.Join(dir, vault.BucketLogs))
	return NewDriver(v, approvals, log, "agent-test", work, 0), v
}

func TestStartValidation(t *testing.T) {
	d, _ := newTestDriver(t, nil, nil)
	ctx := context.Background()

	if _, err := d.Start(ctx, Options{Prompt: "x", MaxIterations: 0, CompletionPromise: "DONE"}); err == nil {
		t.Error("zero iteration budget must be rejected")
	}
	if _, err := d.Start(ctx, Options{Prompt: "x", MaxIterations: 5}); err == nil {
		t.Error("a completion signal is required")
	}
}

func TestLoopCompletesOnPromise(t *testing.T) {
	calls := 0
	work := func(ctx context.Context, state *types.LoopState) (string, error) {
		calls++
		if calls == 3 {
			return "all finished <promise>TASK_DONE</promise>", nil
		}
		return fmt.Sprintf("working, attempt %d", calls), nil
	}
	d, v := newTestDriver(t, nil, work)
	ctx := context.Background()

	state, err := d.Start(ctx, Options{Prompt: "do it", MaxIterations: 10, CompletionPromise: "TASK_DONE"})
	if err != nil {
		t.Fatal(err)
	}
	final, err := d.Run(ctx, stateName(state.ID))
	if err != nil {
		t.Fatal(err)
	}

	if final.Status != types.LoopCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.CurrentIteration != 3 {
		t.Errorf("expected 3 iterations, got %d", final.CurrentIteration)
	}
	if final.CompletedAt == nil {
		t.Error("completed loop missing completion time")
	}
	// Terminal loops move to history.
	if ok, _ := v.Exists(ctx, vault.BucketLoops, stateName(state.ID)); ok {
		t.Error("terminal loop still in active bucket")
	}
	if ok, _ := v.Exists(ctx, vault.BucketLoopHistory, stateName(state.ID)); !ok {
		t.Error("terminal loop not in history")
	}
}

func TestLoopEscalatesOnMaxIterations(t *testing.T) {
	work := func(ctx context.Context, state *types.LoopState) (string, error) {
		return "still trying", nil
	}
	d, v := newTestDriver(t, nil, work)
	ctx := context.Background()

	state, err := d.Start(ctx, Options{Prompt: "hopeless", MaxIterations: 7, CompletionPromise: "NEVER"})
	if err != nil {
		t.Fatal(err)
	}
	final, err := d.Run(ctx, stateName(state.ID))
	if err != nil {
		t.Fatal(err)
	}

	if final.Status != types.LoopMaxIterationsReached {
		t.Fatalf("expected max_iterations_reached, got %s", final.Status)
	}
	if final.CurrentIteration != 7 {
		t.Errorf("iteration count %d must equal the budget", final.CurrentIteration)
	}

	var esc types.Escalation
	if err := v.Get(ctx, vault.BucketEscalations, string(state.ID)+".escalation.json", &esc); err != nil {
		t.Fatalf("escalation record missing: %v", err)
	}
	if len(esc.Iterations) != 5 {
		t.Errorf("escalation should carry the last 5 iterations, got %d", len(esc.Iterations))
	}
	if esc.Iterations[4].Number != 7 {
		t.Errorf("escalation tail should end at iteration 7, got %d", esc.Iterations[4].Number)
	}
	if esc.Prompt != "hopeless" {
		t.Errorf("escalation lost task description: %q", esc.Prompt)
	}
}

func TestLoopPausesForApprovalWithoutConsumingIterations(t *testing.T) {
	approvals := &stubApprovals{pending: true}
	work := func(ctx context.Context, state *types.LoopState) (string, error) {
		return "<promise>OK</promise>", nil
	}
	d, _ := newTestDriver(t, approvals, work)
	ctx := context.Background()

	state, err := d.Start(ctx, Options{Prompt: "gated", MaxIterations: 3, CompletionPromise: "OK"})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		got, err := d.Iterate(ctx, stateName(state.ID))
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != types.LoopPausedForApproval {
			t.Fatalf("expected paused_for_approval, got %s", got.Status)
		}
		if got.CurrentIteration != 0 {
			t.Fatalf("paused loop consumed an iteration: %d", got.CurrentIteration)
		}
	}

	// Decision recorded; the loop resumes and completes.
	approvals.pending = false
	final, err := d.Run(ctx, stateName(state.ID))
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != types.LoopCompleted {
		t.Errorf("expected completed after resume, got %s", final.Status)
	}
}

func TestLoopCompletesOnArtifactMove(t *testing.T) {
	work := func(ctx context.Context, state *types.LoopState) (string, error) {
		return "waiting on artifact", nil
	}
	d, v := newTestDriver(t, nil, work)
	ctx := context.Background()

	state, err := d.Start(ctx, Options{
		Prompt:        "watch",
		MaxIterations: 10,
		WatchArtifact: "report.json",
		DoneBucket:    vault.BucketDone,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.Iterate(ctx, stateName(state.ID)); err != nil {
		t.Fatal(err)
	}

	// The watched artifact lands in the done bucket between iterations.
	if err := v.Put(ctx, vault.BucketDone, "report.json", map[string]string{"ok": "yes"}); err != nil {
		t.Fatal(err)
	}
	final, err := d.Iterate(ctx, stateName(state.ID))
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != types.LoopCompleted {
		t.Errorf("expected completed after artifact move, got %s", final.Status)
	}
}

func TestQuarantinedArtifactDoesNotCompleteLoop(t *testing.T) {
	work := func(ctx context.Context, state *types.LoopState) (string, error) {
		return "waiting on artifact", nil
	}
	d, v := newTestDriver(t, nil, work)
	ctx := context.Background()

	if err := v.Put(ctx, vault.BucketPlans, "report.json", map[string]string{"ok": "no"}); err != nil {
		t.Fatal(err)
	}
	state, err := d.Start(ctx, Options{
		Prompt:        "watch",
		MaxIterations: 10,
		WatchArtifact: "report.json",
		DoneBucket:    vault.BucketDone,
	})
	if err != nil {
		t.Fatal(err)
	}

	// The artifact is relocated, but not into the done bucket.
	if err := v.Move(ctx, vault.BucketPlans, "report.json", vault.BucketQuarantine); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		got, err := d.Iterate(ctx, stateName(state.ID))
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != types.LoopRunning {
			t.Fatalf("quarantined artifact must not complete the loop, got %s", got.Status)
		}
	}

	// Only arrival in the done bucket counts.
	if err := v.Move(ctx, vault.BucketQuarantine, "report.json", vault.BucketDone); err != nil {
		t.Fatal(err)
	}
	final, err := d.Iterate(ctx, stateName(state.ID))
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != types.LoopCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
}

func TestLoopStop(t *testing.T) {
	work := func(ctx context.Context, state *types.LoopState) (string, error) {
		return "running", nil
	}
	d, v := newTestDriver(t, nil, work)
	ctx := context.Background()

	state, err := d.Start(ctx, Options{Prompt: "x", MaxIterations: 100, CompletionPromise: "NOPE"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Iterate(ctx, stateName(state.ID)); err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(ctx, state.ID); err != nil {
		t.Fatal(err)
	}

	final, err := d.Get(ctx, state.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != types.LoopStopped {
		t.Errorf("expected stopped, got %s", final.Status)
	}
	if ok, _ := v.Exists(ctx, vault.BucketLoopHistory, stateName(state.ID)); !ok {
		t.Error("stopped loop not retired to history")
	}
	if err := d.Stop(ctx, state.ID); err == nil {
		t.Error("stopping a terminal loop must fail")
	}
}

func TestWorkErrorRecordedAndCounted(t *testing.T) {
	work := func(ctx context.Context, state *types.LoopState) (string, error) {
		return "", errors.New("tool exploded")
	}
	d, _ := newTestDriver(t, nil, work)
	ctx := context.Background()

	state, err := d.Start(ctx, Options{Prompt: "x", MaxIterations: 2, CompletionPromise: "OK"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := d.Iterate(ctx, stateName(state.ID))
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentIteration != 1 {
		t.Errorf("failed work unit still consumes an iteration, got %d", got.CurrentIteration)
	}
	if !strings.Contains(got.Iterations[0].OutputPreview, "tool exploded") {
		t.Errorf("error not recorded in iteration preview: %q", got.Iterations[0].OutputPreview)
	}
}

func TestIterationPreviewTruncated(t *testing.T) {
	long := strings.Repeat("a", 2000)
	work := func(ctx context.Context, state *types.LoopState) (string, error) {
		return long, nil
	}
	d, _ := newTestDriver(t, nil, work)
	ctx := context.Background()

	state, err := d.Start(ctx, Options{Prompt: "x", MaxIterations: 1, CompletionPromise: "OK"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := d.Iterate(ctx, stateName(state.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Iterations[0].OutputPreview) != previewLimit {
		t.Errorf("preview length %d, want %d", len(got.Iterations[0].OutputPreview), previewLimit)
	}
}
