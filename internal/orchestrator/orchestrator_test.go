// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/deskhand/internal/approval"
	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/claim"
	"github.com/user/deskhand/internal/loop"
	"github.com/user/deskhand/internal/plan"
	"github.com/user/deskhand/internal/recovery"
	"github.com/user/deskhand/internal/skill"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// failOnce is a skill that fails a fixed number of times before succeeding.
type failOnce struct {
	failures int
	calls    int
}

func (f *failOnce) Name() string { return "flaky" }

func (f *failOnce) Execute(ctx context.Context, item *types.WorkItem, step types.PlanStep) (*types.SkillResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection refused")
	}
	return &types.SkillResult{Output: "ok"}, nil
}

type testHarness struct {
	orch  *Orchestrator
	store *vault.Vault
	gate  *approval.Gate
	loops *loop.Driver
	agent types.AgentID
}

func newHarness(t *testing.T, fallback types.Skill) *testHarness {
	t.Helper()
	dir := t.TempDir()
	v := vault.New(dir)
	if err := v.EnsureStructure(); err != nil {
		t.Fatal(err)
	}
	log := audit.New(filepath.Join(dir, vault.BucketLogs))
	agent := types.AgentID("agent-test")

	claims := claim.NewManager(v, agent, log)
	plans := plan.NewGenerator(v, nil, log, agent, "")
	gate := approval.NewGate(v, log, agent)

	queue := recovery.NewQueue(v, log, agent)
	alerts := recovery.NewAlerter(v)
	quarantine := recovery.NewQuarantine(v, log, agent, alerts)
	policy := &recovery.BackoffPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	executor := recovery.NewExecutor(queue, quarantine, alerts, policy)
	health := recovery.NewHealthChecker(v, alerts)

	work := func(ctx context.Context, state *types.LoopState) (string, error) {
		if state.CurrentIteration >= 1 {
			return "<promise>" + state.CompletionPromise + "</promise>", nil
		}
		return "working", nil
	}
	loops := loop.NewDriver(v, gate, log, agent, work, 0)

	if fallback == nil {
		fallback = skill.Recorder{}
	}
	skills := skill.NewRegistry(fallback)

	orch := New(Deps{
		Store:      v,
		Claims:     claims,
		Plans:      plans,
		Gate:       gate,
		Loops:      loops,
		Skills:     skills,
		Executor:   executor,
		Quarantine: quarantine,
		Health:     health,
		Log:        log,
		Agent:      agent,
		Tick:       time.Second,
	})
	return &testHarness{orch: orch, store: v, gate: gate, loops: loops, agent: agent}
}

func (h *testHarness) putItem(t *testing.T, id string, itemType types.ItemType) {
	t.Helper()
	item := &types.WorkItem{ID: types.ItemID(id), Type: itemType, Source: "test", Priority: types.PriorityMedium}
	if err := h.store.Put(context.Background(), vault.BucketIncoming, id+".json", item); err != nil {
		t.Fatal(err)
	}
}

func TestNonSensitiveItemRunsToDone(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.putItem(t, "item-file", types.ItemFile)

	h.orch.Tick(ctx)

	if ok, _ := h.store.Exists(ctx, vault.BucketDone, "item-file.json"); !ok {
		t.Error("file item should execute straight to done")
	}
	plans, _ := h.store.List(ctx, vault.BucketPlans)
	if len(plans) != 1 {
		t.Errorf("expected 1 stored plan, got %d", len(plans))
	}
	pending, _ := h.store.List(ctx, vault.BucketPendingApproval)
	if len(pending) != 0 {
		t.Error("non-sensitive plan must not request approval")
	}
	// The claim record is gone after terminal disposition.
	if ok, _ := h.store.Exists(ctx, vault.InProgress(h.agent), "item-file.claim.json"); ok {
		t.Error("claim record survived completion")
	}
}

func TestSensitiveItemWaitsForApproval(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.putItem(t, "item-email", types.ItemEmail)

	h.orch.Tick(ctx)

	// Claimed and planned, but execution is gated.
	if ok, _ := h.store.Exists(ctx, vault.InProgress(h.agent), "item-email.json"); !ok {
		t.Fatal("item not claimed")
	}
	pending, err := h.gate.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(pending))
	}
	if ok, _ := h.store.Exists(ctx, vault.BucketDone, "item-email.json"); ok {
		t.Fatal("gated item executed without approval")
	}

	// More ticks change nothing while the human decides.
	h.orch.Tick(ctx)
	if ok, _ := h.store.Exists(ctx, vault.BucketDone, "item-email.json"); ok {
		t.Fatal("gated item executed without approval")
	}

	// Approval recorded: the next tick executes and retires the item.
	if err := h.gate.Decide(ctx, pending[0].ID, true, ""); err != nil {
		t.Fatal(err)
	}
	h.orch.Tick(ctx)
	if ok, _ := h.store.Exists(ctx, vault.BucketDone, "item-email.json"); !ok {
		t.Error("approved plan did not execute")
	}
	// The decided request retired to done and fires only once.
	if still, _ := h.gate.Pending(ctx); len(still) != 0 {
		t.Error("approval still pending after decision")
	}
}

func TestRejectionCancelsPlan(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.putItem(t, "item-email", types.ItemEmail)

	h.orch.Tick(ctx)
	pending, err := h.gate.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending=%v err=%v", pending, err)
	}
	if err := h.gate.Decide(ctx, pending[0].ID, false, "do not contact this sender"); err != nil {
		t.Fatal(err)
	}

	h.orch.Tick(ctx)
	if ok, _ := h.store.Exists(ctx, vault.BucketFailed, "item-email.json"); !ok {
		t.Error("rejected plan's item should retire to failed")
	}
	if ok, _ := h.store.Exists(ctx, vault.BucketDone, "item-email.json"); ok {
		t.Error("rejected plan must not execute")
	}
}

func TestMalformedIncomingQuarantined(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	raw := []byte("{broken json")
	path := filepath.Join(h.store.Root(), vault.BucketIncoming, "garbage.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	h.orch.Tick(ctx)

	if ok, _ := h.store.Exists(ctx, vault.BucketQuarantine, "garbage.json"); !ok {
		t.Error("malformed record not quarantined")
	}
	if ok, _ := h.store.Exists(ctx, vault.BucketIncoming, "garbage.json"); ok {
		t.Error("malformed record left in incoming")
	}
}

func TestFlakySkillLandsInRecoveryQueue(t *testing.T) {
	h := newHarness(t, &failOnce{failures: 10})
	ctx := context.Background()
	h.putItem(t, "item-file", types.ItemFile)

	h.orch.Tick(ctx)

	// Execution failed through all retries; the item stays claimed and the
	// operation is queued for recovery.
	if ok, _ := h.store.Exists(ctx, vault.InProgress(h.agent), "item-file.json"); !ok {
		t.Error("failed item must remain claimed")
	}
	queued, _ := h.store.List(ctx, vault.BucketRecoveryQueue)
	if len(queued) != 1 {
		t.Fatalf("expected 1 recovery entry, got %d", len(queued))
	}
}

func TestVanishedIncomingItemSkippedSilently(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	// The record disappeared between the incoming scan and the claim, as
	// when another agent wins the race. That is not an error and must not
	// quarantine anything.
	if err := h.orch.processIncoming(ctx, "ghost.json"); err != nil {
		t.Fatalf("lost claim race surfaced as error: %v", err)
	}
	quarantined, _ := h.store.List(ctx, vault.BucketQuarantine)
	if len(quarantined) != 0 {
		t.Errorf("lost race produced quarantine records: %v", quarantined)
	}
}

func TestRecordNameIndependentOfItemID(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	// Externally deposited records may be named anything; disposition must
	// follow the filename, not a name derived from the item id.
	item := &types.WorkItem{ID: "item-x", Type: types.ItemFile, Source: "external", Priority: types.PriorityLow}
	if err := h.store.Put(ctx, vault.BucketIncoming, "external-drop.json", item); err != nil {
		t.Fatal(err)
	}

	h.orch.Tick(ctx)

	if ok, _ := h.store.Exists(ctx, vault.BucketDone, "external-drop.json"); !ok {
		t.Error("item not retired under its own record name")
	}
	if ok, _ := h.store.Exists(ctx, vault.InProgress(h.agent), "external-drop.json"); ok {
		t.Error("item stranded in the claimant's bucket")
	}
}

func TestApprovalFlowWithForeignRecordName(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	item := &types.WorkItem{ID: "item-y", Type: types.ItemEmail, Source: "external", Priority: types.PriorityHigh}
	if err := h.store.Put(ctx, vault.BucketIncoming, "mail-import.json", item); err != nil {
		t.Fatal(err)
	}

	h.orch.Tick(ctx)
	pending, err := h.gate.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending=%v err=%v", pending, err)
	}
	if err := h.gate.Decide(ctx, pending[0].ID, true, ""); err != nil {
		t.Fatal(err)
	}

	h.orch.Tick(ctx)
	if ok, _ := h.store.Exists(ctx, vault.BucketDone, "mail-import.json"); !ok {
		t.Error("approved item not retired under its own record name")
	}
	if ok, _ := h.store.Exists(ctx, vault.InProgress(h.agent), "mail-import.json"); ok {
		t.Error("approved item stranded in the claimant's bucket")
	}
}

func TestLoopProgressesWithTicks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	state, err := h.loops.Start(ctx, loop.Options{
		Prompt:            "summarize inbox",
		MaxIterations:     5,
		CompletionPromise: "INBOX_DONE",
	})
	if err != nil {
		t.Fatal(err)
	}

	h.orch.Tick(ctx) // iteration 1
	h.orch.Tick(ctx) // iteration 2, emits the promise

	final, err := h.loops.Get(ctx, state.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != types.LoopCompleted {
		t.Errorf("expected completed loop, got %s", final.Status)
	}
	if final.CurrentIteration != 2 {
		t.Errorf("expected 2 iterations, got %d", final.CurrentIteration)
	}
}

func TestWriteStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.putItem(t, "item-1", types.ItemFile)

	if err := h.orch.WriteStatus(ctx); err != nil {
		t.Fatal(err)
	}
	var snapshot map[string]any
	if err := h.store.Get(ctx, vault.BucketStatus, "snapshot.json", &snapshot); err != nil {
		t.Fatal(err)
	}
	buckets, ok := snapshot["buckets"].(map[string]any)
	if !ok {
		t.Fatalf("snapshot missing buckets: %v", snapshot)
	}
	if buckets[vault.BucketIncoming] != float64(1) {
		t.Errorf("incoming count %v", buckets[vault.BucketIncoming])
	}
}
