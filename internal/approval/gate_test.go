// internal/approval/gate_test.go
package approval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

func newTestGate(t *testing.T) (*Gate, *vault.Vault) {
	t.Helper()
	dir := t.TempDir()
	v := vault.New(dir)
	if err := v.EnsureStructure(); err != nil {
		t.Fatal(err)
	}
	log := audit.New(filepath.Join(dir, vault.BucketLogs))
	return NewGate(v, log, "agent-test"), v
}

func TestRequestWritesPendingRecord(t *testing.T) {
	g, v := newTestGate(t)
	ctx := context.Background()

	req, err := g.Request(ctx, &types.ApprovalRequest{
		PlanID:   "plan-1",
		ItemID:   "item-1",
		Category: "plan_execution",
		Context:  "send a reply",
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.ID == "" || req.Status != types.ApprovalPending {
		t.Errorf("unexpected request: %+v", req)
	}
	if ok, _ := v.Exists(ctx, vault.BucketPendingApproval, string(req.ID)+".json"); !ok {
		t.Error("pending record not written")
	}
}

func TestDecideApproveRelocates(t *testing.T) {
	g, v := newTestGate(t)
	ctx := context.Background()

	req, err := g.Request(ctx, &types.ApprovalRequest{Category: "plan_execution"})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Decide(ctx, req.ID, true, ""); err != nil {
		t.Fatal(err)
	}

	name := string(req.ID) + ".json"
	if ok, _ := v.Exists(ctx, vault.BucketPendingApproval, name); ok {
		t.Error("record still pending after decision")
	}
	if ok, _ := v.Exists(ctx, vault.BucketApproved, name); !ok {
		t.Error("record not in approved bucket")
	}
}

func TestRejectRequiresRationale(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	req, err := g.Request(ctx, &types.ApprovalRequest{Category: "plan_execution"})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Decide(ctx, req.ID, false, ""); err == nil {
		t.Error("rejection without rationale must fail")
	}
	if err := g.Decide(ctx, req.ID, false, "too risky"); err != nil {
		t.Fatal(err)
	}
}

func TestPollFiresDecisionsExactlyOnce(t *testing.T) {
	g, v := newTestGate(t)
	ctx := context.Background()

	approved, err := g.Request(ctx, &types.ApprovalRequest{Category: "plan_execution"})
	if err != nil {
		t.Fatal(err)
	}
	rejected, err := g.Request(ctx, &types.ApprovalRequest{Category: "plan_execution"})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Decide(ctx, approved.ID, true, ""); err != nil {
		t.Fatal(err)
	}
	if err := g.Decide(ctx, rejected.ID, false, "not now"); err != nil {
		t.Fatal(err)
	}

	var approvals, rejections int
	onApproved := func(ctx context.Context, req *types.ApprovalRequest) error {
		approvals++
		if req.Status != types.ApprovalApproved || req.DecidedAt == nil {
			t.Errorf("bad approved request: %+v", req)
		}
		return nil
	}
	onRejected := func(ctx context.Context, req *types.ApprovalRequest) error {
		rejections++
		if req.Rationale != "not now" {
			t.Errorf("rationale lost: %+v", req)
		}
		return nil
	}

	decided, err := g.Poll(ctx, onApproved, onRejected)
	if err != nil {
		t.Fatal(err)
	}
	if len(decided) != 2 || approvals != 1 || rejections != 1 {
		t.Fatalf("decided=%d approvals=%d rejections=%d", len(decided), approvals, rejections)
	}

	// Decided records retire to done and never fire again.
	if ok, _ := v.Exists(ctx, vault.BucketDone, string(approved.ID)+".json"); !ok {
		t.Error("approved record not retired to done")
	}
	decided, err = g.Poll(ctx, onApproved, onRejected)
	if err != nil {
		t.Fatal(err)
	}
	if len(decided) != 0 || approvals != 1 || rejections != 1 {
		t.Error("decision fired more than once")
	}
}

func TestPollDefaultRejectionRationale(t *testing.T) {
	g, v := newTestGate(t)
	ctx := context.Background()

	req, err := g.Request(ctx, &types.ApprovalRequest{Category: "plan_execution"})
	if err != nil {
		t.Fatal(err)
	}
	// Simulate an external reviewer relocating the record by hand, with no
	// rationale recorded.
	if err := v.Move(ctx, vault.BucketPendingApproval, string(req.ID)+".json", vault.BucketRejected); err != nil {
		t.Fatal(err)
	}

	decided, err := g.Poll(ctx, nil, func(ctx context.Context, r *types.ApprovalRequest) error {
		if r.Rationale == "" {
			t.Error("rejection must carry a rationale")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(decided) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decided))
	}
}

func TestHasPendingForLoop(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	if _, err := g.Request(ctx, &types.ApprovalRequest{LoopID: "loop-1", Category: "loop_action"}); err != nil {
		t.Fatal(err)
	}

	pending, err := g.HasPendingForLoop(ctx, "loop-1")
	if err != nil {
		t.Fatal(err)
	}
	if !pending {
		t.Error("expected pending approval for loop-1")
	}
	pending, err = g.HasPendingForLoop(ctx, "loop-2")
	if err != nil {
		t.Fatal(err)
	}
	if pending {
		t.Error("loop-2 has no pending approval")
	}
}
