// internal/approval/gate.go
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// DecisionHandler is invoked once per decided request. Approvals trigger
// exactly the previously described plan step; rejections trigger a
// cancellation.
type DecisionHandler func(ctx context.Context, req *types.ApprovalRequest) error

// Gate creates human-review records and watches for externally recorded
// decisions. Humans decide by relocating a pending record into the approved
// or rejected bucket; the move itself is the decision.
type Gate struct {
	store types.Store
	log   *audit.Logger
	agent types.AgentID

	// Announce, when set, pushes newly created requests to the operator.
	Announce func(req *types.ApprovalRequest)
}

// NewGate creates an approval Gate.
func NewGate(store types.Store, log *audit.Logger, agent types.AgentID) *Gate {
	return &Gate{store: store, log: log, agent: agent}
}

func recordName(id types.ApprovalID) string {
	return string(id) + ".json"
}

// Request writes a pending approval record with full human-readable context.
func (g *Gate) Request(ctx context.Context, req *types.ApprovalRequest) (*types.ApprovalRequest, error) {
	if req.ID == "" {
		req.ID = types.NewApprovalID()
	}
	req.Status = types.ApprovalPending
	req.CreatedAt = time.Now().UTC()

	if err := g.store.Put(ctx, vault.BucketPendingApproval, recordName(req.ID), req); err != nil {
		return nil, fmt.Errorf("store approval request: %w", err)
	}

	g.log.Record(audit.Entry{
		Actor:      string(g.agent),
		Action:     "create_approval",
		Target:     string(req.ID),
		Result:     "success",
		ApprovalID: string(req.ID),
		Params: map[string]any{
			"category": req.Category,
			"plan_id":  string(req.PlanID),
			"item_id":  string(req.ItemID),
		},
	})
	if g.Announce != nil {
		g.Announce(req)
	}
	return req, nil
}

// Poll scans the approved and rejected buckets. Each decided record is a
// one-time event: the handler fires, the decision is audited, and the record
// moves to the done bucket so it can never re-trigger. Returns the decided
// requests.
func (g *Gate) Poll(ctx context.Context, onApproved, onRejected DecisionHandler) ([]*types.ApprovalRequest, error) {
	var decided []*types.ApprovalRequest

	approved, err := g.collect(ctx, vault.BucketApproved, types.ApprovalApproved, onApproved)
	if err != nil {
		return nil, err
	}
	decided = append(decided, approved...)

	rejected, err := g.collect(ctx, vault.BucketRejected, types.ApprovalRejected, onRejected)
	if err != nil {
		return nil, err
	}
	decided = append(decided, rejected...)

	return decided, nil
}

func (g *Gate) collect(ctx context.Context, bucket string, status types.ApprovalStatus, handler DecisionHandler) ([]*types.ApprovalRequest, error) {
	names, err := g.store.List(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", bucket, err)
	}

	var decided []*types.ApprovalRequest
	for _, name := range names {
		var req types.ApprovalRequest
		if err := g.store.Get(ctx, bucket, name, &req); err != nil {
			slog.Error("unreadable approval record", "bucket", bucket, "name", name, "error", err)
			continue
		}

		req.Status = status
		now := time.Now().UTC()
		req.DecidedAt = &now
		if status == types.ApprovalRejected && req.Rationale == "" {
			req.Rationale = "rejected by reviewer (no rationale recorded)"
		}

		result := "approved"
		action := "approval_decision"
		if status == types.ApprovalRejected {
			result = "rejected"
			action = "cancel_plan"
		}

		var handlerErr error
		if handler != nil {
			handlerErr = handler(ctx, &req)
		}

		entry := audit.Entry{
			Actor:      string(g.agent),
			Action:     action,
			Target:     string(req.ID),
			Result:     result,
			ApprovalID: string(req.ID),
			Params: map[string]any{
				"category":  req.Category,
				"plan_id":   string(req.PlanID),
				"rationale": req.Rationale,
			},
		}
		if handlerErr != nil {
			entry.Error = handlerErr.Error()
		}
		g.log.Record(entry)

		// Persist the final status before retiring the record.
		if err := g.store.Put(ctx, bucket, name, &req); err != nil {
			slog.Error("update approval record", "name", name, "error", err)
		}
		if err := g.store.Move(ctx, bucket, name, vault.BucketDone); err != nil {
			slog.Error("retire approval record", "name", name, "error", err)
			continue
		}
		decided = append(decided, &req)
	}
	return decided, nil
}

// HasPendingForLoop reports whether any pending request is tied to the loop.
func (g *Gate) HasPendingForLoop(ctx context.Context, loopID types.LoopID) (bool, error) {
	names, err := g.store.List(ctx, vault.BucketPendingApproval)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if strings.Contains(name, string(loopID)) {
			return true, nil
		}
		var req types.ApprovalRequest
		if err := g.store.Get(ctx, vault.BucketPendingApproval, name, &req); err != nil {
			continue
		}
		if req.LoopID == loopID {
			return true, nil
		}
	}
	return false, nil
}

// Pending returns all pending approval requests.
func (g *Gate) Pending(ctx context.Context) ([]*types.ApprovalRequest, error) {
	names, err := g.store.List(ctx, vault.BucketPendingApproval)
	if err != nil {
		return nil, err
	}
	var reqs []*types.ApprovalRequest
	for _, name := range names {
		var req types.ApprovalRequest
		if err := g.store.Get(ctx, vault.BucketPendingApproval, name, &req); err != nil {
			continue
		}
		reqs = append(reqs, &req)
	}
	return reqs, nil
}

// Decide relocates a pending request into the approved or rejected bucket on
// behalf of a human operator (the CLI surface of the review channel).
func (g *Gate) Decide(ctx context.Context, id types.ApprovalID, approve bool, rationale string) error {
	name := recordName(id)
	if approve {
		return g.store.Move(ctx, vault.BucketPendingApproval, name, vault.BucketApproved)
	}
	if rationale == "" {
		return fmt.Errorf("a rationale is required to reject %s", id)
	}
	var req types.ApprovalRequest
	if err := g.store.Get(ctx, vault.BucketPendingApproval, name, &req); err != nil {
		return err
	}
	req.Rationale = rationale
	if err := g.store.Put(ctx, vault.BucketPendingApproval, name, &req); err != nil {
		return err
	}
	return g.store.Move(ctx, vault.BucketPendingApproval, name, vault.BucketRejected)
}
