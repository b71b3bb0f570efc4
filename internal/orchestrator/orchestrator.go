// internal/orchestrator/orchestrator.go

// Package orchestrator runs the main polling loop: claim incoming work, plan
// it, gate sensitive plans on human approval, execute cleared plans through
// skills, progress autonomous loops, and drain the recovery queue. Every
// phase is bounded and fault-isolated; one bad record never stalls the tick.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/deskhand/internal/approval"
	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/claim"
	"github.com/user/deskhand/internal/loop"
	"github.com/user/deskhand/internal/notify"
	"github.com/user/deskhand/internal/plan"
	"github.com/user/deskhand/internal/recovery"
	"github.com/user/deskhand/internal/skill"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// phaseTimeout bounds each tick phase so a wedged phase cannot stall the
// whole loop indefinitely.
const phaseTimeout = 30 * time.Second

// Orchestrator drives the engine from a single goroutine; watchers feed it
// concurrently through the incoming bucket.
type Orchestrator struct {
	store      types.Store
	claims     *claim.Manager
	plans      *plan.Generator
	gate       *approval.Gate
	loops      *loop.Driver
	skills     *skill.Registry
	executor   *recovery.Executor
	quarantine *recovery.Quarantine
	health     *recovery.HealthChecker
	notifier   notify.Notifier
	log        *audit.Logger
	agent      types.AgentID
	tick       time.Duration

	watchers []types.Watcher
	sem      *semaphore.Weighted
}

// Deps bundles the collaborators an Orchestrator needs.
type Deps struct {
	Store      types.Store
	Claims     *claim.Manager
	Plans      *plan.Generator
	Gate       *approval.Gate
	Loops      *loop.Driver
	Skills     *skill.Registry
	Executor   *recovery.Executor
	Quarantine *recovery.Quarantine
	Health     *recovery.HealthChecker
	Notifier   notify.Notifier
	Log        *audit.Logger
	Agent      types.AgentID
	Tick       time.Duration
	MaxWatch   int
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	if d.Tick <= 0 {
		d.Tick = 5 * time.Second
	}
	if d.MaxWatch <= 0 {
		d.MaxWatch = 4
	}
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	return &Orchestrator{
		store:      d.Store,
		claims:     d.Claims,
		plans:      d.Plans,
		gate:       d.Gate,
		loops:      d.Loops,
		skills:     d.Skills,
		executor:   d.Executor,
		quarantine: d.Quarantine,
		health:     d.Health,
		notifier:   d.Notifier,
		log:        d.Log,
		agent:      d.Agent,
		tick:       d.Tick,
		sem:        semaphore.NewWeighted(int64(d.MaxWatch)),
	}
}

// AddWatcher registers a watcher to run alongside the poll loop.
func (o *Orchestrator) AddWatcher(w types.Watcher) {
	o.watchers = append(o.watchers, w)
}

// Run starts the watchers and ticks until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	for _, w := range o.watchers {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(w types.Watcher) {
			defer o.sem.Release(1)
			slog.Info("watcher started", "name", w.Name())
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("watcher stopped", "name", w.Name(), "error", err)
			}
		}(w)
	}

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()
	slog.Info("orchestrator running", "agent", string(o.agent), "tick", o.tick.String())
	for {
		o.Tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tick runs one full orchestration pass.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.phase(ctx, "incoming", o.scanIncoming)
	o.phase(ctx, "approvals", o.scanApprovals)
	o.phase(ctx, "loops", func(ctx context.Context) error {
		o.loops.TickAll(ctx)
		return nil
	})
	o.phase(ctx, "recovery", func(ctx context.Context) error {
		o.executor.Drain(ctx, o.recoveryHandlers())
		return nil
	})
}

func (o *Orchestrator) phase(ctx context.Context, name string, fn func(ctx context.Context) error) {
	pctx, cancel := context.WithTimeout(ctx, phaseTimeout)
	defer cancel()
	if err := fn(pctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("orchestrator phase failed", "phase", name, "error", err)
	}
}

// scanIncoming claims every unclaimed incoming item and pushes it through
// planning. Items another agent already owns are skipped silently.
func (o *Orchestrator) scanIncoming(ctx context.Context) error {
	names, err := o.store.List(ctx, vault.BucketIncoming)
	if err != nil {
		return fmt.Errorf("list incoming: %w", err)
	}
	for _, name := range names {
		if strings.HasSuffix(name, ".claim.json") {
			continue
		}
		if err := o.processIncoming(ctx, name); err != nil {
			slog.Error("process incoming item", "item", name, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) processIncoming(ctx context.Context, name string) error {
	_, err := o.claims.Claim(ctx, name)
	if err != nil {
		var already *claim.AlreadyClaimedError
		if errors.As(err, &already) {
			return nil
		}
		// Gone between the scan and the claim: another agent won the race.
		if errors.Is(err, vault.ErrNotFound) {
			return nil
		}
		var invalid *claim.ValidationError
		if errors.As(err, &invalid) {
			return o.quarantine.Isolate(ctx, vault.BucketIncoming, name, invalid.Reason)
		}
		return err
	}

	own := vault.InProgress(o.agent)
	var item types.WorkItem
	if err := o.store.Get(ctx, own, name, &item); err != nil {
		return fmt.Errorf("read claimed item: %w", err)
	}

	p, err := o.plans.Generate(ctx, &item)
	if err != nil {
		return o.fail(ctx, name, err)
	}

	if p.ApprovalRequired {
		req := &types.ApprovalRequest{
			PlanID:   p.ID,
			ItemID:   item.ID,
			Category: "plan_execution",
			Context:  planContext(&item, p),
		}
		if _, err := o.gate.Request(ctx, req); err != nil {
			return fmt.Errorf("request approval: %w", err)
		}
		o.notifier.ApprovalRequested(ctx, req)
		return nil
	}
	return o.executePlan(ctx, name, &item, p)
}

// planContext renders the what/why/risk summary a reviewer sees.
func planContext(item *types.WorkItem, p *types.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Item %s (%s) from %s, priority %s.\n", item.ID, item.Type, item.Source, item.Priority)
	fmt.Fprintf(&b, "Plan %s (%s mode):\n", p.ID, p.Mode)
	for i, s := range p.Steps {
		marker := ""
		if s.ApprovalRequired {
			marker = " [sensitive]"
		}
		fmt.Fprintf(&b, "  %d. %s%s\n", i+1, s.Description, marker)
	}
	if p.RiskNotes != "" {
		fmt.Fprintf(&b, "Risk: %s\n", p.RiskNotes)
	}
	return b.String()
}

// scanApprovals turns externally recorded decisions into actions: approved
// plans execute, rejected plans cancel with the item retired to failed.
func (o *Orchestrator) scanApprovals(ctx context.Context) error {
	_, err := o.gate.Poll(ctx,
		func(ctx context.Context, req *types.ApprovalRequest) error {
			return o.onApproved(ctx, req)
		},
		func(ctx context.Context, req *types.ApprovalRequest) error {
			return o.onRejected(ctx, req)
		},
	)
	return err
}

func (o *Orchestrator) onApproved(ctx context.Context, req *types.ApprovalRequest) error {
	if req.PlanID == "" {
		return nil // loop approvals resume via the loop driver's own check
	}
	var p types.Plan
	if err := o.store.Get(ctx, vault.BucketPlans, string(req.PlanID)+".json", &p); err != nil {
		return fmt.Errorf("load approved plan: %w", err)
	}
	name, err := o.claims.NameFor(ctx, p.ItemID)
	if err != nil {
		return fmt.Errorf("locate claimed record for approved plan: %w", err)
	}
	var item types.WorkItem
	if err := o.store.Get(ctx, vault.InProgress(o.agent), name, &item); err != nil {
		return fmt.Errorf("load item for approved plan: %w", err)
	}
	return o.executePlan(ctx, name, &item, &p)
}

func (o *Orchestrator) onRejected(ctx context.Context, req *types.ApprovalRequest) error {
	if req.ItemID == "" {
		return nil
	}
	name, err := o.claims.NameFor(ctx, req.ItemID)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil
		}
		return err
	}
	return o.claims.Release(ctx, name, vault.BucketFailed)
}

// executePlan runs every step under recovery supervision and retires the
// item on success. name is the claimed record's filename, which need not
// match the item id. A failure hands the plan to the resilience layer; the
// item stays claimed until the retry path resolves it.
func (o *Orchestrator) executePlan(ctx context.Context, name string, item *types.WorkItem, p *types.Plan) error {
	start := time.Now()
	err := o.executor.Run(ctx, recovery.Operation{
		Action: "execute_plan",
		Target: string(p.ID),
		Bucket: vault.BucketPlans,
		Name:   string(p.ID) + ".json",
		Fn: func(ctx context.Context) error {
			return o.runSteps(ctx, item, p)
		},
	})

	entry := audit.Entry{
		Actor:      string(o.agent),
		Action:     "execute_plan",
		Target:     string(p.ID),
		Result:     "success",
		DurationMS: time.Since(start).Milliseconds(),
		Params:     map[string]any{"item_id": string(item.ID), "steps": len(p.Steps)},
	}
	if err != nil {
		entry.Result = "failure"
		entry.Error = err.Error()
	}
	o.log.Record(entry)

	if err != nil {
		return err
	}
	return o.claims.Release(ctx, name, vault.BucketDone)
}

func (o *Orchestrator) runSteps(ctx context.Context, item *types.WorkItem, p *types.Plan) error {
	for i, step := range p.Steps {
		result, err := o.skills.Execute(ctx, item, step)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Description, err)
		}
		slog.Debug("step executed",
			"item", string(item.ID), "step", i+1, "output", result.Output, "artifact", result.ArtifactPath)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, name string, cause error) error {
	if err := o.claims.Release(ctx, name, vault.BucketFailed); err != nil {
		return err
	}
	return cause
}

// recoveryHandlers maps queued actions back to retryable operations.
func (o *Orchestrator) recoveryHandlers() map[string]func(ctx context.Context, entry *types.RecoveryEntry) error {
	return map[string]func(ctx context.Context, entry *types.RecoveryEntry) error{
		"execute_plan": func(ctx context.Context, entry *types.RecoveryEntry) error {
			var p types.Plan
			if err := o.store.Get(ctx, vault.BucketPlans, entry.Target+".json", &p); err != nil {
				return err
			}
			name, err := o.claims.NameFor(ctx, p.ItemID)
			if err != nil {
				return err
			}
			var item types.WorkItem
			if err := o.store.Get(ctx, vault.InProgress(o.agent), name, &item); err != nil {
				return err
			}
			if err := o.runSteps(ctx, &item, &p); err != nil {
				return err
			}
			return o.claims.Release(ctx, name, vault.BucketDone)
		},
	}
}

// WriteStatus persists a point-in-time bucket census to status/snapshot.json.
func (o *Orchestrator) WriteStatus(ctx context.Context) error {
	snapshot := map[string]any{"timestamp": time.Now().UTC(), "agent": string(o.agent)}
	counts := map[string]int{}
	for _, bucket := range []string{
		vault.BucketIncoming, vault.InProgress(o.agent), vault.BucketPlans,
		vault.BucketPendingApproval, vault.BucketLoops, vault.BucketRecoveryQueue,
		vault.BucketQuarantine, vault.BucketEscalations, vault.BucketDone, vault.BucketFailed,
	} {
		names, err := o.store.List(ctx, bucket)
		if err != nil {
			continue
		}
		counts[bucket] = len(names)
	}
	snapshot["buckets"] = counts
	return o.store.Put(ctx, vault.BucketStatus, "snapshot.json", snapshot)
}
