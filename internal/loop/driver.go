// internal/loop/driver.go
package loop

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

// previewLimit caps the stored output preview per iteration.
const previewLimit = 500

// historyLimit caps the rolling per-iteration history kept in the state.
const historyLimit = 50

// escalationTail is how many trailing iterations an escalation includes.
const escalationTail = 5

// WorkFn performs one bounded unit of work for a loop and returns its
// output. The driver never interrupts an in-flight unit.
type WorkFn func(ctx context.Context, state *types.LoopState) (string, error)

// ApprovalChecker reports whether a loop has an undecided approval request.
type ApprovalChecker interface {
	HasPendingForLoop(ctx context.Context, loopID types.LoopID) (bool, error)
}

// Driver runs bounded autonomous loops: repeated attempts to drive a task to
// completion, suspending on pending approvals and escalating to a human when
// the iteration budget runs out.
type Driver struct {
	store     types.Store
	approvals ApprovalChecker
	log       *audit.Logger
	agent     types.AgentID
	work      WorkFn
	pause     time.Duration
}

// NewDriver creates a loop Driver. pause is the fixed cadence between
// iterations when running a loop to termination.
func NewDriver(store types.Store, approvals ApprovalChecker, log *audit.Logger, agent types.AgentID, work WorkFn, pause time.Duration) *Driver {
	return &Driver{
		store:     store,
		approvals: approvals,
		log:       log,
		agent:     agent,
		work:      work,
		pause:     pause,
	}
}

// Options configures a new loop.
type Options struct {
	ItemID            types.ItemID
	Prompt            string
	MaxIterations     int
	CompletionPromise string
	WatchArtifact     string
	DoneBucket        string
}

func stateName(id types.LoopID) string {
	return string(id) + ".json"
}

// Start creates a new loop state in the loops bucket.
func (d *Driver) Start(ctx context.Context, opts Options) (*types.LoopState, error) {
	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive")
	}
	if opts.CompletionPromise == "" && opts.WatchArtifact == "" {
		return nil, fmt.Errorf("a completion promise or watched artifact is required")
	}
	state := &types.LoopState{
		ID:                types.NewLoopID(),
		ItemID:            opts.ItemID,
		Prompt:            opts.Prompt,
		MaxIterations:     opts.MaxIterations,
		CompletionPromise: opts.CompletionPromise,
		WatchArtifact:     opts.WatchArtifact,
		DoneBucket:        opts.DoneBucket,
		Status:            types.LoopPending,
		StartedAt:         time.Now().UTC(),
	}
	if state.WatchArtifact != "" && state.DoneBucket == "" {
		state.DoneBucket = vault.BucketDone
	}
	if err := d.store.Put(ctx, vault.BucketLoops, stateName(state.ID), state); err != nil {
		return nil, fmt.Errorf("store loop state: %w", err)
	}
	d.log.Record(audit.Entry{
		Actor:  string(d.agent),
		Action: "loop_start",
		Target: string(state.ID),
		Result: "success",
		Params: map[string]any{"max_iterations": state.MaxIterations},
	})
	return state, nil
}

// Iterate progresses one loop by at most one iteration. State is persisted
// after every iteration so a crash mid-loop loses at most one iteration.
func (d *Driver) Iterate(ctx context.Context, name string) (*types.LoopState, error) {
	var state types.LoopState
	if err := d.store.Get(ctx, vault.BucketLoops, name, &state); err != nil {
		return nil, err
	}
	if isTerminal(state.Status) {
		return &state, nil
	}

	// A pending approval suspends the loop without consuming an iteration.
	if d.approvals != nil {
		pending, err := d.approvals.HasPendingForLoop(ctx, state.ID)
		if err != nil {
			return nil, fmt.Errorf("check approvals for %s: %w", state.ID, err)
		}
		if pending {
			if state.Status != types.LoopPausedForApproval {
				state.Status = types.LoopPausedForApproval
				if err := d.store.Put(ctx, vault.BucketLoops, name, &state); err != nil {
					return nil, err
				}
				d.log.Record(audit.Entry{
					Actor:  string(d.agent),
					Action: "loop_pause",
					Target: string(state.ID),
					Result: "awaiting_approval",
					Params: map[string]any{"iteration": state.CurrentIteration},
				})
			}
			return &state, nil
		}
	}

	state.Status = types.LoopRunning

	output, err := d.work(ctx, &state)
	if err != nil {
		output = "ERROR: " + err.Error()
	}

	state.CurrentIteration++
	completed := d.isComplete(ctx, &state, output)

	preview := output
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	state.Iterations = append(state.Iterations, types.LoopIteration{
		Number:        state.CurrentIteration,
		Timestamp:     time.Now().UTC(),
		OutputPreview: preview,
		Completed:     completed,
	})
	if len(state.Iterations) > historyLimit {
		state.Iterations = state.Iterations[len(state.Iterations)-historyLimit:]
	}

	switch {
	case completed:
		now := time.Now().UTC()
		state.Status = types.LoopCompleted
		state.CompletedAt = &now
	case state.CurrentIteration >= state.MaxIterations:
		state.Status = types.LoopMaxIterationsReached
	}

	if err := d.store.Put(ctx, vault.BucketLoops, name, &state); err != nil {
		return nil, fmt.Errorf("persist loop state: %w", err)
	}

	if isTerminal(state.Status) {
		if err := d.finalize(ctx, name, &state); err != nil {
			return &state, err
		}
	}
	return &state, nil
}

// Run drives a loop until it reaches a terminal status, pausing a fixed
// interval between iterations. Pausing for approval also returns control.
func (d *Driver) Run(ctx context.Context, name string) (*types.LoopState, error) {
	for {
		state, err := d.Iterate(ctx, name)
		if err != nil {
			return state, err
		}
		if isTerminal(state.Status) || state.Status == types.LoopPausedForApproval {
			return state, nil
		}
		select {
		case <-time.After(d.pause):
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// TickAll progresses every active loop by one iteration. Individual loop
// failures are logged and do not stop the others.
func (d *Driver) TickAll(ctx context.Context) {
	names, err := d.store.List(ctx, vault.BucketLoops)
	if err != nil {
		slog.Error("list loops", "error", err)
		return
	}
	for _, name := range names {
		if _, err := d.Iterate(ctx, name); err != nil {
			slog.Error("loop iteration failed", "loop", name, "error", err)
		}
	}
}

// Stop manually terminates a loop.
func (d *Driver) Stop(ctx context.Context, id types.LoopID) error {
	name := stateName(id)
	var state types.LoopState
	if err := d.store.Get(ctx, vault.BucketLoops, name, &state); err != nil {
		return err
	}
	if isTerminal(state.Status) {
		return fmt.Errorf("loop %s already terminal (%s)", id, state.Status)
	}
	now := time.Now().UTC()
	state.Status = types.LoopStopped
	state.CompletedAt = &now
	if err := d.store.Put(ctx, vault.BucketLoops, name, &state); err != nil {
		return err
	}
	return d.finalize(ctx, name, &state)
}

// Get returns a loop state by id, looking in the active bucket first and
// the history bucket second.
func (d *Driver) Get(ctx context.Context, id types.LoopID) (*types.LoopState, error) {
	name := stateName(id)
	var state types.LoopState
	if err := d.store.Get(ctx, vault.BucketLoops, name, &state); err == nil {
		return &state, nil
	}
	if err := d.store.Get(ctx, vault.BucketLoopHistory, name, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// finalize moves a terminal loop to history and, on iteration exhaustion,
// writes exactly one escalation record for human disposition.
func (d *Driver) finalize(ctx context.Context, name string, state *types.LoopState) error {
	if state.Status == types.LoopMaxIterationsReached {
		tail := state.Iterations
		if len(tail) > escalationTail {
			tail = tail[len(tail)-escalationTail:]
		}
		esc := &types.Escalation{
			LoopID:     state.ID,
			ItemID:     state.ItemID,
			Prompt:     state.Prompt,
			Reason:     fmt.Sprintf("loop reached max iterations (%d) without completing", state.MaxIterations),
			Iterations: tail,
			CreatedAt:  time.Now().UTC(),
		}
		if err := d.store.Put(ctx, vault.BucketEscalations, string(state.ID)+".escalation.json", esc); err != nil {
			slog.Error("write escalation", "loop", state.ID, "error", err)
		}
	}

	d.log.Record(audit.Entry{
		Actor:  string(d.agent),
		Action: "loop_" + string(state.Status),
		Target: string(state.ID),
		Result: string(state.Status),
		Params: map[string]any{"iterations": state.CurrentIteration},
	})
	return d.store.Move(ctx, vault.BucketLoops, name, vault.BucketLoopHistory)
}

// isComplete checks the two completion signals: a promise token in the
// iteration output, or the watched artifact relocated to the done bucket.
// Only presence in the done bucket counts; an artifact moved anywhere else
// (quarantine, failed) is not completion.
func (d *Driver) isComplete(ctx context.Context, state *types.LoopState, output string) bool {
	if state.CompletionPromise != "" {
		tagged := "<promise>" + state.CompletionPromise + "</promise>"
		if strings.Contains(output, tagged) || strings.Contains(output, state.CompletionPromise) {
			return true
		}
	}
	if state.WatchArtifact != "" {
		if ok, err := d.store.Exists(ctx, state.DoneBucket, state.WatchArtifact); err == nil && ok {
			return true
		}
	}
	return false
}

func isTerminal(status types.LoopStatus) bool {
	switch status {
	case types.LoopCompleted, types.LoopMaxIterationsReached, types.LoopStopped:
		return true
	}
	return false
}
