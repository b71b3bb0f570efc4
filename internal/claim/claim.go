// internal/claim/claim.go
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// Manager transfers ownership of work items from the shared incoming bucket
// into this agent's private in-progress bucket.
//
// The protocol is optimistic: there is no cross-process lock. The manager
// validates the record, scans every other agent's in-progress bucket for a
// conflicting claim, and then commits by atomically moving the record. Two
// agents that both observe "unclaimed" before either moves can double-claim;
// the design accepts that window given replication and poll intervals.
type Manager struct {
	store types.Store
	agent types.AgentID
	log   *audit.Logger
}

// NewManager creates a claim Manager for the given agent.
func NewManager(store types.Store, agent types.AgentID, log *audit.Logger) *Manager {
	return &Manager{store: store, agent: agent, log: log}
}

// claimName returns the sibling claim-record name for an item record.
func claimName(itemName string) string {
	return strings.TrimSuffix(itemName, ".json") + ".claim.json"
}

// Claim validates the named record in the incoming bucket and, if no other
// agent owns it, atomically relocates it into this agent's in-progress bucket
// and writes a sibling claim record.
func (m *Manager) Claim(ctx context.Context, itemName string) (*types.ClaimRecord, error) {
	var item types.WorkItem
	if err := m.store.Get(ctx, vault.BucketIncoming, itemName, &item); err != nil {
		// A vanished record is a lost race, not a malformed one.
		if errors.Is(err, vault.ErrNotFound) {
			return nil, err
		}
		return nil, &ValidationError{Name: itemName, Reason: err.Error()}
	}
	if item.ID == "" {
		return nil, &ValidationError{Name: itemName, Reason: "empty item id"}
	}

	owner, err := m.findOwner(ctx, itemName, item.ID)
	if err != nil {
		return nil, &ClaimFailedError{Name: itemName, Err: err}
	}
	if owner != "" {
		return nil, &AlreadyClaimedError{ItemID: item.ID, Owner: owner}
	}

	own := vault.InProgress(m.agent)
	record := &types.ClaimRecord{
		AgentID:        m.agent,
		ItemID:         item.ID,
		ItemName:       itemName,
		SourceLocation: vault.BucketIncoming + "/" + itemName,
		ClaimedAt:      time.Now().UTC(),
	}

	// The rename is the commit point.
	if err := m.store.Move(ctx, vault.BucketIncoming, itemName, own); err != nil {
		return nil, &ClaimFailedError{Name: itemName, Err: err}
	}
	if err := m.store.Put(ctx, own, claimName(itemName), record); err != nil {
		// Undo the move so the claim is all-or-nothing.
		if mvErr := m.store.Move(ctx, own, itemName, vault.BucketIncoming); mvErr != nil {
			slog.Error("claim rollback failed", "item", itemName, "error", mvErr)
		}
		return nil, &ClaimFailedError{Name: itemName, Err: err}
	}

	m.log.Record(audit.Entry{
		Actor:  string(m.agent),
		Action: "claim",
		Target: string(item.ID),
		Result: "success",
		Params: map[string]any{"source": record.SourceLocation},
	})
	return record, nil
}

// findOwner scans every other agent's in-progress bucket for a record or
// claim carrying the same item id. Returns the owner's identity, or "" if
// the item is unclaimed.
func (m *Manager) findOwner(ctx context.Context, itemName string, itemID types.ItemID) (types.AgentID, error) {
	agents, err := m.store.Subbuckets(ctx, vault.BucketInProgress)
	if err != nil {
		return "", err
	}
	for _, agent := range agents {
		if agent == string(m.agent) {
			continue
		}
		bucket := vault.BucketInProgress + "/" + agent
		names, err := m.store.List(ctx, bucket)
		if err != nil {
			return "", err
		}
		for _, name := range names {
			if name == itemName {
				return types.AgentID(agent), nil
			}
			if !strings.HasSuffix(name, ".claim.json") {
				continue
			}
			var rec types.ClaimRecord
			if err := m.store.Get(ctx, bucket, name, &rec); err != nil {
				continue // unreadable claim records don't block other agents
			}
			if rec.ItemID == itemID {
				return types.AgentID(agent), nil
			}
		}
	}
	return "", nil
}

// Release disposes of a claimed item by moving it into a terminal bucket and
// deleting the sibling claim record. The claim record is removed only here,
// never during processing.
func (m *Manager) Release(ctx context.Context, itemName, terminalBucket string) error {
	own := vault.InProgress(m.agent)
	if err := m.store.Move(ctx, own, itemName, terminalBucket); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, own, claimName(itemName)); err != nil {
		slog.Warn("claim record cleanup failed", "item", itemName, "error", err)
	}
	m.log.Record(audit.Entry{
		Actor:  string(m.agent),
		Action: "release",
		Target: itemName,
		Result: "success",
		Params: map[string]any{"disposition": terminalBucket},
	})
	return nil
}

// NameFor returns the record name this agent claimed for the given item id.
// Record filenames need not match item ids, so lookups go through the claim
// records rather than reconstructing "<id>.json".
func (m *Manager) NameFor(ctx context.Context, itemID types.ItemID) (string, error) {
	own := vault.InProgress(m.agent)
	names, err := m.store.List(ctx, own)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if !strings.HasSuffix(name, ".claim.json") {
			continue
		}
		var rec types.ClaimRecord
		if err := m.store.Get(ctx, own, name, &rec); err != nil {
			continue
		}
		if rec.ItemID == itemID {
			if rec.ItemName != "" {
				return rec.ItemName, nil
			}
			return strings.TrimSuffix(name, ".claim.json") + ".json", nil
		}
	}
	return "", fmt.Errorf("no claim held for item %s: %w", itemID, vault.ErrNotFound)
}

// Owned returns the names of item records currently claimed by this agent,
// excluding claim sidecars.
func (m *Manager) Owned(ctx context.Context) ([]string, error) {
	names, err := m.store.List(ctx, vault.InProgress(m.agent))
	if err != nil {
		return nil, err
	}
	items := names[:0]
	for _, name := range names {
		if !strings.HasSuffix(name, ".claim.json") {
			items = append(items, name)
		}
	}
	return items, nil
}
