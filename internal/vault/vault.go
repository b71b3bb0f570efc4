// internal/vault/vault.go
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/deskhand/internal/types"
)

// Bucket names. Directory membership is the canonical lifecycle state of a
// record; moving a record between buckets is the only state transition.
const (
	BucketIncoming        = "incoming"
	BucketInProgress      = "in_progress"
	BucketPlans           = "plans"
	BucketPendingApproval = "pending_approval"
	BucketApproved        = "approved"
	BucketRejected        = "rejected"
	BucketLoops           = "loops"
	BucketLoopHistory     = "loop_history"
	BucketRecoveryQueue   = "recovery_queue"
	BucketQuarantine      = "quarantine"
	BucketEscalations     = "escalations"
	BucketAlerts          = "alerts"
	BucketDone            = "done"
	BucketFailed          = "failed"
	BucketStatus          = "status"
	BucketLogs            = "logs"
)

// ErrNotFound is returned when a record does not exist in the given bucket.
var ErrNotFound = errors.New("record not found")

// InProgress returns the agent-private in-progress bucket for the given agent.
func InProgress(agent types.AgentID) string {
	return BucketInProgress + "/" + string(agent)
}

// Vault is a hierarchical, named-bucket record store rooted at a directory.
// One JSON file per record; renames within the vault are atomic, which makes
// Move the commit point for every state transition.
type Vault struct {
	root string
	mu   sync.RWMutex
}

// New creates a Vault rooted at the given directory.
func New(root string) *Vault {
	return &Vault{root: root}
}

// Root returns the vault's root directory.
func (v *Vault) Root() string {
	return v.root
}

// EnsureStructure creates all standard buckets.
func (v *Vault) EnsureStructure() error {
	buckets := []string{
		BucketIncoming, BucketInProgress, BucketPlans, BucketPendingApproval,
		BucketApproved, BucketRejected, BucketLoops, BucketLoopHistory,
		BucketRecoveryQueue, BucketQuarantine, BucketEscalations, BucketAlerts,
		BucketDone, BucketFailed, BucketStatus, BucketLogs,
	}
	for _, b := range buckets {
		if err := os.MkdirAll(filepath.Join(v.root, b), 0o755); err != nil {
			return fmt.Errorf("create bucket %s: %w", b, err)
		}
	}
	return nil
}

func (v *Vault) recordPath(bucket, name string) string {
	return filepath.Join(v.root, filepath.FromSlash(bucket), name)
}

// Put writes a record into a bucket using atomic write (temp file + rename).
func (v *Vault) Put(ctx context.Context, bucket, name string, record any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	dir := filepath.Join(v.root, filepath.FromSlash(bucket))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	path := v.recordPath(bucket, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// Get reads a record from a bucket and unmarshals it into out. Malformed
// records are rejected with an error; callers treat that as a data failure.
func (v *Vault) Get(ctx context.Context, bucket, name string, out any) error {
	data, err := v.GetRaw(ctx, bucket, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal record %s/%s: %w", bucket, name, err)
	}
	return nil
}

// GetRaw reads a record's raw bytes from a bucket.
func (v *Vault) GetRaw(ctx context.Context, bucket, name string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	data, err := os.ReadFile(v.recordPath(bucket, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, name, ErrNotFound)
		}
		return nil, fmt.Errorf("read record %s/%s: %w", bucket, name, err)
	}
	return data, nil
}

// List returns the sorted names of all records in a bucket. A missing bucket
// yields an empty list.
func (v *Vault) List(ctx context.Context, bucket string) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(v.root, filepath.FromSlash(bucket)))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list bucket %s: %w", bucket, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Subbuckets returns the sorted names of sub-buckets (directories) under a
// bucket, e.g. the per-agent partitions under in_progress.
func (v *Vault) Subbuckets(ctx context.Context, bucket string) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(v.root, filepath.FromSlash(bucket)))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list bucket %s: %w", bucket, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Move atomically relocates a record between buckets. The rename is
// all-or-nothing: on failure the record remains in its source bucket.
func (v *Vault) Move(ctx context.Context, fromBucket, name, toBucket string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	dest := filepath.Join(v.root, filepath.FromSlash(toBucket))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create bucket %s: %w", toBucket, err)
	}

	src := v.recordPath(fromBucket, name)
	if err := os.Rename(src, filepath.Join(dest, name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s/%s: %w", fromBucket, name, ErrNotFound)
		}
		return fmt.Errorf("move %s from %s to %s: %w", name, fromBucket, toBucket, err)
	}
	return nil
}

// Delete removes a record from a bucket.
func (v *Vault) Delete(ctx context.Context, bucket, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.Remove(v.recordPath(bucket, name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s/%s: %w", bucket, name, ErrNotFound)
		}
		return fmt.Errorf("delete record %s/%s: %w", bucket, name, err)
	}
	return nil
}

// Exists reports whether a record is present in a bucket.
func (v *Vault) Exists(ctx context.Context, bucket, name string) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	_, err := os.Stat(v.recordPath(bucket, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat record %s/%s: %w", bucket, name, err)
}
