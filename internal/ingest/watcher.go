// internal/ingest/watcher.go
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/recovery"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// DropWatcher polls a drop folder for markdown work items. Processed files
// move to a processed/ subfolder and malformed files to rejected/, so a file
// is considered at most once.
type DropWatcher struct {
	store    types.Store
	log      *audit.Logger
	alerts   *recovery.Alerter
	agent    types.AgentID
	dir      string
	interval time.Duration
}

// NewDropWatcher creates a drop-folder watcher over dir.
func NewDropWatcher(store types.Store, log *audit.Logger, alerts *recovery.Alerter, agent types.AgentID, dir string, interval time.Duration) *DropWatcher {
	return &DropWatcher{
		store:    store,
		log:      log,
		alerts:   alerts,
		agent:    agent,
		dir:      dir,
		interval: interval,
	}
}

// Name implements types.Watcher.
func (w *DropWatcher) Name() string { return "drop_folder" }

// Run polls until the context is cancelled.
func (w *DropWatcher) Run(ctx context.Context) error {
	if w.dir == "" {
		return nil
	}
	for _, sub := range []string{"processed", "rejected"} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create drop subfolder %s: %w", sub, err)
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.Sweep(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sweep processes every markdown file currently in the drop folder.
func (w *DropWatcher) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Error("read drop folder", "dir", w.dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		if err := w.processFile(ctx, e.Name()); err != nil {
			slog.Error("process drop file", "file", e.Name(), "error", err)
		}
	}
}

func (w *DropWatcher) processFile(ctx context.Context, name string) error {
	path := filepath.Join(w.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	item, err := ParseMarkdownItem(data)
	if err != nil {
		w.reject(ctx, name, path, err)
		return nil
	}
	if item.Type == types.ItemEmail {
		item.Body = NormalizeBody(item.Body)
	}

	recordName := string(item.ID) + ".json"
	if ok, _ := w.store.Exists(ctx, vault.BucketIncoming, recordName); ok {
		// Duplicate delivery; keep the first record.
		return os.Rename(path, filepath.Join(w.dir, "processed", name))
	}
	if err := w.store.Put(ctx, vault.BucketIncoming, recordName, item); err != nil {
		return fmt.Errorf("store incoming item: %w", err)
	}

	w.log.Record(audit.Entry{
		Actor:  string(w.agent),
		Action: "ingest_item",
		Target: string(item.ID),
		Result: "success",
		Params: map[string]any{"watcher": w.Name(), "type": string(item.Type), "file": name},
	})
	return os.Rename(path, filepath.Join(w.dir, "processed", name))
}

// reject moves a malformed file aside and records why. Malformed input never
// re-enters the poll cycle.
func (w *DropWatcher) reject(ctx context.Context, name, path string, cause error) {
	if err := os.Rename(path, filepath.Join(w.dir, "rejected", name)); err != nil {
		slog.Error("move rejected drop file", "file", name, "error", err)
	}
	meta := map[string]any{
		"original_location": path,
		"reason":            cause.Error(),
		"quarantined_at":    time.Now().UTC(),
	}
	if err := w.store.Put(ctx, vault.BucketQuarantine, name+".meta.json", meta); err != nil {
		slog.Warn("write quarantine metadata", "file", name, "error", err)
	}
	if w.alerts != nil {
		w.alerts.Raise(ctx, "warning", "malformed drop file rejected: "+cause.Error(), name)
	}
	w.log.Record(audit.Entry{
		Actor:  string(w.agent),
		Action: "ingest_reject",
		Target: name,
		Result: "rejected",
		Error:  cause.Error(),
	})
}
