// internal/recovery/quarantine.go
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// QuarantineMeta describes why and from where a record was isolated.
type QuarantineMeta struct {
	OriginalLocation string    `json:"original_location"`
	Reason           string    `json:"reason"`
	Size             int       `json:"size"`
	QuarantinedAt    time.Time `json:"quarantined_at"`
}

// Quarantine isolates records that fail validation or parsing so they can
// never re-enter processing, preserving the original bytes for inspection.
type Quarantine struct {
	store  types.Store
	log    *audit.Logger
	agent  types.AgentID
	alerts *Alerter
}

// NewQuarantine creates a Quarantine over the shared store.
func NewQuarantine(store types.Store, log *audit.Logger, agent types.AgentID, alerts *Alerter) *Quarantine {
	return &Quarantine{store: store, log: log, agent: agent, alerts: alerts}
}

// Isolate moves a record from its bucket into quarantine, writes a metadata
// sidecar next to it, and raises an alert. The original bytes are untouched.
func (q *Quarantine) Isolate(ctx context.Context, bucket, name, reason string) error {
	raw, err := q.store.GetRaw(ctx, bucket, name)
	if err != nil {
		return fmt.Errorf("read record for quarantine: %w", err)
	}

	if err := q.store.Move(ctx, bucket, name, vault.BucketQuarantine); err != nil {
		return fmt.Errorf("quarantine %s/%s: %w", bucket, name, err)
	}

	meta := &QuarantineMeta{
		OriginalLocation: bucket + "/" + name,
		Reason:           reason,
		Size:             len(raw),
		QuarantinedAt:    time.Now().UTC(),
	}
	if err := q.store.Put(ctx, vault.BucketQuarantine, name+".meta.json", meta); err != nil {
		return fmt.Errorf("write quarantine metadata: %w", err)
	}

	q.log.Record(audit.Entry{
		Actor:  string(q.agent),
		Action: "quarantine",
		Target: name,
		Result: "isolated",
		Params: map[string]any{"original_location": meta.OriginalLocation, "reason": reason},
	})
	if q.alerts != nil {
		q.alerts.Raise(ctx, "warning", "record quarantined: "+reason, name)
	}
	return nil
}

// List returns the names of quarantined records, excluding metadata sidecars.
func (q *Quarantine) List(ctx context.Context) ([]string, error) {
	names, err := q.store.List(ctx, vault.BucketQuarantine)
	if err != nil {
		return nil, err
	}
	records := names[:0]
	for _, name := range names {
		if len(name) > len(".meta.json") && name[len(name)-len(".meta.json"):] == ".meta.json" {
			continue
		}
		records = append(records, name)
	}
	return records, nil
}

// Meta returns the metadata sidecar for a quarantined record.
func (q *Quarantine) Meta(ctx context.Context, name string) (*QuarantineMeta, error) {
	var meta QuarantineMeta
	if err := q.store.Get(ctx, vault.BucketQuarantine, name+".meta.json", &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
