// internal/recovery/health.go
package recovery

import (
	"context"
	"time"

	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// HealthReport is a point-in-time functional snapshot. Checks observe and
// report; they never restart or repair anything themselves.
type HealthReport struct {
	Timestamp        time.Time         `json:"timestamp"`
	Healthy          bool              `json:"healthy"`
	StoreWritable    bool              `json:"store_writable"`
	QueueDepth       int               `json:"queue_depth"`
	QuarantineCount  int               `json:"quarantine_count"`
	ActiveLoops      int               `json:"active_loops"`
	PendingApprovals int               `json:"pending_approvals"`
	IncomingBacklog  int               `json:"incoming_backlog"`
	Problems         []string          `json:"problems,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// HealthChecker runs the periodic functional health check and persists the
// result to the status bucket.
type HealthChecker struct {
	store  types.Store
	alerts *Alerter
}

// NewHealthChecker creates a HealthChecker over the shared store.
func NewHealthChecker(store types.Store, alerts *Alerter) *HealthChecker {
	return &HealthChecker{store: store, alerts: alerts}
}

const healthRecord = "health.json"

// Check performs all checks, writes the report to status/health.json, and
// raises an alert when anything looks wrong.
func (h *HealthChecker) Check(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{
		Timestamp: time.Now().UTC(),
		Healthy:   true,
	}

	// Write probe: a store that cannot commit records takes everything down.
	probe := map[string]any{"probe": report.Timestamp}
	if err := h.store.Put(ctx, vault.BucketStatus, ".probe.json", probe); err != nil {
		report.StoreWritable = false
		report.Healthy = false
		report.Problems = append(report.Problems, "store not writable: "+err.Error())
	} else {
		report.StoreWritable = true
		_ = h.store.Delete(ctx, vault.BucketStatus, ".probe.json")
	}

	report.QueueDepth = h.count(ctx, vault.BucketRecoveryQueue)
	report.QuarantineCount = h.count(ctx, vault.BucketQuarantine)
	report.ActiveLoops = h.count(ctx, vault.BucketLoops)
	report.PendingApprovals = h.count(ctx, vault.BucketPendingApproval)
	report.IncomingBacklog = h.count(ctx, vault.BucketIncoming)

	if err := h.store.Put(ctx, vault.BucketStatus, healthRecord, report); err != nil {
		return report, err
	}
	if !report.Healthy && h.alerts != nil {
		for _, p := range report.Problems {
			h.alerts.Raise(ctx, "critical", "health check: "+p, "")
		}
	}
	return report, nil
}

// Latest returns the most recently persisted health report.
func (h *HealthChecker) Latest(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	if err := h.store.Get(ctx, vault.BucketStatus, healthRecord, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (h *HealthChecker) count(ctx context.Context, bucket string) int {
	names, err := h.store.List(ctx, bucket)
	if err != nil {
		return -1
	}
	return len(names)
}
