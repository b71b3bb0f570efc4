// internal/recovery/alerts.go
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// Alerter writes operator alerts into the alerts bucket and optionally
// pushes them through a notifier hook. Alert writes are best-effort.
type Alerter struct {
	store types.Store

	// Notify, when set, pushes the alert to an external channel.
	Notify func(ctx context.Context, alert *types.Alert)
}

// NewAlerter creates an Alerter over the shared store.
func NewAlerter(store types.Store) *Alerter {
	return &Alerter{store: store}
}

// Raise records an alert. Failures are logged, never propagated: an alert
// must not break the operation that raised it.
func (a *Alerter) Raise(ctx context.Context, severity, message, target string) {
	alert := &types.Alert{
		Severity:  severity,
		Message:   message,
		Target:    target,
		CreatedAt: time.Now().UTC(),
	}
	name := alert.CreatedAt.Format("20060102T150405.000000000") + ".json"
	if err := a.store.Put(ctx, vault.BucketAlerts, name, alert); err != nil {
		slog.Warn("alert write failed", "message", message, "error", err)
	}
	if a.Notify != nil {
		a.Notify(ctx, alert)
	}
}
