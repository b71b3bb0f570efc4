// internal/notify/notify.go

// Package notify pushes operator-facing events (approval requests, alerts,
// escalations) to an external channel. Sends are best-effort: a failed
// notification never aborts the operation that produced it.
package notify

import (
	"context"

	"github.com/user/deskhand/internal/types"
)

// Notifier delivers operator notifications.
type Notifier interface {
	ApprovalRequested(ctx context.Context, req *types.ApprovalRequest)
	Alert(ctx context.Context, alert *types.Alert)
	Escalation(ctx context.Context, esc *types.Escalation)
}

// Noop is the Notifier used when no channel is configured.
type Noop struct{}

func (Noop) ApprovalRequested(ctx context.Context, req *types.ApprovalRequest) {}
func (Noop) Alert(ctx context.Context, alert *types.Alert)                     {}
func (Noop) Escalation(ctx context.Context, esc *types.Escalation)            {}
