// internal/types/models.go
package types

import "time"

// ItemType enumerates the kinds of work items watchers can produce.
type ItemType string

const (
	ItemEmail   ItemType = "email"
	ItemMessage ItemType = "message"
	ItemFile    ItemType = "file"
	ItemSocial  ItemType = "social"
	ItemGeneric ItemType = "generic"
)

// Priority is the urgency assigned by the watcher that produced the item.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// WorkItem is one unit of external work entering the system. The struct is
// immutable once created; which bucket the record sits in is its state.
type WorkItem struct {
	ID        ItemID            `json:"id"`
	Type      ItemType          `json:"type"`
	Source    string            `json:"source"`
	Priority  Priority          `json:"priority"`
	CreatedAt time.Time         `json:"created_at"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PlanStep is a single step in an execution plan.
type PlanStep struct {
	Description      string `json:"description"`
	ApprovalRequired bool   `json:"approval_required"`
}

// PlanMode records how a plan was produced.
type PlanMode string

const (
	ModeReasoner PlanMode = "reasoner"
	ModeTemplate PlanMode = "template"
)

// Plan is the step-by-step execution recipe derived from exactly one
// WorkItem. Plans are never mutated, only superseded.
type Plan struct {
	ID               PlanID     `json:"id"`
	ItemID           ItemID     `json:"item_id"`
	CreatedAt        time.Time  `json:"created_at"`
	Steps            []PlanStep `json:"steps"`
	ApprovalRequired bool       `json:"approval_required"`
	RiskNotes        string     `json:"risk_notes,omitempty"`
	Mode             PlanMode   `json:"mode"`
}

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest asks a human to sign off on a sensitive plan or loop
// action. The decision is made by relocating the record into the approved or
// rejected bucket; there is no separate decide API.
type ApprovalRequest struct {
	ID        ApprovalID     `json:"id"`
	PlanID    PlanID         `json:"plan_id,omitempty"`
	ItemID    ItemID         `json:"item_id,omitempty"`
	LoopID    LoopID         `json:"loop_id,omitempty"`
	Category  string         `json:"category"`
	Context   string         `json:"context"`
	Status    ApprovalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	Rationale string         `json:"rationale,omitempty"`
}

// ClaimRecord is proof that one agent owns a work item. It is created
// atomically with the ownership transfer and deleted only when the item
// reaches a terminal bucket.
type ClaimRecord struct {
	AgentID        AgentID   `json:"agent_id"`
	ItemID         ItemID    `json:"item_id"`
	ItemName       string    `json:"item_name"`
	SourceLocation string    `json:"source_location"`
	ClaimedAt      time.Time `json:"claimed_at"`
}

// LoopStatus is the lifecycle state of an autonomous loop.
type LoopStatus string

const (
	LoopPending              LoopStatus = "pending"
	LoopRunning              LoopStatus = "running"
	LoopPausedForApproval    LoopStatus = "paused_for_approval"
	LoopCompleted            LoopStatus = "completed"
	LoopMaxIterationsReached LoopStatus = "max_iterations_reached"
	LoopStopped              LoopStatus = "stopped"
)

// LoopIteration is one entry in a loop's rolling history.
type LoopIteration struct {
	Number        int       `json:"number"`
	Timestamp     time.Time `json:"timestamp"`
	OutputPreview string    `json:"output_preview"`
	Completed     bool      `json:"completed"`
}

// LoopState tracks one autonomous loop run over one work item. It is mutated
// every iteration and moved to history on termination, never deleted.
type LoopState struct {
	ID                LoopID          `json:"id"`
	ItemID            ItemID          `json:"item_id,omitempty"`
	Prompt            string          `json:"prompt"`
	MaxIterations     int             `json:"max_iterations"`
	CompletionPromise string          `json:"completion_promise,omitempty"`
	WatchArtifact     string          `json:"watch_artifact,omitempty"`
	DoneBucket        string          `json:"done_bucket,omitempty"`
	CurrentIteration  int             `json:"current_iteration"`
	Status            LoopStatus      `json:"status"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Iterations        []LoopIteration `json:"iterations"`
}

// FailureCategory classifies a failure for the resilience layer.
type FailureCategory string

const (
	FailureTransient FailureCategory = "transient"
	FailureAuth      FailureCategory = "authentication"
	FailureLogic     FailureCategory = "logic"
	FailureData      FailureCategory = "data"
	FailureSystem    FailureCategory = "system"
)

// RecoveryEntry is a failed operation awaiting retry. It accumulates
// retry_count on continued failure and is deleted only on success.
type RecoveryEntry struct {
	OperationID  OperationID     `json:"operation_id"`
	Action       string          `json:"action"`
	Target       string          `json:"target,omitempty"`
	Category     FailureCategory `json:"category"`
	RetryCount   int             `json:"retry_count"`
	LastError    string          `json:"last_error,omitempty"`
	NextEligible time.Time       `json:"next_eligible"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Escalation surfaces an unresolved situation for human disposition.
type Escalation struct {
	LoopID     LoopID          `json:"loop_id,omitempty"`
	ItemID     ItemID          `json:"item_id,omitempty"`
	Prompt     string          `json:"prompt"`
	Reason     string          `json:"reason"`
	Iterations []LoopIteration `json:"iterations,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Alert is raised for anything requiring operator attention.
type Alert struct {
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Target    string    `json:"target,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
