// internal/types/ids.go
package types

import "github.com/google/uuid"

type AgentID string
type ItemID string
type PlanID string
type ApprovalID string
type LoopID string
type OperationID string

func NewItemID() ItemID {
	return ItemID("item-" + uuid.New().String())
}

func NewPlanID() PlanID {
	return PlanID("plan-" + uuid.New().String())
}

func NewApprovalID() ApprovalID {
	return ApprovalID("appr-" + uuid.New().String())
}

func NewLoopID() LoopID {
	return LoopID("loop-" + uuid.New().String())
}

func NewOperationID() OperationID {
	return OperationID("op-" + uuid.New().String())
}
