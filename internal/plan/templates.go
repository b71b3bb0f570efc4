// internal/plan/templates.go
package plan

import "github.com/user/deskhand/internal/types"

// templateSteps returns the deterministic fallback step list for an item
// type. These are the rule-based plans used whenever the reasoner is
// unavailable, rate-limited, or returns nothing usable.
func templateSteps(itemType types.ItemType) []types.PlanStep {
	switch itemType {
	case types.ItemEmail:
		return []types.PlanStep{
			{Description: "Analyze email content"},
			{Description: "Draft response"},
			{Description: "Send reply", ApprovalRequired: true},
			{Description: "Archive email"},
		}
	case types.ItemMessage:
		return []types.PlanStep{
			{Description: "Read message"},
			{Description: "Draft reply"},
			{Description: "Send reply", ApprovalRequired: true},
		}
	case types.ItemSocial:
		return []types.PlanStep{
			{Description: "Review post content"},
			{Description: "Check for duplicate content"},
			{Description: "Format for platform"},
			{Description: "Publish", ApprovalRequired: true},
			{Description: "Log engagement URL"},
		}
	case types.ItemFile:
		return []types.PlanStep{
			{Description: "Analyze file content"},
			{Description: "Determine file type and purpose"},
			{Description: "Route to appropriate folder"},
		}
	default:
		return []types.PlanStep{
			{Description: "Review request"},
			{Description: "Determine appropriate action"},
			{Description: "Execute or request approval"},
		}
	}
}
