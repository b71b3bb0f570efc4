// internal/claim/errors.go
package claim

import (
	"fmt"

	"github.com/user/deskhand/internal/types"
)

// ValidationError means the target record was malformed and no mutation
// took place.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid work item %s: %s", e.Name, e.Reason)
}

// AlreadyClaimedError means another agent owns the item; no mutation took
// place. Owner identifies the current claimant.
type AlreadyClaimedError struct {
	ItemID types.ItemID
	Owner  types.AgentID
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("item %s already claimed by %s", e.ItemID, e.Owner)
}

// ClaimFailedError wraps an I/O failure during the claim; the move is
// all-or-nothing so the item remains where it was.
type ClaimFailedError struct {
	Name string
	Err  error
}

func (e *ClaimFailedError) Error() string {
	return fmt.Sprintf("claim %s failed: %v", e.Name, e.Err)
}

func (e *ClaimFailedError) Unwrap() error {
	return e.Err
}
