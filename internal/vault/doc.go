// Package vault provides the filesystem-backed shared record store.
package vault

import "github.com/user/deskhand/internal/types"

// Compile-time interface compliance check.
var _ types.Store = (*Vault)(nil)
