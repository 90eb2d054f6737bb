// Package wallet defines the contracts between the token detector and the
// surrounding wallet: the user's preferences, the session lock and the token
// registry. The detector depends only on these interfaces; concrete backends
// live in the memory and postgres subpackages.
package wallet

import (
	"context"

	"evm-token-detect/internal/domain"
)

// PreferencesStore exposes the currently selected account and a change feed.
type PreferencesStore interface {
	// SelectedAddress returns the active account, or "" if none is selected.
	SelectedAddress() domain.Address

	// OnChange registers a callback invoked with the new selected address
	// whenever preferences change. Callbacks run on the mutating goroutine.
	OnChange(fn func(selected domain.Address))
}

// SessionLockStore exposes the wallet's unlock state and a change feed.
type SessionLockStore interface {
	// IsUnlocked reports whether the wallet is currently unlocked.
	IsUnlocked() bool

	// OnChange registers a callback invoked with the new unlock state on
	// every lock/unlock transition.
	OnChange(fn func(unlocked bool))
}

// TokenRegistry owns the user's tracked and ignored token lists.
type TokenRegistry interface {
	// TrackedAddresses returns the addresses of all tracked tokens.
	TrackedAddresses() []domain.Address

	// IgnoredAddresses returns the addresses the user has hidden. Ignored
	// tokens are never auto-added again.
	IgnoredAddresses() []domain.Address

	// Tokens returns all tracked tokens.
	Tokens() []domain.TrackedToken

	// AddToken registers a token. Returns ErrDuplicateToken if the address is
	// already tracked, ErrInvalidInput on an empty address.
	AddToken(ctx context.Context, token domain.TrackedToken) error

	// IgnoreToken moves an address onto the ignored list, removing it from
	// the tracked list if present.
	IgnoreToken(ctx context.Context, addr domain.Address) error

	// OnChange registers a callback invoked after any registry update.
	OnChange(fn func())
}
