// Package memory provides in-memory wallet collaborator implementations.
// They back tests and the daemon's -use-memory mode.
package memory

import (
	"sync"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/wallet"
)

// PreferencesStore is an in-memory implementation of wallet.PreferencesStore.
type PreferencesStore struct {
	mu       sync.RWMutex
	selected domain.Address
	subs     []func(domain.Address)
}

// NewPreferencesStore creates a preferences store with no selected address.
func NewPreferencesStore() *PreferencesStore {
	return &PreferencesStore{}
}

// SelectedAddress returns the active account, or "" if none is selected.
func (s *PreferencesStore) SelectedAddress() domain.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// SetSelectedAddress updates the active account and notifies subscribers.
func (s *PreferencesStore) SetSelectedAddress(addr domain.Address) {
	s.mu.Lock()
	s.selected = addr
	subs := make([]func(domain.Address), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	// Invoke outside the lock so callbacks may read the store.
	for _, fn := range subs {
		fn(addr)
	}
}

// OnChange registers a callback invoked with the new selected address.
func (s *PreferencesStore) OnChange(fn func(domain.Address)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

var _ wallet.PreferencesStore = (*PreferencesStore)(nil)
