package memory

import (
	"sync"

	"evm-token-detect/internal/wallet"
)

// SessionLockStore is an in-memory implementation of wallet.SessionLockStore.
// The wallet starts locked.
type SessionLockStore struct {
	mu       sync.RWMutex
	unlocked bool
	subs     []func(bool)
}

// NewSessionLockStore creates a locked session store.
func NewSessionLockStore() *SessionLockStore {
	return &SessionLockStore{}
}

// IsUnlocked reports whether the wallet is currently unlocked.
func (s *SessionLockStore) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unlocked
}

// SetUnlocked updates the unlock state and notifies subscribers. Setting the
// same value again still notifies; subscribers filter transitions themselves.
func (s *SessionLockStore) SetUnlocked(unlocked bool) {
	s.mu.Lock()
	s.unlocked = unlocked
	subs := make([]func(bool), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(unlocked)
	}
}

// OnChange registers a callback invoked with the new unlock state.
func (s *SessionLockStore) OnChange(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

var _ wallet.SessionLockStore = (*SessionLockStore)(nil)
