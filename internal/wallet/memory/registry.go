package memory

import (
	"context"
	"sort"
	"sync"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/wallet"
)

// TokenRegistry is an in-memory implementation of wallet.TokenRegistry.
// All addresses are stored normalized (lowercase).
type TokenRegistry struct {
	mu      sync.RWMutex
	tracked map[domain.Address]domain.TrackedToken
	ignored map[domain.Address]struct{}
	subs    []func()
}

// NewTokenRegistry creates an empty registry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		tracked: make(map[domain.Address]domain.TrackedToken),
		ignored: make(map[domain.Address]struct{}),
	}
}

// TrackedAddresses returns the addresses of all tracked tokens, sorted.
func (r *TokenRegistry) TrackedAddresses() []domain.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Address, 0, len(r.tracked))
	for addr := range r.tracked {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IgnoredAddresses returns the addresses the user has hidden, sorted.
func (r *TokenRegistry) IgnoredAddresses() []domain.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Address, 0, len(r.ignored))
	for addr := range r.ignored {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tokens returns all tracked tokens sorted by address.
func (r *TokenRegistry) Tokens() []domain.TrackedToken {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.TrackedToken, 0, len(r.tracked))
	for _, t := range r.tracked {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// AddToken registers a token. Returns wallet.ErrDuplicateToken if the address
// is already tracked.
func (r *TokenRegistry) AddToken(_ context.Context, token domain.TrackedToken) error {
	if token.Address == "" {
		return wallet.ErrInvalidInput
	}
	addr := domain.NormalizeAddress(token.Address)

	r.mu.Lock()
	if _, exists := r.tracked[addr]; exists {
		r.mu.Unlock()
		return wallet.ErrDuplicateToken
	}
	token.Address = addr
	r.tracked[addr] = token
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs)
	return nil
}

// IgnoreToken hides an address from future detection, removing it from the
// tracked list if present.
func (r *TokenRegistry) IgnoreToken(_ context.Context, addr domain.Address) error {
	if addr == "" {
		return wallet.ErrInvalidInput
	}
	norm := domain.NormalizeAddress(addr)

	r.mu.Lock()
	delete(r.tracked, norm)
	r.ignored[norm] = struct{}{}
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs)
	return nil
}

// OnChange registers a callback invoked after any registry update.
func (r *TokenRegistry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

func (r *TokenRegistry) snapshotSubs() []func() {
	subs := make([]func(), len(r.subs))
	copy(subs, r.subs)
	return subs
}

func notify(subs []func()) {
	for _, fn := range subs {
		fn()
	}
}

var _ wallet.TokenRegistry = (*TokenRegistry)(nil)
