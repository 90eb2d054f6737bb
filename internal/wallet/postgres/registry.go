package postgres

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/wallet"
)

// TokenRegistry implements wallet.TokenRegistry on PostgreSQL. Rows are
// loaded into an in-memory snapshot at construction and kept write-through:
// reads never touch the database, writes hit the database first and update
// the snapshot only on success.
type TokenRegistry struct {
	pool *Pool

	mu      sync.RWMutex
	tracked map[domain.Address]domain.TrackedToken
	ignored map[domain.Address]struct{}
	subs    []func()
}

// NewTokenRegistry creates a registry backed by the given pool and loads the
// current tracked and ignored sets.
func NewTokenRegistry(ctx context.Context, pool *Pool) (*TokenRegistry, error) {
	r := &TokenRegistry{
		pool:    pool,
		tracked: make(map[domain.Address]domain.TrackedToken),
		ignored: make(map[domain.Address]struct{}),
	}
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *TokenRegistry) load(ctx context.Context) error {
	rows, err := r.pool.Query(ctx, `SELECT address, symbol, decimals FROM wallet_tokens`)
	if err != nil {
		return fmt.Errorf("load tracked tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.TrackedToken
		if err := rows.Scan(&t.Address, &t.Symbol, &t.Decimals); err != nil {
			return fmt.Errorf("scan tracked token: %w", err)
		}
		r.tracked[domain.NormalizeAddress(t.Address)] = t
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate tracked tokens: %w", err)
	}

	ignoredRows, err := r.pool.Query(ctx, `SELECT address FROM wallet_ignored_tokens`)
	if err != nil {
		return fmt.Errorf("load ignored tokens: %w", err)
	}
	defer ignoredRows.Close()

	for ignoredRows.Next() {
		var addr domain.Address
		if err := ignoredRows.Scan(&addr); err != nil {
			return fmt.Errorf("scan ignored token: %w", err)
		}
		r.ignored[domain.NormalizeAddress(addr)] = struct{}{}
	}
	return ignoredRows.Err()
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

// AddToken persists a token and adds it to the snapshot. Returns
// wallet.ErrDuplicateToken if the address is already tracked.
func (r *TokenRegistry) AddToken(ctx context.Context, token domain.TrackedToken) error {
	if token.Address == "" {
		return wallet.ErrInvalidInput
	}
	token.Address = domain.NormalizeAddress(token.Address)

	query := `
		INSERT INTO wallet_tokens (address, symbol, decimals)
		VALUES ($1, $2, $3)
	`
	if _, err := r.pool.Exec(ctx, query, token.Address, token.Symbol, token.Decimals); err != nil {
		if isDuplicateKeyError(err) {
			return wallet.ErrDuplicateToken
		}
		return fmt.Errorf("insert token: %w", err)
	}

	r.mu.Lock()
	r.tracked[token.Address] = token
	subs := r.snapshotSubs()
	r.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	return nil
}

// IgnoreToken persists the hidden flag for an address and removes it from
// the tracked set.
func (r *TokenRegistry) IgnoreToken(ctx context.Context, addr domain.Address) error {
	if addr == "" {
		return wallet.ErrInvalidInput
	}
	norm := domain.NormalizeAddress(addr)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ignore token: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM wallet_tokens WHERE address = $1`, norm); err != nil {
		return fmt.Errorf("delete tracked token: %w", err)
	}
	query := `
		INSERT INTO wallet_ignored_tokens (address)
		VALUES ($1)
		ON CONFLICT (address) DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, norm); err != nil {
		return fmt.Errorf("insert ignored token: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ignore token: %w", err)
	}

	r.mu.Lock()
	delete(r.tracked, norm)
	r.ignored[norm] = struct{}{}
	subs := r.snapshotSubs()
	r.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
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

var _ wallet.TokenRegistry = (*TokenRegistry)(nil)
