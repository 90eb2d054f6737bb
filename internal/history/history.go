// Package history persists observed balance snapshots so detection passes
// leave an auditable trail of what was seen for which account.
package history

import (
	"context"
	"errors"
	"time"

	"evm-token-detect/internal/domain"
)

// ErrInvalidInput indicates a snapshot with a missing owner or token.
var ErrInvalidInput = errors.New("invalid snapshot input")

// SnapshotStore persists balance snapshots.
type SnapshotStore interface {
	// Insert appends snapshots. Snapshots are observations, not state:
	// repeated inserts for the same owner and token are expected.
	Insert(ctx context.Context, snapshots []domain.BalanceSnapshot) error

	// ByOwner returns all snapshots for an owner ordered by observation
	// time ascending, then token.
	ByOwner(ctx context.Context, owner domain.Address) ([]domain.BalanceSnapshot, error)

	// ByTimeRange returns the owner's snapshots observed within [from, to]
	// inclusive, ordered by observation time ascending.
	ByTimeRange(ctx context.Context, owner domain.Address, from, to time.Time) ([]domain.BalanceSnapshot, error)
}
