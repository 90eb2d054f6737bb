// Package memory provides an in-memory SnapshotStore for tests and
// single-process runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/history"
)

// SnapshotStore is an in-memory implementation of history.SnapshotStore.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots []domain.BalanceSnapshot
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Insert appends snapshots. Owners and tokens are normalized on write so
// reads never need to.
func (s *SnapshotStore) Insert(_ context.Context, snapshots []domain.BalanceSnapshot) error {
	for _, snap := range snapshots {
		if snap.Owner == "" || snap.Token == "" {
			return history.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		snap.Owner = domain.NormalizeAddress(snap.Owner)
		snap.Token = domain.NormalizeAddress(snap.Token)
		s.snapshots = append(s.snapshots, snap)
	}
	return nil
}

// ByOwner returns the owner's snapshots ordered by observation time, then token.
func (s *SnapshotStore) ByOwner(_ context.Context, owner domain.Address) ([]domain.BalanceSnapshot, error) {
	owner = domain.NormalizeAddress(owner)

	s.mu.RLock()
	var out []domain.BalanceSnapshot
	for _, snap := range s.snapshots {
		if snap.Owner == owner {
			out = append(out, snap)
		}
	}
	s.mu.RUnlock()

	sortSnapshots(out)
	return out, nil
}

// ByTimeRange returns the owner's snapshots within [from, to] inclusive.
func (s *SnapshotStore) ByTimeRange(_ context.Context, owner domain.Address, from, to time.Time) ([]domain.BalanceSnapshot, error) {
	owner = domain.NormalizeAddress(owner)

	s.mu.RLock()
	var out []domain.BalanceSnapshot
	for _, snap := range s.snapshots {
		if snap.Owner != owner {
			continue
		}
		if snap.ObservedAt.Before(from) || snap.ObservedAt.After(to) {
			continue
		}
		out = append(out, snap)
	}
	s.mu.RUnlock()

	sortSnapshots(out)
	return out, nil
}

func sortSnapshots(snaps []domain.BalanceSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].ObservedAt.Equal(snaps[j].ObservedAt) {
			return snaps[i].ObservedAt.Before(snaps[j].ObservedAt)
		}
		return snaps[i].Token < snaps[j].Token
	})
}

var _ history.SnapshotStore = (*SnapshotStore)(nil)
