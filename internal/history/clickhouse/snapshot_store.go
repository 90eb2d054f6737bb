package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/history"
)

// SnapshotStore implements history.SnapshotStore using ClickHouse.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ history.SnapshotStore = (*SnapshotStore)(nil)

// Insert appends snapshots in one batch.
func (s *SnapshotStore) Insert(ctx context.Context, snapshots []domain.BalanceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	for _, snap := range snapshots {
		if snap.Owner == "" || snap.Token == "" {
			return history.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO balance_snapshots (
			owner, token, symbol, raw_balance, balance, chain_id, observed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		err = batch.Append(
			string(domain.NormalizeAddress(snap.Owner)),
			string(domain.NormalizeAddress(snap.Token)),
			snap.Symbol, snap.RawBalance, snap.Balance,
			string(snap.ChainID), snap.ObservedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ByOwner retrieves all snapshots for an owner, oldest first.
func (s *SnapshotStore) ByOwner(ctx context.Context, owner domain.Address) ([]domain.BalanceSnapshot, error) {
	query := `
		SELECT owner, token, symbol, raw_balance, balance, chain_id, observed_at
		FROM balance_snapshots
		WHERE owner = ?
		ORDER BY observed_at ASC, token ASC
	`

	rows, err := s.conn.Query(ctx, query, string(domain.NormalizeAddress(owner)))
	if err != nil {
		return nil, fmt.Errorf("query by owner: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// ByTimeRange retrieves the owner's snapshots within [from, to] inclusive.
func (s *SnapshotStore) ByTimeRange(ctx context.Context, owner domain.Address, from, to time.Time) ([]domain.BalanceSnapshot, error) {
	query := `
		SELECT owner, token, symbol, raw_balance, balance, chain_id, observed_at
		FROM balance_snapshots
		WHERE owner = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC, token ASC
	`

	rows, err := s.conn.Query(ctx, query, string(domain.NormalizeAddress(owner)), from, to)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func scanSnapshots(rows driver.Rows) ([]domain.BalanceSnapshot, error) {
	var out []domain.BalanceSnapshot
	for rows.Next() {
		var (
			snap              domain.BalanceSnapshot
			owner, token, cid string
		)
		err := rows.Scan(
			&owner, &token, &snap.Symbol, &snap.RawBalance,
			&snap.Balance, &cid, &snap.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Owner = domain.Address(owner)
		snap.Token = domain.Address(token)
		snap.ChainID = domain.ChainID(cid)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}
