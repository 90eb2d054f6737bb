package history

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/network"
	"evm-token-detect/internal/oracle"
)

const defaultInsertTimeout = 10 * time.Second

// Metadata resolves address book metadata for observed tokens.
type Metadata interface {
	Get(addr domain.Address) (domain.TokenListEntry, bool)
}

// RecordingOracle decorates a BalanceOracle: every successful fetch also
// writes the positive balances it observed to a SnapshotStore. Store
// failures are logged, never surfaced, so history being down cannot break
// detection.
type RecordingOracle struct {
	inner   oracle.BalanceOracle
	store   SnapshotStore
	meta    Metadata
	chainID domain.ChainID
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRecordingOracle wraps inner so its results are recorded to store.
func NewRecordingOracle(inner oracle.BalanceOracle, store SnapshotStore, meta Metadata, chainID domain.ChainID, logger zerolog.Logger) *RecordingOracle {
	return &RecordingOracle{
		inner:   inner,
		store:   store,
		meta:    meta,
		chainID: chainID,
		logger:  logger,
		now:     time.Now,
	}
}

// NewRecordingFactory wraps an oracle factory so every transport it builds
// records to store.
func NewRecordingFactory(inner oracle.Factory, store SnapshotStore, meta Metadata, logger zerolog.Logger) oracle.Factory {
	return func(nc network.Context) oracle.BalanceOracle {
		return NewRecordingOracle(inner(nc), store, meta, nc.ChainID(), logger)
	}
}

var _ oracle.BalanceOracle = (*RecordingOracle)(nil)

// FetchBalances delegates to the wrapped oracle and records every positive
// balance it returned.
func (o *RecordingOracle) FetchBalances(ctx context.Context, owner domain.Address, contracts []domain.Address) (map[domain.Address]*big.Int, error) {
	balances, err := o.inner.FetchBalances(ctx, owner, contracts)
	if err != nil {
		return nil, err
	}

	at := o.now().UTC()
	snapshots := make([]domain.BalanceSnapshot, 0, len(balances))
	for token, bal := range balances {
		if bal == nil || bal.Sign() <= 0 {
			continue
		}
		snap := domain.BalanceSnapshot{
			Owner:      domain.NormalizeAddress(owner),
			Token:      token,
			RawBalance: bal.String(),
			ChainID:    o.chainID,
			ObservedAt: at,
		}
		if o.meta != nil {
			if entry, ok := o.meta.Get(token); ok {
				snap.Symbol = entry.Symbol
				snap.Balance = normalizeBalance(bal, entry.Decimals)
			}
		}
		snapshots = append(snapshots, snap)
	}
	if len(snapshots) == 0 {
		return balances, nil
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Token < snapshots[j].Token })

	// Detached from the pass's cancellation: a pass being torn down is no
	// reason to drop an already observed snapshot.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultInsertTimeout)
	defer cancel()

	if err := o.store.Insert(insertCtx, snapshots); err != nil {
		o.logger.Warn().Err(err).
			Str("owner", string(owner)).
			Int("snapshots", len(snapshots)).
			Msg("failed to record balance snapshots")
	}
	return balances, nil
}

// normalizeBalance scales the raw on-chain integer down by the token's
// decimals.
func normalizeBalance(raw *big.Int, decimals int) float64 {
	return decimal.NewFromBigInt(raw, -int32(decimals)).InexactFloat64()
}
