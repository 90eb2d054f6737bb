// Package oracle defines the balance oracle contract: one batched on-chain
// call returning balances for many token contracts at once.
package oracle

import (
	"context"
	"math/big"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/network"
)

// BalanceOracle fetches an owner's balance for a set of token contracts in a
// single batched call. Implementations must never fan out to one call per
// token. The returned map is keyed by normalized contract address and
// contains an entry for every requested contract, zero balances included.
type BalanceOracle interface {
	FetchBalances(ctx context.Context, owner domain.Address, contracts []domain.Address) (map[domain.Address]*big.Int, error)
}

// Factory builds a BalanceOracle bound to the given network. The detector
// calls it at the start of every pass so the oracle transport always follows
// the currently selected network.
type Factory func(nc network.Context) BalanceOracle
