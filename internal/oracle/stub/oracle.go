// Package stub provides a scripted balance oracle for tests.
package stub

import (
	"context"
	"math/big"
	"sync"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/oracle"
)

// Oracle returns canned balances and records every call.
type Oracle struct {
	mu sync.Mutex

	// Balances keyed by normalized contract address. Contracts absent from
	// the map report a zero balance.
	Balances map[domain.Address]*big.Int

	// Err, when set, is returned by every FetchBalances call.
	Err error

	calls []Call
}

// Call records one FetchBalances invocation.
type Call struct {
	Owner     domain.Address
	Contracts []domain.Address
}

// New creates a stub oracle with the given balances.
func New(balances map[domain.Address]*big.Int) *Oracle {
	return &Oracle{Balances: balances}
}

// FetchBalances returns the scripted balances for the requested contracts.
func (o *Oracle) FetchBalances(_ context.Context, owner domain.Address, contracts []domain.Address) (map[domain.Address]*big.Int, error) {
	o.mu.Lock()
	o.calls = append(o.calls, Call{Owner: owner, Contracts: append([]domain.Address(nil), contracts...)})
	err := o.Err
	o.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(map[domain.Address]*big.Int, len(contracts))
	for _, c := range contracts {
		norm := domain.NormalizeAddress(c)
		if bal, ok := o.Balances[norm]; ok {
			out[norm] = new(big.Int).Set(bal)
		} else {
			out[norm] = big.NewInt(0)
		}
	}
	return out, nil
}

// Calls returns a copy of all recorded calls.
func (o *Oracle) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Call(nil), o.calls...)
}

// CallCount returns the number of FetchBalances invocations.
func (o *Oracle) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

var _ oracle.BalanceOracle = (*Oracle)(nil)
