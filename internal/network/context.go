// Package network describes the chain the wallet is currently connected to
// and watches its head over WebSocket.
package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	"evm-token-detect/internal/domain"
)

// Context exposes the active network: its chain identifier and the provider
// handle (RPC endpoint) used to build chain-specific transports. Detection
// rebuilds its oracle from the current Context on every pass, so a chain
// switch takes effect without restarting anything.
type Context interface {
	ChainID() domain.ChainID
	Endpoint() string
}

// Static is a Context with a settable chain id, used both for live chain
// switches and for tests.
type Static struct {
	mu       sync.RWMutex
	endpoint string
	chainID  domain.ChainID
}

// NewStatic creates a Context bound to an endpoint and chain id.
func NewStatic(endpoint string, chainID domain.ChainID) *Static {
	return &Static{endpoint: endpoint, chainID: chainID}
}

// Resolve dials the endpoint and creates a Context with the chain id the
// node reports.
func Resolve(ctx context.Context, endpoint string) (*Static, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial rpc endpoint: %w", err)
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	return NewStatic(endpoint, domain.ChainID(id.String())), nil
}

// ChainID returns the current chain identifier.
func (s *Static) ChainID() domain.ChainID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID
}

// Endpoint returns the RPC endpoint.
func (s *Static) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint
}

// SetChainID records a chain switch.
func (s *Static) SetChainID(id domain.ChainID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chainID = id
}

var _ Context = (*Static)(nil)
