// Package evm implements the balance oracle against a deployed
// balance-checker contract, batching every candidate into one eth_call.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/network"
	"evm-token-detect/internal/oracle"
)

// DefaultCheckerAddress is the single-call balance checker deployed on
// Ethereum mainnet. Its balances(address[] users, address[] tokens) method
// returns a flat uint256[] of users × tokens balances.
const DefaultCheckerAddress = "0xb1f8e55c7f64d203c1400b9d8555d050f94adf39"

// balancesSelector is the 4-byte selector of balances(address[],address[]).
var balancesSelector = common.FromHex("0xf0002ea9")

const defaultCallTimeout = 30 * time.Second

// Oracle is a BalanceOracle backed by the balance checker contract.
type Oracle struct {
	endpoint string
	checker  common.Address
	timeout  time.Duration
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithChecker overrides the balance checker contract address.
func WithChecker(addr domain.Address) Option {
	return func(o *Oracle) {
		o.checker = common.HexToAddress(string(addr))
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		o.timeout = d
	}
}

// New creates an Oracle bound to an RPC endpoint.
func New(endpoint string, opts ...Option) *Oracle {
	o := &Oracle{
		endpoint: endpoint,
		checker:  common.HexToAddress(DefaultCheckerAddress),
		timeout:  defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFactory returns an oracle.Factory producing Oracles bound to the
// network's current endpoint.
func NewFactory(opts ...Option) oracle.Factory {
	return func(nc network.Context) oracle.BalanceOracle {
		return New(nc.Endpoint(), opts...)
	}
}

// FetchBalances returns the owner's balance for every contract in one
// batched eth_call against the checker contract.
func (o *Oracle) FetchBalances(ctx context.Context, owner domain.Address, contracts []domain.Address) (map[domain.Address]*big.Int, error) {
	out := make(map[domain.Address]*big.Int, len(contracts))
	if len(contracts) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, o.endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial rpc endpoint: %w", err)
	}
	defer client.Close()

	tokens := make([]common.Address, len(contracts))
	for i, c := range contracts {
		tokens[i] = common.HexToAddress(string(c))
	}

	data := packBalancesCall(common.HexToAddress(string(owner)), tokens)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &o.checker, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balances call: %w", err)
	}

	balances, err := unpackBalancesResult(res, len(contracts))
	if err != nil {
		return nil, err
	}

	for i, c := range contracts {
		out[domain.NormalizeAddress(c)] = balances[i]
	}
	return out, nil
}

// packBalancesCall ABI-encodes balances(address[] users, address[] tokens)
// for a single user: selector, two array offsets, then each dynamic array as
// a length word followed by left-padded addresses.
func packBalancesCall(owner common.Address, tokens []common.Address) []byte {
	const word = 32

	// Head: two offset words. The users array holds a length word plus the
	// single owner element.
	usersOffset := 2 * word
	tokensOffset := usersOffset + (1+1)*word

	data := make([]byte, 0, 4+(2+2+1+len(tokens))*word)
	data = append(data, balancesSelector...)
	data = append(data, common.LeftPadBytes(big.NewInt(int64(usersOffset)).Bytes(), word)...)
	data = append(data, common.LeftPadBytes(big.NewInt(int64(tokensOffset)).Bytes(), word)...)

	// users array
	data = append(data, common.LeftPadBytes(big.NewInt(1).Bytes(), word)...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), word)...)

	// tokens array
	data = append(data, common.LeftPadBytes(big.NewInt(int64(len(tokens))).Bytes(), word)...)
	for _, t := range tokens {
		data = append(data, common.LeftPadBytes(t.Bytes(), word)...)
	}

	return data
}

// unpackBalancesResult decodes the returned uint256[]: an offset word, a
// length word, then one word per balance.
func unpackBalancesResult(res []byte, want int) ([]*big.Int, error) {
	const word = 32

	if len(res) < 2*word {
		return nil, fmt.Errorf("balances result too short: %d bytes", len(res))
	}

	length := new(big.Int).SetBytes(res[word : 2*word]).Int64()
	if length != int64(want) {
		return nil, fmt.Errorf("balances result length mismatch: got %d, want %d", length, want)
	}
	if len(res) < 2*word+int(length)*word {
		return nil, fmt.Errorf("balances result truncated: %d bytes for %d values", len(res), length)
	}

	out := make([]*big.Int, length)
	for i := int64(0); i < length; i++ {
		start := 2*word + int(i)*word
		out[i] = new(big.Int).SetBytes(res[start : start+word])
	}
	return out, nil
}

var _ oracle.BalanceOracle = (*Oracle)(nil)
