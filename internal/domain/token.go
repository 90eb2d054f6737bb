// Package domain contains the core value types shared across the service.
package domain

import (
	"strings"
	"time"
)

// Address is a 0x-prefixed hex EVM address (account or contract).
// Addresses are compared case-insensitively everywhere; use NormalizeAddress
// before using an Address as a map key or set member.
type Address string

// NormalizeAddress lowercases an address for case-insensitive comparison.
// EIP-55 checksum casing is presentation only and must not affect identity.
func NormalizeAddress(a Address) Address {
	return Address(strings.ToLower(strings.TrimSpace(string(a))))
}

// EqualAddress reports whether two addresses identify the same account,
// ignoring letter case.
func EqualAddress(a, b Address) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// ChainID identifies an EVM chain as a decimal string ("1" for mainnet).
type ChainID string

// MainnetChainID is the designated chain on which token detection runs.
// Detection passes on any other chain are silently skipped.
const MainnetChainID ChainID = "1"

// TrackedToken is a token the user's wallet tracks.
type TrackedToken struct {
	Address  Address
	Symbol   string
	Decimals int
}

// TokenListEntry is one row of the static address book of known contracts.
type TokenListEntry struct {
	Address  Address `json:"address"`
	Symbol   string  `json:"symbol"`
	Decimals int     `json:"decimals"`
	Name     string  `json:"name,omitempty"`
	// Fungible marks standard balance/transfer (ERC-20) contracts. Non-fungible
	// entries are kept in the list for metadata lookups but never detected.
	Fungible bool `json:"erc20"`
}

// BalanceSnapshot records one observed token balance for an owner at a point
// in time. RawBalance is the unscaled on-chain integer rendered as a decimal
// string; Balance is normalized by the token's decimals.
type BalanceSnapshot struct {
	Owner      Address
	Token      Address
	Symbol     string
	RawBalance string
	Balance    float64
	ChainID    ChainID
	ObservedAt time.Time
}
