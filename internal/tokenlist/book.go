// Package tokenlist provides the static address book of known token
// contracts. The book is loaded once at startup and never mutated.
package tokenlist

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"evm-token-detect/internal/domain"
)

// Book is a read-only mapping from contract address to token metadata.
type Book struct {
	entries map[domain.Address]domain.TokenListEntry
}

// Default returns the bundled Ethereum mainnet contract list.
func Default() (*Book, error) {
	data, err := fs.ReadFile(tokensFS, "tokens/mainnet.json")
	if err != nil {
		return nil, fmt.Errorf("read embedded token list: %w", err)
	}
	return parse(data)
}

// LoadFile loads a contract list from a JSON file on disk, for deployments
// that curate their own list.
func LoadFile(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token list %s: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (*Book, error) {
	var raw []domain.TokenListEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse token list: %w", err)
	}

	entries := make(map[domain.Address]domain.TokenListEntry, len(raw))
	for _, e := range raw {
		if e.Address == "" {
			return nil, fmt.Errorf("token list entry %q missing address", e.Symbol)
		}
		e.Address = domain.NormalizeAddress(e.Address)
		entries[e.Address] = e
	}

	return &Book{entries: entries}, nil
}

// Get returns the entry for a contract address (case-insensitive).
func (b *Book) Get(addr domain.Address) (domain.TokenListEntry, bool) {
	e, ok := b.entries[domain.NormalizeAddress(addr)]
	return e, ok
}

// Entries returns all entries sorted by address for deterministic iteration.
func (b *Book) Entries() []domain.TokenListEntry {
	out := make([]domain.TokenListEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// FungibleAddresses returns the addresses of all fungible (ERC-20) entries,
// sorted for deterministic iteration.
func (b *Book) FungibleAddresses() []domain.Address {
	out := make([]domain.Address, 0, len(b.entries))
	for addr, e := range b.entries {
		if e.Fungible {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of entries in the book.
func (b *Book) Len() int {
	return len(b.entries)
}
