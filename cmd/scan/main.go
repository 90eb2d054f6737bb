// Package main runs a single balance scan: every fungible token in the
// address book is checked for the given account in one batched call and
// nonzero holdings are printed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/network"
	"evm-token-detect/internal/oracle/evm"
	"evm-token-detect/internal/tokenlist"
)

func main() {
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("RPC_ENDPOINT"), "EVM JSON-RPC HTTP endpoint")
	account := flag.String("account", os.Getenv("DETECT_ACCOUNT"), "Account address to scan")
	tokenList := flag.String("token-list", os.Getenv("TOKEN_LIST"), "Path to a token list JSON file (default: embedded mainnet list)")
	checker := flag.String("checker", "", "Balance checker contract address override")
	timeout := flag.Duration("timeout", 30*time.Second, "Scan timeout")
	showAll := flag.Bool("all", false, "Print zero balances too")

	flag.Parse()

	if *rpcEndpoint == "" || *account == "" {
		fmt.Fprintln(os.Stderr, "usage: scan --rpc-endpoint <url> --account <address>")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	book, err := loadBook(*tokenList)
	if err != nil {
		fatalf("load token list: %v", err)
	}

	nc, err := network.Resolve(ctx, *rpcEndpoint)
	if err != nil {
		fatalf("resolve network: %v", err)
	}
	fmt.Printf("chain id: %s\n", nc.ChainID())
	if nc.ChainID() != domain.MainnetChainID {
		fmt.Println("warning: token list targets mainnet")
	}

	var opts []evm.Option
	if *checker != "" {
		opts = append(opts, evm.WithChecker(domain.Address(*checker)))
	}
	orc := evm.New(nc.Endpoint(), opts...)

	candidates := book.FungibleAddresses()
	balances, err := orc.FetchBalances(ctx, domain.Address(*account), candidates)
	if err != nil {
		fatalf("fetch balances: %v", err)
	}

	found := 0
	for _, addr := range candidates {
		bal := balances[addr]
		if bal == nil {
			continue
		}
		if bal.Sign() <= 0 && !*showAll {
			continue
		}
		entry, _ := book.Get(addr)
		amount := decimal.NewFromBigInt(bal, -int32(entry.Decimals))
		fmt.Printf("%-8s %s  %s\n", entry.Symbol, addr, amount.String())
		if bal.Sign() > 0 {
			found++
		}
	}
	fmt.Printf("scanned %d tokens, %d with balance\n", len(candidates), found)
}

func loadBook(path string) (*tokenlist.Book, error) {
	if path == "" {
		return tokenlist.Default()
	}
	return tokenlist.LoadFile(path)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
