package evm

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"evm-token-detect/internal/domain"
)

func TestPackBalancesCall(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokens := []common.Address{
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
	}

	data := packBalancesCall(owner, tokens)

	// selector + 2 offsets + users(1+1) + tokens(1+2) = 4 + 7*32
	if len(data) != 4+7*32 {
		t.Fatalf("calldata length = %d, want %d", len(data), 4+7*32)
	}

	if hex.EncodeToString(data[:4]) != "f0002ea9" {
		t.Errorf("selector = %x", data[:4])
	}

	usersOffset := new(big.Int).SetBytes(data[4:36]).Int64()
	tokensOffset := new(big.Int).SetBytes(data[36:68]).Int64()
	if usersOffset != 64 {
		t.Errorf("users offset = %d, want 64", usersOffset)
	}
	if tokensOffset != 128 {
		t.Errorf("tokens offset = %d, want 128", tokensOffset)
	}

	usersLen := new(big.Int).SetBytes(data[68:100]).Int64()
	if usersLen != 1 {
		t.Errorf("users length = %d, want 1", usersLen)
	}
	if got := common.BytesToAddress(data[100:132]); got != owner {
		t.Errorf("owner = %s", got.Hex())
	}

	tokensLen := new(big.Int).SetBytes(data[132:164]).Int64()
	if tokensLen != 2 {
		t.Errorf("tokens length = %d, want 2", tokensLen)
	}
	if got := common.BytesToAddress(data[164:196]); got != tokens[0] {
		t.Errorf("first token = %s", got.Hex())
	}
	if got := common.BytesToAddress(data[196:228]); got != tokens[1] {
		t.Errorf("second token = %s", got.Hex())
	}
}

func TestUnpackBalancesResult(t *testing.T) {
	res := encodeUintArray(big.NewInt(5), big.NewInt(0))

	balances, err := unpackBalancesResult(res, 2)
	if err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if balances[0].Cmp(big.NewInt(5)) != 0 {
		t.Errorf("first balance = %s", balances[0])
	}
	if balances[1].Sign() != 0 {
		t.Errorf("second balance = %s", balances[1])
	}
}

func TestUnpackBalancesResult_LengthMismatch(t *testing.T) {
	res := encodeUintArray(big.NewInt(5))

	if _, err := unpackBalancesResult(res, 3); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestUnpackBalancesResult_Truncated(t *testing.T) {
	if _, err := unpackBalancesResult([]byte{0x01}, 1); err == nil {
		t.Error("expected truncation error")
	}
}

func TestFetchBalances_AgainstFakeRPC(t *testing.T) {
	result := encodeUintArray(big.NewInt(7), big.NewInt(0))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad rpc request: %v", err)
		}
		if req.Method != "eth_call" {
			t.Errorf("unexpected method %s", req.Method)
		}
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x" + hex.EncodeToString(result),
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	oracle := New(server.URL)
	contracts := []domain.Address{"0xAAa0000000000000000000000000000000000001", "0xBBB0000000000000000000000000000000000002"}

	balances, err := oracle.FetchBalances(context.Background(), "0x1111111111111111111111111111111111111111", contracts)
	if err != nil {
		t.Fatalf("FetchBalances failed: %v", err)
	}

	// Keys are normalized; entries exist for zero balances too.
	if got := balances["0xaaa0000000000000000000000000000000000001"]; got == nil || got.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("first balance = %v", got)
	}
	if got := balances["0xbbb0000000000000000000000000000000000002"]; got == nil || got.Sign() != 0 {
		t.Errorf("second balance = %v", got)
	}
}

func TestFetchBalances_EmptyContracts(t *testing.T) {
	// No RPC round trip for an empty candidate list: no server at all.
	oracle := New("http://127.0.0.1:1")

	balances, err := oracle.FetchBalances(context.Background(), "0x01", nil)
	if err != nil {
		t.Fatalf("FetchBalances failed: %v", err)
	}
	if len(balances) != 0 {
		t.Errorf("expected empty result, got %v", balances)
	}
}

// encodeUintArray ABI-encodes a uint256[] return value.
func encodeUintArray(vals ...*big.Int) []byte {
	out := make([]byte, 0, (2+len(vals))*32)
	out = append(out, common.LeftPadBytes(big.NewInt(32).Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(big.NewInt(int64(len(vals))).Bytes(), 32)...)
	for _, v := range vals {
		out = append(out, common.LeftPadBytes(v.Bytes(), 32)...)
	}
	return out
}
