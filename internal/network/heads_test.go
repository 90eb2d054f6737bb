package network

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// headServer is a test WebSocket endpoint speaking just enough of the
// eth_subscribe protocol for the watcher.
type headServer struct {
	srv      *httptest.Server
	conns    atomic.Int64
	onAttach func(conn *websocket.Conn, connNum int64)
}

func newHeadServer(t *testing.T, onAttach func(conn *websocket.Conn, connNum int64)) *headServer {
	t.Helper()

	hs := &headServer{onAttach: onAttach}
	upgrader := websocket.Upgrader{}

	hs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := hs.conns.Add(1)

		// Expect the subscribe request and acknowledge it.
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			conn.Close()
			return
		}
		if req.Method != "eth_subscribe" {
			t.Errorf("first request method = %q, want eth_subscribe", req.Method)
		}
		ack := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0xabc123"}
		if err := conn.WriteJSON(ack); err != nil {
			conn.Close()
			return
		}

		hs.onAttach(conn, n)
	}))
	t.Cleanup(hs.srv.Close)
	return hs
}

func (hs *headServer) wsURL() string {
	return "ws" + strings.TrimPrefix(hs.srv.URL, "http")
}

func sendHead(conn *websocket.Conn, number uint64, hash string) error {
	note := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscription",
		"params": map[string]interface{}{
			"subscription": "0xabc123",
			"result": map[string]interface{}{
				"number": fmt.Sprintf("0x%x", number),
				"hash":   hash,
			},
		},
	}
	return conn.WriteJSON(note)
}

func recvHead(t *testing.T, heads <-chan Head) Head {
	t.Helper()
	select {
	case h, ok := <-heads:
		if !ok {
			t.Fatal("heads channel closed")
		}
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for head")
	}
	return Head{}
}

func TestHeadWatcher_DeliversHeads(t *testing.T) {
	hs := newHeadServer(t, func(conn *websocket.Conn, _ int64) {
		for i := uint64(100); i < 103; i++ {
			if err := sendHead(conn, i, fmt.Sprintf("0xhash%d", i)); err != nil {
				return
			}
		}
	})

	w, err := NewHeadWatcher(context.Background(), hs.wsURL(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := uint64(100); i < 103; i++ {
		h := recvHead(t, w.Heads())
		if h.Number == nil || h.Number.Uint64() != i {
			t.Fatalf("head number = %v, want %d", h.Number, i)
		}
		if want := fmt.Sprintf("0xhash%d", i); h.Hash != want {
			t.Errorf("head hash = %q, want %q", h.Hash, want)
		}
	}
}

func TestHeadWatcher_ReconnectsAndResubscribes(t *testing.T) {
	hs := newHeadServer(t, func(conn *websocket.Conn, connNum int64) {
		if connNum == 1 {
			// First connection drops after one head.
			sendHead(conn, 1, "0xfirst")
			time.Sleep(20 * time.Millisecond)
			conn.Close()
			return
		}
		sendHead(conn, 2, "0xsecond")
	})

	cfg := DefaultHeadWatcherConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond

	w, err := NewHeadWatcher(context.Background(), hs.wsURL(), &cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if h := recvHead(t, w.Heads()); h.Hash != "0xfirst" {
		t.Fatalf("first head = %q", h.Hash)
	}
	if h := recvHead(t, w.Heads()); h.Hash != "0xsecond" {
		t.Fatalf("head after reconnect = %q", h.Hash)
	}
	if got := hs.conns.Load(); got < 2 {
		t.Errorf("connections = %d, want at least 2", got)
	}
}

func TestHeadWatcher_CloseIsIdempotent(t *testing.T) {
	hs := newHeadServer(t, func(conn *websocket.Conn, _ int64) {
		sendHead(conn, 1, "0x01")
	})

	w, err := NewHeadWatcher(context.Background(), hs.wsURL(), nil)
	if err != nil {
		t.Fatal(err)
	}

	recvHead(t, w.Heads())

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Channel drains and closes after shutdown.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Heads():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("heads channel not closed after Close")
		}
	}
}

func TestParseHexQuantity(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"0x0", 0, true},
		{"0x1", 1, true},
		{"0x16345785d8a0000", 100000000000000000, true},
		{"0x", 0, false},
		{"", 0, false},
		{"0xzz", 0, false},
	}
	for _, tc := range cases {
		n, ok := parseHexQuantity(tc.in)
		if ok != tc.ok {
			t.Errorf("parseHexQuantity(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && n.Uint64() != tc.want {
			t.Errorf("parseHexQuantity(%q) = %v, want %d", tc.in, n, tc.want)
		}
	}
}

func TestStatic_SetChainID(t *testing.T) {
	nc := NewStatic("http://localhost:8545", "1")
	if nc.ChainID() != "1" {
		t.Fatalf("chain id = %s", nc.ChainID())
	}
	if nc.Endpoint() != "http://localhost:8545" {
		t.Fatalf("endpoint = %s", nc.Endpoint())
	}

	nc.SetChainID("137")
	if nc.ChainID() != "137" {
		t.Fatalf("chain id after set = %s", nc.ChainID())
	}
}
