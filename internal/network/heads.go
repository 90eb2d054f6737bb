package network

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// HeadWatcherConfig configures WebSocket head subscription behavior.
type HeadWatcherConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultHeadWatcherConfig returns default configuration.
func DefaultHeadWatcherConfig() HeadWatcherConfig {
	return HeadWatcherConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Head is a new-block notification.
type Head struct {
	Number *big.Int
	Hash   string
}

// HeadWatcher subscribes to eth_subscribe("newHeads") over WebSocket and
// delivers heads on a channel, reconnecting with backoff when the
// connection drops.
type HeadWatcher struct {
	endpoint string
	config   HeadWatcherConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	heads chan Head
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewHeadWatcher connects to the endpoint and starts the subscription.
func NewHeadWatcher(ctx context.Context, endpoint string, config *HeadWatcherConfig) (*HeadWatcher, error) {
	cfg := DefaultHeadWatcherConfig()
	if config != nil {
		cfg = *config
	}

	w := &HeadWatcher{
		endpoint: endpoint,
		config:   cfg,
		heads:    make(chan Head, 64),
		done:     make(chan struct{}),
	}

	if err := w.connect(ctx); err != nil {
		return nil, err
	}
	if err := w.subscribe(); err != nil {
		w.closeConn()
		return nil, err
	}

	w.wg.Add(1)
	go w.readLoop()

	return w, nil
}

// Heads returns the notification channel. It is closed when the watcher
// shuts down.
func (w *HeadWatcher) Heads() <-chan Head {
	return w.heads
}

// Close stops the watcher and waits for the read loop to exit.
func (w *HeadWatcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.done)
	w.closeConn()
	w.wg.Wait()
	close(w.heads)
	return nil
}

func (w *HeadWatcher) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	return nil
}

func (w *HeadWatcher) closeConn() {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn != nil {
		w.conn.Close()
	}
}

// subscribe sends the eth_subscribe request. The subscription id in the
// response is not tracked: the watcher has exactly one subscription per
// connection, so every subscription notification is a head.
func (w *HeadWatcher) subscribe() error {
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      w.requestID.Add(1),
		"method":  "eth_subscribe",
		"params":  []interface{}{"newHeads"},
	}

	w.connMu.Lock()
	defer w.connMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if err := w.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe newHeads: %w", err)
	}
	return nil
}

type headNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Number string `json:"number"`
			Hash   string `json:"hash"`
		} `json:"result"`
	} `json:"params"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (w *HeadWatcher) readLoop() {
	defer w.wg.Done()

	delay := w.config.ReconnectDelay

	for {
		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if w.closed.Load() {
				return
			}
			// Reconnect with backoff, then resubscribe.
			select {
			case <-w.done:
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > w.config.MaxReconnectDelay {
				delay = w.config.MaxReconnectDelay
			}
			if err := w.connect(context.Background()); err != nil {
				continue
			}
			if err := w.subscribe(); err != nil {
				w.closeConn()
				continue
			}
			continue
		}
		delay = w.config.ReconnectDelay

		var note headNotification
		if err := json.Unmarshal(msg, &note); err != nil || note.Method != "eth_subscription" {
			continue
		}

		head := Head{Hash: note.Params.Result.Hash}
		if n, ok := parseHexQuantity(note.Params.Result.Number); ok {
			head.Number = n
		}

		select {
		case w.heads <- head:
		default:
			// Slow consumer: drop rather than stall the read loop.
		}
	}
}

// parseHexQuantity parses a 0x-prefixed hex quantity.
func parseHexQuantity(s string) (*big.Int, bool) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 16)
	return n, ok
}
