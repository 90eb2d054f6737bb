// Package main runs the token detection daemon: a polling detector over an
// EVM endpoint plus an HTTP surface for health, metrics, wallet state and
// tracked tokens.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"evm-token-detect/internal/detection"
	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/history"
	chstore "evm-token-detect/internal/history/clickhouse"
	historymigrations "evm-token-detect/internal/history/migrations"
	"evm-token-detect/internal/network"
	"evm-token-detect/internal/observability"
	"evm-token-detect/internal/oracle"
	"evm-token-detect/internal/oracle/evm"
	"evm-token-detect/internal/tokenlist"
	"evm-token-detect/internal/wallet"
	"evm-token-detect/internal/wallet/memory"
	"evm-token-detect/internal/wallet/migrations"
	pgstore "evm-token-detect/internal/wallet/postgres"
)

// Server holds the daemon's wired components and the mutable wallet state
// the admin endpoints drive.
type Server struct {
	detector *detection.Detector
	prefs    *memory.PreferencesStore
	session  *memory.SessionLockStore
	registry wallet.TokenRegistry
	history  history.SnapshotStore
	logger   zerolog.Logger
}

func main() {
	// Load .env if present; flags still win over environment.
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("RPC_ENDPOINT"), "EVM JSON-RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("WS_ENDPOINT"), "EVM WebSocket endpoint for new-head tracking (optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string for the token registry")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for balance history (optional)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	tokenList := flag.String("token-list", os.Getenv("TOKEN_LIST"), "Path to a token list JSON file (default: embedded mainnet list)")
	checker := flag.String("checker", "", "Balance checker contract address override")
	pollInterval := flag.Duration("poll-interval", detection.DefaultPollInterval, "Detection pass interval")
	selected := flag.String("account", os.Getenv("DETECT_ACCOUNT"), "Initially selected account address")
	startUnlocked := flag.Bool("start-unlocked", true, "Start with the wallet unlocked")
	startOpen := flag.Bool("start-open", true, "Start with the UI surface marked open")
	httpAddr := flag.String("http-addr", ":9090", "HTTP address for health, metrics and admin endpoints")
	logPretty := flag.Bool("log-pretty", false, "Human-readable log output")
	logLevel := flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")

	flag.Parse()

	logger := newLogger(*logPretty, *logLevel)

	if *rpcEndpoint == "" {
		logger.Fatal().Msg("--rpc-endpoint is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal().Msg("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	book, err := loadBook(*tokenList)
	if err != nil {
		logger.Fatal().Err(err).Msg("load token list")
	}
	logger.Info().Int("entries", book.Len()).Msg("token list loaded")

	registry, cleanupRegistry, err := createRegistry(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatal().Err(err).Msg("create token registry")
	}
	defer cleanupRegistry()

	// Resolve the endpoint's chain id up front; the detector re-reads it
	// every pass.
	nc, err := network.Resolve(ctx, *rpcEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Str("endpoint", *rpcEndpoint).Msg("resolve network")
	}
	logger.Info().Str("chain_id", string(nc.ChainID())).Msg("network resolved")
	if nc.ChainID() != domain.MainnetChainID {
		logger.Warn().Str("chain_id", string(nc.ChainID())).Msg("not mainnet, detection passes will be skipped")
	}

	var oracleOpts []evm.Option
	if *checker != "" {
		oracleOpts = append(oracleOpts, evm.WithChecker(domain.Address(*checker)))
	}
	var factory oracle.Factory = evm.NewFactory(oracleOpts...)

	var snapshots history.SnapshotStore
	if *clickhouseDSN != "" {
		conn, err := historymigrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("clickhouse migrations")
		}
		defer conn.Close()

		chStore := chstore.NewSnapshotStore(conn)
		snapshots = chStore
		factory = history.NewRecordingFactory(factory, chStore, book, logger)
		logger.Info().Msg("balance history enabled")
	}

	metrics := observability.NewMetrics("token_detect")

	prefs := memory.NewPreferencesStore()
	if *selected != "" {
		prefs.SetSelectedAddress(domain.Address(*selected))
	}
	session := memory.NewSessionLockStore()
	session.SetUnlocked(*startUnlocked)

	detector := detection.New(detection.Config{
		PollInterval: *pollInterval,
		Preferences:  prefs,
		Registry:     registry,
		Session:      session,
		Network:      nc,
		AddressBook:  book,
		NewOracle:    factory,
		Logger:       logger.With().Str("component", "detector").Logger(),
		Metrics:      metrics,
	})
	detector.SetUIOpen(*startOpen)
	defer detector.Stop()

	if *wsEndpoint != "" {
		watcher, err := network.NewHeadWatcher(ctx, *wsEndpoint, nil)
		if err != nil {
			logger.Fatal().Err(err).Str("endpoint", *wsEndpoint).Msg("start head watcher")
		}
		defer watcher.Close()
		go trackHeads(watcher, metrics, logger)
	}

	server := &Server{
		detector: detector,
		prefs:    prefs,
		session:  session,
		registry: registry,
		history:  snapshots,
		logger:   logger,
	}

	httpServer := &http.Server{Addr: *httpAddr, Handler: server.routes()}
	go func() {
		logger.Info().Str("addr", *httpAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	detector.Stop()
	logger.Info().Msg("shutdown complete")
}

func newLogger(pretty bool, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

func loadBook(path string) (*tokenlist.Book, error) {
	if path == "" {
		return tokenlist.Default()
	}
	return tokenlist.LoadFile(path)
}

// createRegistry picks the registry backend. The postgres registry applies
// migrations before loading its snapshot.
func createRegistry(ctx context.Context, dsn string, useMemory bool) (wallet.TokenRegistry, func(), error) {
	if useMemory {
		return memory.NewTokenRegistry(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	registry, err := pgstore.NewTokenRegistry(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("load token registry: %w", err)
	}
	return registry, pool.Close, nil
}

func trackHeads(watcher *network.HeadWatcher, metrics *observability.Metrics, logger zerolog.Logger) {
	for head := range watcher.Heads() {
		if head.Number == nil {
			continue
		}
		metrics.LastBlockSeen.Set(float64(head.Number.Uint64()))
		logger.Debug().Uint64("block", head.Number.Uint64()).Msg("new head")
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tokens", s.handleTokens)
	mux.HandleFunc("/snapshots", s.handleSnapshots)

	mux.HandleFunc("/admin/ui", s.handleUI)
	mux.HandleFunc("/admin/unlock", s.handleUnlock)
	mux.HandleFunc("/admin/lock", s.handleLock)
	mux.HandleFunc("/admin/account", s.handleAccount)
	mux.HandleFunc("/admin/ignore", s.handleIgnore)
	mux.HandleFunc("/admin/detect", s.handleDetect)

	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"active":           s.detector.IsActive(),
		"unlocked":         s.session.IsUnlocked(),
		"selected_address": s.prefs.SelectedAddress(),
		"tracked":          len(s.registry.TrackedAddresses()),
		"ignored":          len(s.registry.IgnoredAddresses()),
	})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.Tokens())
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "balance history not enabled", http.StatusNotFound)
		return
	}
	owner := domain.Address(r.URL.Query().Get("owner"))
	if owner == "" {
		owner = s.prefs.SelectedAddress()
	}
	snaps, err := s.history.ByOwner(r.Context(), owner)
	if err != nil {
		s.logger.Error().Err(err).Msg("query snapshots")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, snaps)
}

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Open bool `json:"open"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.detector.SetUIOpen(req.Open)
	writeJSON(w, map[string]bool{"open": req.Open})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.SetUnlocked(true)
	writeJSON(w, map[string]bool{"unlocked": true})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.SetUnlocked(false)
	writeJSON(w, map[string]bool{"unlocked": false})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Address domain.Address `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.prefs.SetSelectedAddress(req.Address)
	writeJSON(w, map[string]domain.Address{"selected_address": req.Address})
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Address domain.Address `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.registry.IgnoreToken(r.Context(), req.Address); err != nil {
		s.logger.Error().Err(err).Str("address", string(req.Address)).Msg("ignore token")
		http.Error(w, "ignore failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]domain.Address{"ignored": req.Address})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.detector.RestartDetection()
	writeJSON(w, map[string]bool{"restarted": s.detector.IsActive()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
	}
}
