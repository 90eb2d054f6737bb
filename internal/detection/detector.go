// Package detection implements the token auto-detection controller. It owns
// one repeating timer; every pass scans the static address book for fungible
// contracts the user neither tracks nor ignores, fetches the selected
// account's balances for all of them in one batched call, and registers
// every candidate holding a positive balance.
package detection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"evm-token-detect/internal/domain"
	"evm-token-detect/internal/network"
	"evm-token-detect/internal/observability"
	"evm-token-detect/internal/oracle"
	"evm-token-detect/internal/wallet"
)

// DefaultPollInterval is how often detection runs unless configured
// otherwise.
const DefaultPollInterval = 3 * time.Minute

// AddressBook is the static list of known token contracts.
type AddressBook interface {
	Entries() []domain.TokenListEntry
}

// Config configures a Detector. Every collaborator is optional: missing ones
// degrade to empty defaults (no tokens tracked or ignored, no selected
// address, locked) so a partially wired detector stays constructible.
type Config struct {
	// PollInterval defaults to DefaultPollInterval. Zero or negative
	// disables polling until SetInterval is called.
	PollInterval time.Duration

	Preferences wallet.PreferencesStore
	Registry    wallet.TokenRegistry
	Session     wallet.SessionLockStore
	Network     network.Context
	AddressBook AddressBook
	NewOracle   oracle.Factory

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Detector is the polling controller. Its state is mutated only from its own
// methods and subscription callbacks, all serialized through one mutex.
type Detector struct {
	prefs     wallet.PreferencesStore
	registry  wallet.TokenRegistry
	book      AddressBook
	newOracle oracle.Factory
	logger    zerolog.Logger
	metrics   *observability.Metrics

	defaultInterval time.Duration

	mu        sync.Mutex
	selected  domain.Address
	tracked   map[domain.Address]struct{}
	ignored   map[domain.Address]struct{}
	uiOpen    bool
	unlocked  bool
	network   network.Context
	session   wallet.SessionLockStore
	timerStop chan struct{}

	// inFlight serializes passes: a tick arriving while a pass is still
	// awaiting the balance fetch is skipped rather than overlapped.
	inFlight atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a Detector, snapshots the collaborators' current state,
// subscribes to their change feeds and starts the poll timer.
func New(cfg Config) *Detector {
	interval := cfg.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Detector{
		prefs:           cfg.Preferences,
		registry:        cfg.Registry,
		book:            cfg.AddressBook,
		newOracle:       cfg.NewOracle,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		defaultInterval: interval,
		tracked:         make(map[domain.Address]struct{}),
		ignored:         make(map[domain.Address]struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}

	if cfg.Preferences != nil {
		d.selected = cfg.Preferences.SelectedAddress()
		cfg.Preferences.OnChange(func(addr domain.Address) {
			d.mu.Lock()
			changed := d.selected != addr
			d.selected = addr
			d.mu.Unlock()
			if changed {
				d.RestartDetection()
			}
		})
	}

	d.refreshTokenSnapshots()
	if cfg.Registry != nil {
		cfg.Registry.OnChange(d.refreshTokenSnapshots)
	}

	d.SetNetwork(cfg.Network)
	d.SetLockStore(cfg.Session)
	d.SetInterval(interval)

	return d
}

// IsActive reports whether detection may run: the UI surface is open and the
// wallet is unlocked. Re-checked at the start of every pass, since either
// flag can flip between scheduling and firing.
func (d *Detector) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uiOpen && d.unlocked
}

// SetUIOpen records whether the host UI surface is currently open.
func (d *Detector) SetUIOpen(open bool) {
	d.mu.Lock()
	d.uiOpen = open
	d.mu.Unlock()
}

// SetInterval cancels any existing timer and, for a positive interval,
// installs a new repeating timer firing detection passes. Zero or negative
// disables polling. Safe to call repeatedly; at most one timer exists.
func (d *Detector) SetInterval(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timerStop != nil {
		close(d.timerStop)
		d.timerStop = nil
	}
	if interval <= 0 || d.closed.Load() {
		return
	}

	stop := make(chan struct{})
	d.timerStop = stop
	d.wg.Add(1)
	go d.pollLoop(interval, stop)
}

// SetNetwork binds the detector to a network. Nil is a no-op. The oracle
// transport is rebuilt from the bound network on every pass, so rebinding
// (or a chain id change inside the bound context) takes effect immediately.
func (d *Detector) SetNetwork(nc network.Context) {
	if nc == nil {
		return
	}
	d.mu.Lock()
	d.network = nc
	d.mu.Unlock()
}

// SetLockStore binds the session lock store. Nil is a no-op. Only
// transitions where the unlock flag actually changes are acted on; a
// locked→unlocked transition restarts detection.
func (d *Detector) SetLockStore(store wallet.SessionLockStore) {
	if store == nil {
		return
	}

	d.mu.Lock()
	d.session = store
	d.unlocked = store.IsUnlocked()
	d.mu.Unlock()

	store.OnChange(func(unlocked bool) {
		d.mu.Lock()
		if d.unlocked == unlocked {
			d.mu.Unlock()
			return
		}
		d.unlocked = unlocked
		d.mu.Unlock()

		if unlocked {
			d.RestartDetection()
		}
	})
}

// RestartDetection runs an immediate detection pass and re-arms the timer at
// the configured interval. No-op while inactive or without a selected
// address: on login or account switch stale state should not wait out the
// remainder of the previous period.
func (d *Detector) RestartDetection() {
	if !d.IsActive() {
		return
	}
	d.mu.Lock()
	owner := d.selected
	d.mu.Unlock()
	if owner == "" {
		return
	}

	d.DetectTokens(d.ctx)
	d.SetInterval(d.defaultInterval)
}

// Stop cancels the timer and all subscriptions' effects. An in-flight pass
// is allowed to finish.
func (d *Detector) Stop() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.cancel()
	d.SetInterval(0)
	d.wg.Wait()
}

// DetectTokens runs one detection pass. It returns silently when the
// detector is inactive, when the current chain is not mainnet, or when a
// pass is already in flight. Fetch failures are logged and abort the pass
// without affecting the timer.
func (d *Detector) DetectTokens(ctx context.Context) {
	if !d.IsActive() {
		d.skip("inactive")
		return
	}

	d.mu.Lock()
	nc := d.network
	owner := d.selected
	d.mu.Unlock()

	if nc == nil || nc.ChainID() != domain.MainnetChainID {
		d.skip("chain")
		return
	}
	if owner == "" || d.newOracle == nil || d.registry == nil || d.book == nil {
		d.skip("unconfigured")
		return
	}

	if !d.inFlight.CompareAndSwap(false, true) {
		d.skip("in_flight")
		return
	}
	defer d.inFlight.Store(false)

	start := time.Now()

	// The transport is rebuilt every pass: the network may have switched
	// since the last one.
	orc := d.newOracle(nc)

	candidates, meta := d.candidates()
	if d.metrics != nil {
		d.metrics.CandidatesSized.Observe(float64(len(candidates)))
	}
	if len(candidates) == 0 {
		return
	}

	balances, err := orc.FetchBalances(ctx, owner, candidates)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("op", "detect_tokens").
			Str("owner", string(owner)).
			Int("candidates", len(candidates)).
			Msg("token detection balance fetch failed")
		if d.metrics != nil {
			d.metrics.OracleErrors.Inc()
		}
		return
	}

	// The ignored set is re-read after the fetch: the user may have hidden a
	// token while the call was in flight.
	d.mu.Lock()
	ignored := make(map[domain.Address]struct{}, len(d.ignored))
	for addr := range d.ignored {
		ignored[addr] = struct{}{}
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, addr := range candidates {
		bal := balances[addr]
		if bal == nil || bal.Sign() <= 0 {
			continue
		}
		if _, hidden := ignored[addr]; hidden {
			continue
		}

		entry := meta[addr]
		token := domain.TrackedToken{Address: addr, Symbol: entry.Symbol, Decimals: entry.Decimals}

		// Registrations are independent: one failure never blocks siblings.
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.registry.AddToken(ctx, token); err != nil {
				d.logger.Warn().Err(err).
					Str("address", string(token.Address)).
					Str("symbol", token.Symbol).
					Msg("failed to register detected token")
				if d.metrics != nil {
					d.metrics.RegistrationErrors.Inc()
				}
				return
			}
			d.logger.Info().
				Str("address", string(token.Address)).
				Str("symbol", token.Symbol).
				Msg("detected token with balance")
			if d.metrics != nil {
				d.metrics.TokensDetected.Inc()
			}
		}()
	}
	wg.Wait()

	if d.metrics != nil {
		d.metrics.PassesRun.Inc()
		d.metrics.PassDuration.Observe(time.Since(start).Seconds())
	}
}

// candidates computes the pass's candidate set: fungible address book
// entries minus tracked minus ignored, compared case-insensitively. The
// returned meta map carries the address book metadata for registration.
func (d *Detector) candidates() ([]domain.Address, map[domain.Address]domain.TokenListEntry) {
	entries := d.book.Entries()

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []domain.Address
	meta := make(map[domain.Address]domain.TokenListEntry)
	for _, e := range entries {
		if !e.Fungible {
			continue
		}
		addr := domain.NormalizeAddress(e.Address)
		if _, ok := d.tracked[addr]; ok {
			continue
		}
		if _, ok := d.ignored[addr]; ok {
			continue
		}
		out = append(out, addr)
		meta[addr] = e
	}
	return out, meta
}

// refreshTokenSnapshots re-reads the registry's tracked and ignored sets.
// Runs at construction and on every registry change notification.
func (d *Detector) refreshTokenSnapshots() {
	if d.registry == nil {
		return
	}

	trackedAddrs := d.registry.TrackedAddresses()
	ignoredAddrs := d.registry.IgnoredAddresses()

	tracked := make(map[domain.Address]struct{}, len(trackedAddrs))
	for _, a := range trackedAddrs {
		tracked[domain.NormalizeAddress(a)] = struct{}{}
	}
	ignored := make(map[domain.Address]struct{}, len(ignoredAddrs))
	for _, a := range ignoredAddrs {
		ignored[domain.NormalizeAddress(a)] = struct{}{}
	}

	d.mu.Lock()
	d.tracked = tracked
	d.ignored = ignored
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.TrackedTokens.Set(float64(len(tracked)))
	}
}

func (d *Detector) skip(reason string) {
	if d.metrics != nil {
		d.metrics.PassesSkipped.WithLabelValues(reason).Inc()
	}
}

func (d *Detector) pollLoop(interval time.Duration, stop <-chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.DetectTokens(d.ctx)
		case <-stop:
			return
		case <-d.ctx.Done():
			return
		}
	}
}
