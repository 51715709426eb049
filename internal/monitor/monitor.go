// Package monitor drives the poll cycle: on a fixed cadence it snapshots
// every tracked account, diffs against the last known state, persists
// transition events and hands went-live transitions to the dispatcher.
package monitor

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"streamwatch/internal/platform"
	"streamwatch/internal/storage"
	"streamwatch/pkg/logx"
)

// StatusProvider yields one snapshot per account. (nil, nil) means "no
// information this cycle" and must leave the account untouched.
type StatusProvider interface {
	GetStatus(ctx context.Context, p platform.Platform, nativeID, handle string) (*platform.Snapshot, error)
}

// Notifier receives went-live transitions. Delivery failures are the
// dispatcher's problem; the monitor never sees them.
type Notifier interface {
	DispatchLive(ctx context.Context, acc *storage.Account, snap *platform.Snapshot)
}

type Config struct {
	IntervalMinutes int
	WarmupDelay     time.Duration // first check shortly after start
	CheckTimeout    time.Duration // budget for one account's check + persist
	Concurrency     int           // accounts checked concurrently per group
	GroupPause      time.Duration // pause between groups within a cycle
}

func (c *Config) applyDefaults() {
	if c.IntervalMinutes <= 0 {
		c.IntervalMinutes = 5
	}
	if c.WarmupDelay <= 0 {
		c.WarmupDelay = 5 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 2 * time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.GroupPause < 0 {
		c.GroupPause = 0
	} else if c.GroupPause == 0 {
		c.GroupPause = time.Second
	}
}

type Monitor struct {
	provider StatusProvider
	accounts storage.AccountRepo
	events   storage.EventStore
	notifier Notifier
	log      logx.Logger

	mu        sync.Mutex
	cfg       Config
	c         *cron.Cron
	warmup    *time.Timer
	runCtx    context.Context
	runCancel context.CancelFunc

	// inflight serializes checks per account: successive cycles must never
	// race two checks for the same account, or transition detection races.
	inflight map[int64]struct{}
	wg       sync.WaitGroup

	now func() time.Time // injectable clock for tests
}

func New(cfg Config, provider StatusProvider, accounts storage.AccountRepo, events storage.EventStore, notifier Notifier, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.applyDefaults()
	return &Monitor{
		provider: provider,
		accounts: accounts,
		events:   events,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		inflight: make(map[int64]struct{}),
		now:      time.Now,
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil {
		return nil
	}
	m.runCtx, m.runCancel = context.WithCancel(ctx)

	if err := m.startCronLocked(); err != nil {
		m.runCancel()
		m.runCtx, m.runCancel = nil, nil
		return err
	}

	runCtx := m.runCtx
	m.warmup = time.AfterFunc(m.cfg.WarmupDelay, func() {
		if runCtx.Err() == nil {
			m.runCycle()
		}
	})

	m.log.Info("presence monitor started", logx.Int("interval_minutes", m.cfg.IntervalMinutes))
	return nil
}

func (m *Monitor) startCronLocked() error {
	c := cron.New()
	spec := cronSpec(m.cfg.IntervalMinutes)
	if _, err := c.AddFunc(spec, m.runCycle); err != nil {
		return err
	}
	c.Start()
	m.c = c
	return nil
}

func cronSpec(minutes int) string {
	if minutes == 1 {
		return "* * * * *"
	}
	return "*/" + strconv.Itoa(minutes) + " * * * *"
}

// Stop halts scheduling first, then waits for in-flight account checks to
// drain, bounded by ctx. Shared resources (browser, API clients) must only
// be closed after Stop returns.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.c
	warmup := m.warmup
	cancel := m.runCancel
	m.c = nil
	m.warmup = nil
	m.runCtx, m.runCancel = nil, nil
	m.mu.Unlock()

	if c == nil && cancel == nil {
		return
	}
	if warmup != nil {
		warmup.Stop()
	}
	// c is nil while Apply is mid-swap; the old cron is already stopping and
	// clearing runCtx above keeps Apply from installing a new one.
	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Give up waiting; per-call timeouts will end the stragglers.
		if cancel != nil {
			cancel()
		}
		<-done
		m.log.Info("presence monitor stopped")
		return
	}
	if cancel != nil {
		cancel()
	}
	m.log.Info("presence monitor stopped")
}

// Apply swaps config at runtime; a changed interval restarts the cron timer.
//
// The old cron drains outside m.mu: a cron-fired cycle still in flight takes
// the lock in release(), so waiting for it under the lock would wedge the
// monitor for good.
func (m *Monitor) Apply(cfg Config) {
	cfg.applyDefaults()
	m.mu.Lock()
	changed := cfg.IntervalMinutes != m.cfg.IntervalMinutes
	m.cfg = cfg
	c := m.c
	if !changed || c == nil {
		m.mu.Unlock()
		return
	}
	m.c = nil
	m.mu.Unlock()

	<-c.Stop().Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx == nil {
		// Stopped while the old cron drained; stay stopped.
		return
	}
	if err := m.startCronLocked(); err != nil {
		m.log.Error("monitor cron restart failed", logx.Err(err))
		return
	}
	m.log.Info("poll interval updated", logx.Int("interval_minutes", cfg.IntervalMinutes))
}

// runCycle checks all tracked accounts once, in sequential groups of
// Concurrency with a fixed pause between groups so no platform sees an
// unbounded burst. Within a group accounts are independent: each check runs
// in its own goroutine and the group collects all outcomes, so one
// misbehaving account cannot block the rest.
func (m *Monitor) runCycle() {
	m.mu.Lock()
	ctx := m.runCtx
	cfg := m.cfg
	m.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	accounts, err := m.accounts.ListAll(listCtx)
	cancel()
	if err != nil {
		m.log.Error("poll cycle: listing accounts failed", logx.Err(err))
		return
	}
	if len(accounts) == 0 {
		m.log.Debug("poll cycle: no tracked accounts")
		return
	}
	m.log.Debug("poll cycle started", logx.Int("accounts", len(accounts)))

	for start := 0; start < len(accounts); start += cfg.Concurrency {
		end := start + cfg.Concurrency
		if end > len(accounts) {
			end = len(accounts)
		}

		var groupWG sync.WaitGroup
		for _, acc := range accounts[start:end] {
			acc := acc
			if !m.acquire(acc.ID) {
				m.log.Debug("check still in flight; skipping this cycle",
					logx.String("handle", acc.Handle), logx.String("platform", acc.Platform.String()))
				continue
			}
			m.wg.Add(1)
			groupWG.Add(1)
			go func() {
				defer m.wg.Done()
				defer groupWG.Done()
				defer m.release(acc.ID)
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in account check",
							logx.String("handle", acc.Handle),
							logx.Any("panic", r),
							logx.String("stack", string(debug.Stack())))
					}
				}()
				m.checkAccount(ctx, acc, cfg)
			}()
		}
		groupWG.Wait()

		if end < len(accounts) && cfg.GroupPause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.GroupPause):
			}
		}
	}
}

func (m *Monitor) acquire(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[id]; busy {
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

func (m *Monitor) release(id int64) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// checkAccount fetches one snapshot and applies the transition table.
func (m *Monitor) checkAccount(ctx context.Context, acc *storage.Account, cfg Config) {
	cctx, cancel := context.WithTimeout(ctx, cfg.CheckTimeout)
	defer cancel()

	snap, err := m.provider.GetStatus(cctx, acc.Platform, acc.NativeID, acc.Handle)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			// Deactivating the account is the registration layer's call.
			m.log.Warn("account no longer exists on platform",
				logx.String("platform", acc.Platform.String()), logx.String("handle", acc.Handle))
		} else {
			m.log.Warn("status check failed",
				logx.String("platform", acc.Platform.String()), logx.String("handle", acc.Handle), logx.Err(err))
		}
		return
	}
	if snap == nil {
		// Unknown: a transient scrape failure must not fabricate an offline
		// transition, so the stored state stays exactly as it was.
		m.log.Debug("no status information this cycle",
			logx.String("platform", acc.Platform.String()), logx.String("handle", acc.Handle))
		return
	}

	m.applyTransition(cctx, acc, snap)
}

func (m *Monitor) applyTransition(ctx context.Context, acc *storage.Account, snap *platform.Snapshot) {
	wasLive := acc.IsLive
	nowLive := snap.IsLive
	now := m.now()

	acc.LastCheckedAt = now

	switch {
	case nowLive && !wasLive:
		acc.IsLive = true
		m.updateStreamFields(acc, snap)
		since := snap.StartedAt
		if since.IsZero() {
			since = now
		}
		acc.LiveSince = &since

		m.append(ctx, acc, storage.EventWentLive, snap)
		m.save(ctx, acc)
		m.log.Info("went live",
			logx.String("platform", acc.Platform.String()),
			logx.String("handle", acc.Handle),
			logx.String("title", snap.Title))
		if m.notifier != nil {
			m.notifier.DispatchLive(ctx, acc, snap)
		}

	case nowLive && wasLive:
		titleChanged := snap.Title != "" && acc.LastTitle != snap.Title
		m.updateStreamFields(acc, snap)
		if titleChanged {
			m.append(ctx, acc, storage.EventTitleChanged, snap)
		}
		m.save(ctx, acc)

	case !nowLive && wasLive:
		// Capture the last known metadata on the way out; the final snapshot
		// carries none.
		ev := &storage.PresenceEvent{
			AccountID:    acc.ID,
			Kind:         storage.EventWentOffline,
			Title:        acc.LastTitle,
			URL:          acc.LastStreamURL,
			ThumbnailURL: acc.LastThumbnail,
			ViewerCount:  -1,
			At:           now,
		}
		if err := m.events.Append(ctx, ev); err != nil {
			m.log.Error("event append failed", logx.String("handle", acc.Handle), logx.Err(err))
		}
		acc.IsLive = false
		acc.LiveSince = nil
		m.save(ctx, acc)
		m.log.Info("went offline",
			logx.String("platform", acc.Platform.String()),
			logx.String("handle", acc.Handle))

	default:
		// offline -> offline: only the check timestamp moves.
		m.save(ctx, acc)
	}
}

// updateStreamFields refreshes best-effort metadata without wiping known
// values with empty ones (a scrape that lost the title this cycle should not
// erase the stored title).
func (m *Monitor) updateStreamFields(acc *storage.Account, snap *platform.Snapshot) {
	if snap.Title != "" {
		acc.LastTitle = snap.Title
	}
	if snap.URL != "" {
		acc.LastStreamURL = snap.URL
	}
	if snap.ThumbnailURL != "" {
		acc.LastThumbnail = snap.ThumbnailURL
	}
}

func (m *Monitor) append(ctx context.Context, acc *storage.Account, kind storage.EventKind, snap *platform.Snapshot) {
	ev := &storage.PresenceEvent{
		AccountID:    acc.ID,
		Kind:         kind,
		Title:        snap.Title,
		URL:          snap.URL,
		ThumbnailURL: snap.ThumbnailURL,
		ViewerCount:  snap.ViewerCount,
		At:           m.now(),
	}
	if err := m.events.Append(ctx, ev); err != nil {
		m.log.Error("event append failed",
			logx.String("handle", acc.Handle), logx.String("kind", string(kind)), logx.Err(err))
	}
}

func (m *Monitor) save(ctx context.Context, acc *storage.Account) {
	if err := m.accounts.SaveStatus(ctx, acc); err != nil {
		m.log.Error("account status save failed", logx.String("handle", acc.Handle), logx.Err(err))
	}
}
