package scrape

import (
	"context"
	"net/http"
	"sync"
	"time"

	"streamwatch/internal/platform"
	"streamwatch/pkg/logx"
)

// Config controls the scraping pipeline.
type Config struct {
	EnableKick   bool
	EnableTikTok bool

	MaxRetries  int           // attempts per Check call
	RetryBase   time.Duration // sleep base; attempt N waits base*N
	CallTimeout time.Duration // per external call
	BatchSize   int           // concurrent checks per group
	BatchPause  time.Duration // pause between groups
	SettleDelay time.Duration // rendered-page settle wait
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.BatchPause < 0 {
		c.BatchPause = 0
	} else if c.BatchPause == 0 {
		c.BatchPause = time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 3 * time.Second
	}
}

// Request names one account to check.
type Request struct {
	Platform platform.Platform
	Handle   string
}

// Orchestrator is the single entry point for scrape-backed status checks.
// It owns the strategies and the shared browser, and applies the retry and
// batching policy on top of them.
type Orchestrator struct {
	log     logx.Logger
	browser *Browser

	mu         sync.Mutex
	cfg        Config
	strategies map[platform.Platform]Strategy
	running    bool
}

func New(cfg Config, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.applyDefaults()
	o := &Orchestrator{
		log:     log,
		browser: NewBrowser(desktopUserAgent, log),
		cfg:     cfg,
	}
	o.strategies = o.buildStrategies(cfg)
	return o
}

func (o *Orchestrator) buildStrategies(cfg Config) map[platform.Platform]Strategy {
	client := &http.Client{Timeout: cfg.CallTimeout}
	m := make(map[platform.Platform]Strategy, 2)
	if cfg.EnableKick {
		m[platform.Kick] = NewKick(client, o.browser, cfg.SettleDelay, o.log)
	}
	if cfg.EnableTikTok {
		m[platform.TikTok] = NewTikTok(client, o.browser, cfg.SettleDelay, o.log)
	}
	return m
}

// Init marks the orchestrator ready. The browser itself launches lazily on
// the first rendered fetch, so a missing Chrome binary doesn't block startup
// while the lightweight path still works.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.mu.Lock()
	o.running = true
	n := len(o.strategies)
	o.mu.Unlock()
	o.log.Info("scraper orchestrator initialized", logx.Int("strategies", n))
	return nil
}

// Close stops accepting checks and shuts the shared browser down. In-flight
// calls finish on their own per-call timeouts.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	o.browser.Close()
	o.log.Info("scraper orchestrator closed")
}

// Apply swaps config at runtime (hot reload).
func (o *Orchestrator) Apply(cfg Config) {
	cfg.applyDefaults()
	o.mu.Lock()
	o.cfg = cfg
	o.strategies = o.buildStrategies(cfg)
	o.mu.Unlock()
}

// Check returns the current snapshot for one account, or nil after retry
// exhaustion. A nil result means "no information this cycle": the caller must
// not treat it as offline.
func (o *Orchestrator) Check(ctx context.Context, p platform.Platform, handle string) *platform.Snapshot {
	o.mu.Lock()
	cfg := o.cfg
	strat := o.strategies[p]
	running := o.running
	o.mu.Unlock()

	if !running {
		o.log.Warn("check requested before init", logx.String("platform", p.String()))
		return nil
	}
	if strat == nil {
		o.log.Warn("scraping disabled for platform", logx.String("platform", p.String()))
		return nil
	}

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		snap, err := strat.FetchStatus(cctx, handle)
		cancel()
		if err == nil && snap != nil {
			o.log.Debug("stream check",
				logx.String("platform", p.String()),
				logx.String("handle", handle),
				logx.Bool("live", snap.IsLive),
				logx.Int("attempt", attempt))
			return snap
		}
		o.log.Warn("stream check attempt failed",
			logx.String("platform", p.String()),
			logx.String("handle", handle),
			logx.Int("attempt", attempt),
			logx.Int("max", cfg.MaxRetries),
			logx.Err(err))
		if attempt == cfg.MaxRetries {
			break
		}
		// Linear backoff between attempts.
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.RetryBase * time.Duration(attempt)):
		}
	}
	return nil
}

// CheckAll checks N accounts in sequential groups of BatchSize; within a
// group all calls run concurrently, and a fixed pause separates groups so no
// platform sees an unbounded burst. Results align with reqs by index; a nil
// entry means that check failed.
func (o *Orchestrator) CheckAll(ctx context.Context, reqs []Request) []*platform.Snapshot {
	o.mu.Lock()
	batch := o.cfg.BatchSize
	pause := o.cfg.BatchPause
	o.mu.Unlock()

	results := make([]*platform.Snapshot, len(reqs))
	for start := 0; start < len(reqs); start += batch {
		end := start + batch
		if end > len(reqs) {
			end = len(reqs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = o.Check(ctx, reqs[i].Platform, reqs[i].Handle)
			}()
		}
		wg.Wait()

		if end < len(reqs) && pause > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(pause):
			}
		}
	}
	return results
}

// Health checks each enabled platform with a synthetic handle, going through
// the same batched CheckAll pipeline real accounts use. Healthy means the
// pipeline executed and tagged the result with the expected platform; it says
// nothing about whether real accounts resolve.
func (o *Orchestrator) Health(ctx context.Context) map[platform.Platform]bool {
	o.mu.Lock()
	platforms := make([]platform.Platform, 0, len(o.strategies))
	for p := range o.strategies {
		platforms = append(platforms, p)
	}
	o.mu.Unlock()

	const probeHandle = "streamwatch_health_probe"
	reqs := make([]Request, len(platforms))
	for i, p := range platforms {
		reqs[i] = Request{Platform: p, Handle: probeHandle}
	}
	snaps := o.CheckAll(ctx, reqs)

	out := make(map[platform.Platform]bool, len(platforms))
	for i, p := range platforms {
		out[p] = snaps[i] != nil && snaps[i].Platform == p
	}
	return out
}
