package scrape

import (
	"context"
	"errors"
	"sync"

	"github.com/chromedp/chromedp"

	"streamwatch/pkg/logx"
)

// Browser owns the one headless Chrome process shared by all rendered-page
// fetches. It launches lazily on first use and relaunches when the process
// has died or a caller invalidated the handle after a failed run.
//
// All state transitions happen under mu; tabs derived from the browser
// context stay valid across calls as long as the process lives.
type Browser struct {
	userAgent string
	log       logx.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewBrowser(userAgent string, log logx.Logger) *Browser {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Browser{userAgent: userAgent, log: log}
}

// Tab returns a fresh tab context on the shared browser, launching or
// relaunching the process first if needed. The caller must invoke cancel to
// close the tab.
func (b *Browser) Tab() (context.Context, context.CancelFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureLocked(); err != nil {
		return nil, nil, err
	}
	tab, cancel := chromedp.NewContext(b.ctx)
	return tab, cancel, nil
}

// Invalidate drops the current browser handle so the next Tab() relaunches.
// Called by strategies when a run failed in a way that suggests the process
// is gone (crash, manual kill, OOM).
func (b *Browser) Invalidate() {
	b.mu.Lock()
	b.closeLocked()
	b.mu.Unlock()
}

func (b *Browser) Close() {
	b.mu.Lock()
	b.closeLocked()
	b.mu.Unlock()
}

func (b *Browser) ensureLocked() error {
	if b.ctx != nil && b.ctx.Err() == nil {
		return nil
	}
	b.closeLocked()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.UserAgent(b.userAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// Start the process now so a broken Chrome install surfaces here, not
	// halfway through a navigation.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return errors.Join(errBrowserLaunch, err)
	}

	b.allocCancel = allocCancel
	b.ctx = ctx
	b.cancel = cancel
	b.log.Debug("headless browser launched")
	return nil
}

func (b *Browser) closeLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.ctx = nil
}

var errBrowserLaunch = errors.New("browser launch failed")
