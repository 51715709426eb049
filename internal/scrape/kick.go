package scrape

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"streamwatch/internal/platform"
	"streamwatch/pkg/logx"
)

// KickStrategy scrapes kick.com channel pages.
type KickStrategy struct {
	http    *http.Client
	browser *Browser
	settle  time.Duration
	log     logx.Logger
}

func NewKick(client *http.Client, browser *Browser, settle time.Duration, log logx.Logger) *KickStrategy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &KickStrategy{http: client, browser: browser, settle: settle, log: log}
}

func (s *KickStrategy) Platform() platform.Platform { return platform.Kick }

func (s *KickStrategy) FetchStatus(ctx context.Context, handle string) (*platform.Snapshot, error) {
	snap, verdict := s.probe(ctx, handle)
	s.log.Debug("kick http probe", logx.String("handle", handle), logx.String("verdict", verdict.String()))
	if verdict != probeInconclusive {
		return snap, nil
	}
	return s.render(ctx, handle)
}

// probe is the lightweight technique: plain GET plus markup heuristics.
// A failed fetch is inconclusive so the caller escalates instead of
// mislabeling a live stream as offline.
func (s *KickStrategy) probe(ctx context.Context, handle string) (*platform.Snapshot, probeVerdict) {
	url := platform.Kick.ChannelURL(handle)
	doc, err := fetchDocument(ctx, s.http, url, desktopUserAgent, "https://kick.com/")
	if err != nil {
		s.log.Debug("kick http probe failed", logx.String("handle", handle), logx.Err(err))
		return nil, probeInconclusive
	}

	snap := &platform.Snapshot{
		Platform:    platform.Kick,
		Handle:      handle,
		URL:         url,
		ViewerCount: -1,
		CheckedAt:   time.Now(),
	}
	if !kickDetectLive(doc) {
		return snap, probeOffline
	}
	snap.IsLive = true
	kickExtract(doc, snap)
	return snap, probeLive
}

// render is the last-resort technique: load the page in the shared headless
// browser, let scripts settle, then apply the same selector heuristics to the
// rendered DOM. Always definite; missing indicators mean offline.
func (s *KickStrategy) render(ctx context.Context, handle string) (*platform.Snapshot, error) {
	url := platform.Kick.ChannelURL(handle)
	doc, err := renderDocument(ctx, s.browser, url, s.settle)
	if err != nil {
		return nil, err
	}

	snap := &platform.Snapshot{
		Platform:    platform.Kick,
		Handle:      handle,
		URL:         url,
		ViewerCount: -1,
		CheckedAt:   time.Now(),
	}
	if kickDetectLive(doc) {
		snap.IsLive = true
		kickExtract(doc, snap)
	}
	s.log.Debug("kick rendered check", logx.String("handle", handle), logx.Bool("live", snap.IsLive))
	return snap, nil
}

// kickDetectLive applies the ordered live-indicator heuristics.
func kickDetectLive(doc *goquery.Document) bool {
	badges := []string{".live-status", `[data-testid="live-badge"]`, ".stream-status", ".live-indicator"}
	for _, sel := range badges {
		if strings.Contains(strings.ToLower(doc.Find(sel).First().Text()), "live") {
			return true
		}
	}

	pageText := strings.ToLower(doc.Find("body").Text())
	if strings.Contains(pageText, "offline") || strings.Contains(pageText, "not streaming") {
		return false
	}

	hasVideo := doc.Find("video").Length() > 0
	hasLiveClass := doc.Find(`[class*="live"], [data-live="true"]`).Length() > 0
	return hasVideo && hasLiveClass
}

// kickExtract fills the optional fields; each is independently best-effort.
func kickExtract(doc *goquery.Document, snap *platform.Snapshot) {
	if t := firstText(doc, "h1", ".stream-title", `[data-testid="stream-title"]`); t != "" && t != "Kick" {
		snap.Title = t
	}
	if v := firstText(doc, ".viewer-count", `[data-testid="viewer-count"]`); v != "" {
		snap.ViewerCount = parseViewerCount(v)
	}
	snap.ThumbnailURL = absoluteURL("https://kick.com", firstAttr(doc,
		[2]string{"video[poster]", "poster"},
		[2]string{".stream-thumbnail img", "src"},
		[2]string{`[data-testid="stream-thumbnail"] img`, "src"},
	))
	snap.Category = firstText(doc, ".stream-category", `[data-testid="stream-category"]`, ".category-name")
}

// renderDocument navigates a fresh tab to url, waits for the page plus a
// fixed settle delay, and parses the resulting DOM. Shared by all strategies.
func renderDocument(ctx context.Context, browser *Browser, url string, settle time.Duration) (*goquery.Document, error) {
	tab, cancel, err := browser.Tab()
	if err != nil {
		return nil, err
	}
	defer cancel()

	// Honor the caller's per-call timeout on the tab context.
	if dl, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		tab, dcancel = context.WithDeadline(tab, dl)
		defer dcancel()
	}

	var html string
	err = chromedp.Run(tab,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		// The process may be gone; force a relaunch on the next call.
		browser.Invalidate()
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}
