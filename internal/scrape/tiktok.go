package scrape

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"streamwatch/internal/platform"
	"streamwatch/pkg/logx"
)

const mobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1"

// TikTokStrategy scrapes tiktok.com live pages. The lightweight probe goes
// through the mobile site, which serves markup without script execution more
// often than the desktop one.
type TikTokStrategy struct {
	http    *http.Client
	browser *Browser
	settle  time.Duration
	log     logx.Logger
}

func NewTikTok(client *http.Client, browser *Browser, settle time.Duration, log logx.Logger) *TikTokStrategy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TikTokStrategy{http: client, browser: browser, settle: settle, log: log}
}

func (s *TikTokStrategy) Platform() platform.Platform { return platform.TikTok }

func (s *TikTokStrategy) FetchStatus(ctx context.Context, handle string) (*platform.Snapshot, error) {
	snap, verdict := s.probe(ctx, handle)
	s.log.Debug("tiktok http probe", logx.String("handle", handle), logx.String("verdict", verdict.String()))
	if verdict != probeInconclusive {
		return snap, nil
	}
	return s.render(ctx, handle)
}

func (s *TikTokStrategy) probe(ctx context.Context, handle string) (*platform.Snapshot, probeVerdict) {
	url := "https://m.tiktok.com/@" + handle + "/live"
	doc, err := fetchDocument(ctx, s.http, url, mobileUserAgent, "https://m.tiktok.com/")
	if err != nil {
		s.log.Debug("tiktok http probe failed", logx.String("handle", handle), logx.Err(err))
		return nil, probeInconclusive
	}

	snap := &platform.Snapshot{
		Platform:    platform.TikTok,
		Handle:      handle,
		URL:         platform.TikTok.ChannelURL(handle) + "/live",
		ViewerCount: -1,
		CheckedAt:   time.Now(),
	}
	if !tiktokDetectLive(doc) {
		return snap, probeOffline
	}
	snap.IsLive = true
	tiktokExtract(doc, snap)
	return snap, probeLive
}

func (s *TikTokStrategy) render(ctx context.Context, handle string) (*platform.Snapshot, error) {
	url := "https://www.tiktok.com/@" + handle + "/live"
	doc, err := renderDocument(ctx, s.browser, url, s.settle)
	if err != nil {
		return nil, err
	}

	snap := &platform.Snapshot{
		Platform:    platform.TikTok,
		Handle:      handle,
		URL:         platform.TikTok.ChannelURL(handle) + "/live",
		ViewerCount: -1,
		CheckedAt:   time.Now(),
	}
	if tiktokDetectLive(doc) {
		snap.IsLive = true
		tiktokExtract(doc, snap)
	}
	s.log.Debug("tiktok rendered check", logx.String("handle", handle), logx.Bool("live", snap.IsLive))
	return snap, nil
}

func tiktokDetectLive(doc *goquery.Document) bool {
	badges := []string{`[data-e2e="live-badge"]`, ".live-indicator", ".live-status", ".live-room-header"}
	for _, sel := range badges {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		// An empty badge node still counts; text, when present, must say live.
		t := strings.ToLower(strings.TrimSpace(node.Text()))
		if t == "" || strings.Contains(t, "live") {
			return true
		}
	}

	pageText := strings.ToLower(doc.Find("body").Text())
	if strings.Contains(pageText, "offline") || strings.Contains(pageText, "ended") {
		return false
	}
	return doc.Find("video").Length() > 0 && strings.Contains(pageText, "live")
}

func tiktokExtract(doc *goquery.Document, snap *platform.Snapshot) {
	snap.Title = firstText(doc, `[data-e2e="live-title"]`, ".live-title", "h1", ".room-title")
	if v := firstText(doc, `[data-e2e="live-people-count"]`, ".viewer-count", ".live-people-count"); v != "" {
		snap.ViewerCount = parseViewerCount(v)
	}
	snap.ThumbnailURL = absoluteURL("https://www.tiktok.com", firstAttr(doc,
		[2]string{"video[poster]", "poster"},
		[2]string{`[data-e2e="live-cover"] img`, "src"},
	))
}
