package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"streamwatch/internal/platform"
)

// Strategy produces a best-effort status snapshot for one account on one
// scrape-only platform. Implementations try a lightweight HTTP fetch first
// and escalate to a rendered-page fetch only when the lightweight probe was
// inconclusive, so the expensive browser path stays off the common case.
type Strategy interface {
	Platform() platform.Platform
	FetchStatus(ctx context.Context, handle string) (*platform.Snapshot, error)
}

// probeVerdict is the three-way outcome of the lightweight fetch.
//
// Inconclusive is deliberately distinct from offline: a blocked request or an
// anti-bot wall must escalate to the browser rather than mislabel a live
// stream as offline.
type probeVerdict int

const (
	probeInconclusive probeVerdict = iota
	probeOffline
	probeLive
)

func (v probeVerdict) String() string {
	switch v {
	case probeLive:
		return "live"
	case probeOffline:
		return "offline"
	default:
		return "inconclusive"
	}
}

const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// fetchDocument issues a browser-like GET and parses the body. A nil document
// with a non-nil error means the probe is inconclusive, never offline.
func fetchDocument(ctx context.Context, client *http.Client, url, userAgent, referer string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Referer", referer)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

// firstText returns the first non-empty trimmed text among the ordered
// selectors. Fields extracted this way are independently best-effort.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// firstAttr returns the first non-empty attribute value among the ordered
// (selector, attribute) pairs.
func firstAttr(doc *goquery.Document, pairs ...[2]string) string {
	for _, p := range pairs {
		if v, ok := doc.Find(p[0]).First().Attr(p[1]); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var viewerRe = regexp.MustCompile(`(\d[\d,.]*)\s*([KkMm])?`)

// parseViewerCount pulls a number out of text like "1,234 viewers" or "1.2K".
// Returns -1 when nothing usable is found.
func parseViewerCount(text string) int64 {
	m := viewerRe.FindStringSubmatch(text)
	if m == nil {
		return -1
	}
	raw := strings.ReplaceAll(m[1], ",", "")
	mult := int64(1)
	switch strings.ToLower(m[2]) {
	case "k":
		mult = 1_000
	case "m":
		mult = 1_000_000
	}
	if strings.Contains(raw, ".") {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return -1
		}
		return int64(f * float64(mult))
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return n * mult
}

// absoluteURL resolves src against the platform origin when the markup used a
// relative path.
func absoluteURL(origin, src string) string {
	if src == "" || strings.HasPrefix(src, "http") {
		return src
	}
	return origin + src
}
