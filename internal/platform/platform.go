package platform

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Platform identifies one supported streaming service.
//
// The set is closed: the status provider switches exhaustively over it, so
// adding a platform is a compile-visible change in one place.
type Platform string

const (
	Twitch  Platform = "twitch"
	YouTube Platform = "youtube"
	Kick    Platform = "kick"
	TikTok  Platform = "tiktok"
)

// All lists every supported platform in a stable order.
var All = []Platform{Twitch, YouTube, Kick, TikTok}

// Parse maps a config/storage string onto a known platform.
func Parse(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case Twitch, YouTube, Kick, TikTok:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported platform %q", s)
	}
}

func (p Platform) String() string { return string(p) }

// Scraped reports whether status for this platform is obtained by scraping
// rather than an official API.
func (p Platform) Scraped() bool {
	return p == Kick || p == TikTok
}

// ChannelURL returns the canonical public page for a handle, used both as the
// scrape target and as the fallback stream URL in notifications.
func (p Platform) ChannelURL(handle string) string {
	switch p {
	case Twitch:
		return "https://twitch.tv/" + handle
	case YouTube:
		return "https://youtube.com/@" + handle
	case Kick:
		return "https://kick.com/" + handle
	case TikTok:
		return "https://tiktok.com/@" + handle
	default:
		return ""
	}
}

// ErrNotFound is the definite-negative result: the platform authoritatively
// reported that the account does not exist. Callers must not retry it.
var ErrNotFound = errors.New("account not found on platform")

// Snapshot is one point-in-time best-effort status read for an account.
//
// Only IsLive is mandatory; the remaining fields are independently optional
// and their absence never invalidates the snapshot.
type Snapshot struct {
	Platform Platform
	Handle   string
	IsLive   bool

	Title        string
	URL          string
	ThumbnailURL string
	Category     string
	ViewerCount  int64 // -1 when unknown
	StartedAt    time.Time

	CheckedAt time.Time
}

// Identity is the platform-side profile for a handle, fetched once when an
// account is registered.
type Identity struct {
	Platform    Platform
	NativeID    string
	Handle      string
	DisplayName string
	AvatarURL   string
	Followers   int64
}
