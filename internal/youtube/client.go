package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"streamwatch/internal/platform"
	"streamwatch/pkg/logx"
)

const (
	apiBase = "https://www.googleapis.com/youtube/v3"

	// Bounded retry for transient failures; definite answers never retry.
	maxTransientRetries = 2
)

type Config struct {
	APIKey  string
	Timeout time.Duration
}

// Client talks to the YouTube Data API v3 with an API key. Live status costs
// two calls: a live-event search on the channel, then a videos lookup for
// viewer count and start time.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	baseURL string // overridable in tests

	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("youtube api key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
		baseURL: apiBase,
		// Data API quota is tight (10k units/day, search costs 100); keep
		// request pacing conservative.
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}, nil
}

// GetIdentity resolves a channel handle to its channel id and profile.
func (c *Client) GetIdentity(ctx context.Context, handle string) (*platform.Identity, error) {
	var out struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title      string `json:"title"`
				CustomURL  string `json:"customUrl"`
				Thumbnails struct {
					Default struct {
						URL string `json:"url"`
					} `json:"default"`
				} `json:"thumbnails"`
			} `json:"snippet"`
			Statistics struct {
				SubscriberCount string `json:"subscriberCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	q := url.Values{
		"part":      {"snippet,statistics"},
		"forHandle": {handle},
	}
	if err := c.get(ctx, "/channels", q, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, platform.ErrNotFound
	}
	ch := out.Items[0]

	subs, _ := strconv.ParseInt(ch.Statistics.SubscriberCount, 10, 64)
	return &platform.Identity{
		Platform:    platform.YouTube,
		NativeID:    ch.ID,
		Handle:      strings.TrimPrefix(ch.Snippet.CustomURL, "@"),
		DisplayName: ch.Snippet.Title,
		AvatarURL:   ch.Snippet.Thumbnails.Default.URL,
		Followers:   subs,
	}, nil
}

// GetLiveStatus reports whether the channel currently has a live broadcast.
// No live search hit is a definite "offline".
func (c *Client) GetLiveStatus(ctx context.Context, channelID string) (*platform.Snapshot, error) {
	var search struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title        string `json:"title"`
				ChannelTitle string `json:"channelTitle"`
			} `json:"snippet"`
		} `json:"items"`
	}
	q := url.Values{
		"part":      {"snippet"},
		"channelId": {channelID},
		"eventType": {"live"},
		"type":      {"video"},
	}
	if err := c.get(ctx, "/search", q, &search); err != nil {
		return nil, err
	}

	snap := &platform.Snapshot{
		Platform:    platform.YouTube,
		ViewerCount: -1,
		CheckedAt:   time.Now(),
	}
	if len(search.Items) == 0 {
		return snap, nil
	}

	hit := search.Items[0]
	snap.IsLive = true
	snap.Title = hit.Snippet.Title
	snap.URL = "https://youtube.com/watch?v=" + hit.ID.VideoID

	// Viewer count and start time come from the videos endpoint; best-effort.
	var videos struct {
		Items []struct {
			Snippet struct {
				Thumbnails struct {
					High struct {
						URL string `json:"url"`
					} `json:"high"`
				} `json:"thumbnails"`
			} `json:"snippet"`
			LiveStreamingDetails struct {
				ConcurrentViewers string    `json:"concurrentViewers"`
				ActualStartTime   time.Time `json:"actualStartTime"`
			} `json:"liveStreamingDetails"`
		} `json:"items"`
	}
	vq := url.Values{
		"part": {"snippet,liveStreamingDetails"},
		"id":   {hit.ID.VideoID},
	}
	if err := c.get(ctx, "/videos", vq, &videos); err != nil {
		c.log.Debug("youtube video detail lookup failed", logx.String("video", hit.ID.VideoID), logx.Err(err))
		return snap, nil
	}
	if len(videos.Items) > 0 {
		v := videos.Items[0]
		if n, err := strconv.ParseInt(v.LiveStreamingDetails.ConcurrentViewers, 10, 64); err == nil {
			snap.ViewerCount = n
		}
		snap.StartedAt = v.LiveStreamingDetails.ActualStartTime
		snap.ThumbnailURL = v.Snippet.Thumbnails.High.URL
	}
	return snap, nil
}

// get performs a Data API GET with bounded transient retries; a definite
// not-found surfaces immediately.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		err := c.getOnce(ctx, path, q, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, platform.ErrNotFound) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) getOnce(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	q.Set("key", c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusNotFound:
		return platform.ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("youtube: GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
