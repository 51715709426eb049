package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"streamwatch/internal/platform"
	"streamwatch/pkg/logx"
)

const (
	helixBase = "https://api.twitch.tv/helix"
	tokenURL  = "https://id.twitch.tv/oauth2/token"

	// Refresh the app token this long before it actually expires.
	tokenEarlyRefresh = time.Minute

	// Bounded retry for transient failures; definite answers never retry.
	maxTransientRetries = 2
)

type Config struct {
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client talks to the Twitch Helix API using an app access token.
//
// The token is process-wide shared state: concurrent callers read the cached
// value, and when it is close to expiry exactly one refresh runs while the
// others wait on it (singleflight).
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	// Overridable in tests.
	baseURL  string
	tokenURL string

	limiter *rate.Limiter
	group   singleflight.Group

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("twitch client id and secret are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      log,
		baseURL:  helixBase,
		tokenURL: tokenURL,
		// Helix allows 800 points/min for app tokens; stay well under it.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}, nil
}

// GetIdentity resolves a login name to the platform-side profile, including
// follower count and avatar. Used once at registration time.
func (c *Client) GetIdentity(ctx context.Context, handle string) (*platform.Identity, error) {
	var users struct {
		Data []struct {
			ID              string `json:"id"`
			Login           string `json:"login"`
			DisplayName     string `json:"display_name"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	q := url.Values{"login": {handle}}
	if err := c.get(ctx, "/users", q, &users); err != nil {
		return nil, err
	}
	if len(users.Data) == 0 {
		return nil, platform.ErrNotFound
	}
	u := users.Data[0]

	ident := &platform.Identity{
		Platform:    platform.Twitch,
		NativeID:    u.ID,
		Handle:      u.Login,
		DisplayName: u.DisplayName,
		AvatarURL:   u.ProfileImageURL,
	}

	// Follower count is best-effort; a failure here must not fail the lookup.
	var followers struct {
		Total int64 `json:"total"`
	}
	fq := url.Values{"broadcaster_id": {u.ID}}
	if err := c.get(ctx, "/channels/followers", fq, &followers); err != nil {
		c.log.Debug("twitch follower lookup failed", logx.String("handle", handle), logx.Err(err))
	} else {
		ident.Followers = followers.Total
	}
	return ident, nil
}

// GetLiveStatus returns the current stream snapshot for a user id. An empty
// result set is a definite "offline", not a failure.
func (c *Client) GetLiveStatus(ctx context.Context, nativeID string) (*platform.Snapshot, error) {
	var streams struct {
		Data []struct {
			UserName     string    `json:"user_name"`
			UserLogin    string    `json:"user_login"`
			Title        string    `json:"title"`
			GameName     string    `json:"game_name"`
			ViewerCount  int64     `json:"viewer_count"`
			StartedAt    time.Time `json:"started_at"`
			ThumbnailURL string    `json:"thumbnail_url"`
		} `json:"data"`
	}
	q := url.Values{"user_id": {nativeID}}
	if err := c.get(ctx, "/streams", q, &streams); err != nil {
		return nil, err
	}

	snap := &platform.Snapshot{
		Platform:    platform.Twitch,
		ViewerCount: -1,
		CheckedAt:   time.Now(),
	}
	if len(streams.Data) == 0 {
		return snap, nil
	}

	st := streams.Data[0]
	snap.IsLive = true
	snap.Handle = st.UserLogin
	snap.Title = st.Title
	snap.Category = st.GameName
	snap.ViewerCount = st.ViewerCount
	snap.StartedAt = st.StartedAt
	snap.URL = platform.Twitch.ChannelURL(st.UserLogin)
	snap.ThumbnailURL = strings.NewReplacer("{width}", "1920", "{height}", "1080").Replace(st.ThumbnailURL)
	return snap, nil
}

// get performs an authenticated Helix GET with bounded transient retries.
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
		switch {
		case err == nil:
			return nil
		case errors.Is(err, platform.ErrNotFound):
			// Definite negative: surface immediately, never retry.
			return err
		case errors.Is(err, errUnauthorized):
			// Token may have been revoked server-side; drop it and retry.
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
			lastErr = err
		default:
			lastErr = err
		}
	}
	return lastErr
}

var errUnauthorized = errors.New("twitch: unauthorized")

func (c *Client) getOnce(ctx context.Context, path string, q url.Values, out any) error {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-ID", c.cfg.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusNotFound:
		return platform.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return errUnauthorized
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twitch: GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// accessToken returns the cached app token, refreshing it proactively when
// it is within tokenEarlyRefresh of expiry. Concurrent expirations share one
// refresh call.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok, exp := c.token, c.tokenExpiry
	c.mu.Unlock()
	if tok != "" && time.Now().Before(exp.Add(-tokenEarlyRefresh)) {
		return tok, nil
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		// Another waiter may have refreshed while we queued.
		c.mu.Lock()
		tok, exp := c.token, c.tokenExpiry
		c.mu.Unlock()
		if tok != "" && time.Now().Before(exp.Add(-tokenEarlyRefresh)) {
			return tok, nil
		}
		return c.refreshToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("twitch: token refresh: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", errors.New("twitch: token refresh returned empty token")
	}

	c.mu.Lock()
	c.token = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	c.mu.Unlock()
	c.log.Debug("twitch app token refreshed", logx.Duration("ttl", time.Duration(tr.ExpiresIn)*time.Second))
	return tr.AccessToken, nil
}
