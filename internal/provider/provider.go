// Package provider unifies official-API clients and the scraper orchestrator
// behind one status interface. It is the only place that switches on the
// platform enum, so an added platform fails loudly here and nowhere else.
package provider

import (
	"context"
	"fmt"
	"time"

	"streamwatch/internal/platform"
	"streamwatch/pkg/logx"
)

// OfficialClient is the contract an API-backed platform client fulfills.
type OfficialClient interface {
	GetIdentity(ctx context.Context, handle string) (*platform.Identity, error)
	GetLiveStatus(ctx context.Context, nativeID string) (*platform.Snapshot, error)
}

// Scraper is the scrape-side status source (the orchestrator).
type Scraper interface {
	Check(ctx context.Context, p platform.Platform, handle string) *platform.Snapshot
}

// Provider dispatches status requests per platform. A nil client disables
// that platform: its accounts yield "unknown" every cycle instead of errors.
type Provider struct {
	twitch  OfficialClient
	youtube OfficialClient
	scraper Scraper
	log     logx.Logger
}

func New(twitchClient, youtubeClient OfficialClient, scraper Scraper, log logx.Logger) *Provider {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Provider{twitch: twitchClient, youtube: youtubeClient, scraper: scraper, log: log}
}

// GetStatus returns the current snapshot for one account.
//
// A (nil, nil) return means "no information this cycle" (transient failure
// after bounded retries, or the platform is disabled); platform.ErrNotFound
// is the definite negative.
func (pr *Provider) GetStatus(ctx context.Context, p platform.Platform, nativeID, handle string) (*platform.Snapshot, error) {
	var (
		snap *platform.Snapshot
		err  error
	)
	switch p {
	case platform.Twitch:
		if pr.twitch == nil {
			pr.log.Debug("twitch disabled; skipping check", logx.String("handle", handle))
			return nil, nil
		}
		snap, err = pr.twitch.GetLiveStatus(ctx, nativeID)
	case platform.YouTube:
		if pr.youtube == nil {
			pr.log.Debug("youtube disabled; skipping check", logx.String("handle", handle))
			return nil, nil
		}
		snap, err = pr.youtube.GetLiveStatus(ctx, nativeID)
	case platform.Kick, platform.TikTok:
		snap = pr.scraper.Check(ctx, p, handle)
	default:
		return nil, fmt.Errorf("unsupported platform %q", p)
	}
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	normalize(snap, p, handle)
	return snap, nil
}

// Resolve fetches platform-side identity for a handle, used at registration.
// Scrape-only platforms have no identity endpoint; the handle stands in for
// the native id there.
func (pr *Provider) Resolve(ctx context.Context, p platform.Platform, handle string) (*platform.Identity, error) {
	switch p {
	case platform.Twitch:
		if pr.twitch == nil {
			return nil, fmt.Errorf("twitch is disabled")
		}
		return pr.twitch.GetIdentity(ctx, handle)
	case platform.YouTube:
		if pr.youtube == nil {
			return nil, fmt.Errorf("youtube is disabled")
		}
		return pr.youtube.GetIdentity(ctx, handle)
	case platform.Kick, platform.TikTok:
		return &platform.Identity{
			Platform:    p,
			NativeID:    handle,
			Handle:      handle,
			DisplayName: handle,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", p)
	}
}

// normalize backfills fields every consumer relies on, so downstream code
// never has to special-case which source produced the snapshot.
func normalize(snap *platform.Snapshot, p platform.Platform, handle string) {
	snap.Platform = p
	if snap.Handle == "" {
		snap.Handle = handle
	}
	if snap.URL == "" {
		snap.URL = p.ChannelURL(handle)
	}
	if snap.CheckedAt.IsZero() {
		snap.CheckedAt = time.Now()
	}
}
