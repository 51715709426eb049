package storage

import (
	"context"
	"errors"
	"time"

	"streamwatch/internal/platform"
)

var ErrNoSuchAccount = errors.New("no such account")

// Account is one tracked creator identity on one platform.
//
// Identity fields (platform, native id, handle, display name) are owned by
// the registration layer; the presence fields (IsLive, Last*, LiveSince) are
// mutated only by the monitor through SaveStatus.
type Account struct {
	ID          int64
	Platform    platform.Platform
	NativeID    string
	Handle      string
	DisplayName string
	AvatarURL   string
	Followers   int64

	IsLive        bool
	LastTitle     string
	LastStreamURL string
	LastThumbnail string
	LiveSince     *time.Time
	LastCheckedAt time.Time

	CreatedAt time.Time
}

// EventKind tags a detected presence transition.
type EventKind string

const (
	EventWentLive     EventKind = "went_live"
	EventWentOffline  EventKind = "went_offline"
	EventTitleChanged EventKind = "title_changed"
)

// PresenceEvent is an immutable, append-only record of one transition.
// ViewerCount is -1 when the platform did not report one.
type PresenceEvent struct {
	ID           int64
	AccountID    int64
	Kind         EventKind
	Title        string
	URL          string
	ThumbnailURL string
	ViewerCount  int64
	At           time.Time
}

// Subscription routes notifications for one account to one guild channel.
// Template and Mention are optional; empty Template means the default one.
type Subscription struct {
	ID        int64
	AccountID int64
	GuildID   string
	ChannelID string
	Template  string
	Mention   string
	Active    bool
	CreatedBy string
	CreatedAt time.Time
}

// AccountRepo is the account persistence contract the monitor needs.
type AccountRepo interface {
	Get(ctx context.Context, p platform.Platform, nativeID string) (*Account, error)
	ListAll(ctx context.Context) ([]*Account, error)
	// SaveStatus persists only the presence fields of acc (IsLive, Last*,
	// LiveSince, LastCheckedAt). Identity fields are never written here.
	SaveStatus(ctx context.Context, acc *Account) error
}

// EventStore appends presence transitions. The core never reads them back;
// reads belong to the dashboard/API layer.
type EventStore interface {
	Append(ctx context.Context, ev *PresenceEvent) error
}

// SubscriptionRepo is read-only from the core's perspective.
type SubscriptionRepo interface {
	ListActiveForAccount(ctx context.Context, accountID int64) ([]*Subscription, error)
}
