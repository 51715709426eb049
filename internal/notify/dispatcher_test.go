package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"streamwatch/internal/platform"
	"streamwatch/internal/storage"
	"streamwatch/pkg/logx"
)

type fakeSubs struct {
	subs []*storage.Subscription
	err  error
}

func (f *fakeSubs) ListActiveForAccount(ctx context.Context, accountID int64) ([]*storage.Subscription, error) {
	return f.subs, f.err
}

type fakeSink struct {
	mu    sync.Mutex
	sent  []Message
	dests []Destination
	fail  map[string]error // keyed by channel id
}

func (f *fakeSink) Send(ctx context.Context, dest Destination, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[dest.ChannelID]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	f.dests = append(f.dests, dest)
	return nil
}

func testAccount() *storage.Account {
	return &storage.Account{
		ID:          7,
		Platform:    platform.Kick,
		NativeID:    "ana",
		Handle:      "ana",
		DisplayName: "Ana",
	}
}

func testSnapshot() *platform.Snapshot {
	return &platform.Snapshot{
		Platform:    platform.Kick,
		Handle:      "ana",
		IsLive:      true,
		Title:       "Morning show",
		URL:         "https://kick.com/ana",
		ViewerCount: 120,
	}
}

func TestDispatchLiveFansOutToAllSubscribers(t *testing.T) {
	subs := &fakeSubs{subs: []*storage.Subscription{
		{ID: 1, AccountID: 7, GuildID: "g1", ChannelID: "c1", Active: true},
		{ID: 2, AccountID: 7, GuildID: "g1", ChannelID: "c2", Active: true},
		{ID: 3, AccountID: 7, GuildID: "g2", ChannelID: "c3", Active: true},
	}}
	sink := &fakeSink{}
	d := NewDispatcher(subs, sink, "", logx.Nop())

	d.DispatchLive(context.Background(), testAccount(), testSnapshot())

	if len(sink.sent) != 3 {
		t.Fatalf("delivered %d messages, want 3", len(sink.sent))
	}
	seen := map[string]bool{}
	for _, dest := range sink.dests {
		seen[dest.ChannelID] = true
	}
	for _, ch := range []string{"c1", "c2", "c3"} {
		if !seen[ch] {
			t.Errorf("channel %s got no delivery", ch)
		}
	}
}

func TestDispatchLiveFailureDoesNotBlockOthers(t *testing.T) {
	subs := &fakeSubs{subs: []*storage.Subscription{
		{ID: 1, AccountID: 7, ChannelID: "bad", Active: true},
		{ID: 2, AccountID: 7, ChannelID: "good", Active: true},
	}}
	sink := &fakeSink{fail: map[string]error{"bad": errors.New("missing access")}}
	d := NewDispatcher(subs, sink, "", logx.Nop())

	d.DispatchLive(context.Background(), testAccount(), testSnapshot())

	if len(sink.sent) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(sink.sent))
	}
	if sink.dests[0].ChannelID != "good" {
		t.Fatalf("delivery went to %s, want good", sink.dests[0].ChannelID)
	}
}

func TestDispatchLiveRendering(t *testing.T) {
	subs := &fakeSubs{subs: []*storage.Subscription{
		{ID: 1, AccountID: 7, ChannelID: "c1", Active: true, Mention: "123456", Template: "{streamer} live: {title}"},
	}}
	sink := &fakeSink{}
	d := NewDispatcher(subs, sink, "", logx.Nop())

	d.DispatchLive(context.Background(), testAccount(), testSnapshot())

	if len(sink.sent) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(sink.sent))
	}
	msg := sink.sent[0]
	if !strings.HasPrefix(msg.Content, "<@&123456>\n") {
		t.Fatalf("mention not prepended: %q", msg.Content)
	}
	if strings.Count(msg.Content, "<@&123456>") != 1 {
		t.Fatalf("mention appears more than once: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "Ana live: Morning show") {
		t.Fatalf("custom template not used: %q", msg.Content)
	}
	if msg.Embed == nil {
		t.Fatal("embed missing")
	}
	if msg.Embed.URL != "https://kick.com/ana" {
		t.Fatalf("embed url = %q", msg.Embed.URL)
	}
	if msg.Embed.PlatformName != "Kick" {
		t.Fatalf("embed platform = %q", msg.Embed.PlatformName)
	}
}

func TestDispatchLiveURLFallsBackToChannelURL(t *testing.T) {
	subs := &fakeSubs{subs: []*storage.Subscription{
		{ID: 1, AccountID: 7, ChannelID: "c1", Active: true, Template: "{url}"},
	}}
	sink := &fakeSink{}
	d := NewDispatcher(subs, sink, "", logx.Nop())

	snap := testSnapshot()
	snap.URL = ""
	d.DispatchLive(context.Background(), testAccount(), snap)

	if len(sink.sent) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(sink.sent))
	}
	if got := sink.sent[0].Content; got != "https://kick.com/ana" {
		t.Fatalf("url fallback = %q", got)
	}
}

func TestDispatchLiveEmptyTitleFallsBackInEmbed(t *testing.T) {
	subs := &fakeSubs{subs: []*storage.Subscription{
		{ID: 1, AccountID: 7, ChannelID: "c1", Active: true},
	}}
	sink := &fakeSink{}
	d := NewDispatcher(subs, sink, "", logx.Nop())

	snap := testSnapshot()
	snap.Title = ""
	d.DispatchLive(context.Background(), testAccount(), snap)

	if len(sink.sent) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(sink.sent))
	}
	if got := sink.sent[0].Embed.Description; got != "No title" {
		t.Fatalf("embed description = %q, want fallback", got)
	}
	if strings.Contains(sink.sent[0].Content, "{title}") {
		t.Fatalf("unresolved title placeholder: %q", sink.sent[0].Content)
	}
}

func TestDispatchLiveNoSubscribers(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(&fakeSubs{}, sink, "", logx.Nop())
	d.DispatchLive(context.Background(), testAccount(), testSnapshot())
	if len(sink.sent) != 0 {
		t.Fatalf("delivered %d messages, want 0", len(sink.sent))
	}
}

func TestMention(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"@everyone":     "@everyone",
		"@here":         "@here",
		"<@&42>":        "<@&42>",
		"987654321":     "<@&987654321>",
	}
	for in, want := range cases {
		if got := mention(in); got != want {
			t.Errorf("mention(%q) = %q, want %q", in, got, want)
		}
	}
}
