package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"streamwatch/internal/platform"
	"streamwatch/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustCreateAccount(t *testing.T, st *Store, handle string) *Account {
	t.Helper()
	acc := &Account{
		Platform:    platform.Twitch,
		NativeID:    "id-" + handle,
		Handle:      handle,
		DisplayName: handle,
		Followers:   10,
	}
	if err := st.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acc.ID == 0 {
		t.Fatal("account id not assigned")
	}
	return acc
}

func TestAccountRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustCreateAccount(t, st, "ana")

	got, err := st.Get(ctx, platform.Twitch, "id-ana")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Handle != "ana" || got.Followers != 10 || got.IsLive {
		t.Fatalf("got %+v", got)
	}
	if got.LiveSince != nil {
		t.Fatalf("LiveSince = %v, want nil", got.LiveSince)
	}

	if _, err := st.Get(ctx, platform.Twitch, "missing"); !errors.Is(err, ErrNoSuchAccount) {
		t.Fatalf("err = %v, want ErrNoSuchAccount", err)
	}
}

func TestSaveStatusTouchesOnlyPresenceFields(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	acc := mustCreateAccount(t, st, "ana")

	since := time.Now().UTC().Truncate(time.Millisecond)
	acc.IsLive = true
	acc.LastTitle = "Episode A"
	acc.LastStreamURL = "https://twitch.tv/ana"
	acc.LiveSince = &since
	acc.LastCheckedAt = since
	// Identity edits through SaveStatus must not stick.
	acc.DisplayName = "HACKED"
	acc.Followers = 999

	if err := st.SaveStatus(ctx, acc); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}

	got, err := st.Get(ctx, platform.Twitch, "id-ana")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsLive || got.LastTitle != "Episode A" {
		t.Fatalf("presence fields not saved: %+v", got)
	}
	if got.LiveSince == nil || !got.LiveSince.Equal(since) {
		t.Fatalf("LiveSince = %v, want %v", got.LiveSince, since)
	}
	if got.DisplayName != "ana" || got.Followers != 10 {
		t.Fatalf("identity fields changed: %+v", got)
	}

	// Going offline clears LiveSince.
	got.IsLive = false
	got.LiveSince = nil
	if err := st.SaveStatus(ctx, got); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}
	got, _ = st.Get(ctx, platform.Twitch, "id-ana")
	if got.IsLive || got.LiveSince != nil {
		t.Fatalf("offline state not saved: %+v", got)
	}
}

func TestSaveStatusUnknownAccount(t *testing.T) {
	st := openTestStore(t)
	err := st.SaveStatus(context.Background(), &Account{ID: 12345})
	if !errors.Is(err, ErrNoSuchAccount) {
		t.Fatalf("err = %v, want ErrNoSuchAccount", err)
	}
}

func TestListAllOrdered(t *testing.T) {
	st := openTestStore(t)
	mustCreateAccount(t, st, "a")
	mustCreateAccount(t, st, "b")
	mustCreateAccount(t, st, "c")

	accs, err := st.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(accs) != 3 {
		t.Fatalf("got %d accounts, want 3", len(accs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if accs[i].Handle != want {
			t.Fatalf("accounts out of order: %v", accs)
		}
	}
}

func TestEventAppendAndList(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	acc := mustCreateAccount(t, st, "ana")

	kinds := []EventKind{EventWentLive, EventTitleChanged, EventWentOffline}
	for _, k := range kinds {
		ev := &PresenceEvent{AccountID: acc.ID, Kind: k, Title: "t", ViewerCount: -1}
		if err := st.Append(ctx, ev); err != nil {
			t.Fatalf("Append(%s): %v", k, err)
		}
		if ev.ID == 0 {
			t.Fatal("event id not assigned")
		}
	}

	evs, err := st.ListEvents(ctx, acc.ID, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3", len(evs))
	}
	// Newest first.
	for i, want := range []EventKind{EventWentOffline, EventTitleChanged, EventWentLive} {
		if evs[i].Kind != want {
			t.Fatalf("event order wrong: %v", evs)
		}
	}
	if evs[0].ViewerCount != -1 {
		t.Fatalf("NULL viewer count read back as %d, want -1", evs[0].ViewerCount)
	}
}

func TestEventViewerCountRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	acc := mustCreateAccount(t, st, "ana")

	ev := &PresenceEvent{AccountID: acc.ID, Kind: EventWentLive, ViewerCount: 512}
	if err := st.Append(ctx, ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	evs, err := st.ListEvents(ctx, acc.ID, 1)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if evs[0].ViewerCount != 512 {
		t.Fatalf("viewer count = %d, want 512", evs[0].ViewerCount)
	}
}

func TestSubscriptions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	acc := mustCreateAccount(t, st, "ana")

	active := &Subscription{AccountID: acc.ID, GuildID: "g1", ChannelID: "c1", Active: true, Mention: "123"}
	inactive := &Subscription{AccountID: acc.ID, GuildID: "g1", ChannelID: "c2", Active: false}
	for _, sub := range []*Subscription{active, inactive} {
		if err := st.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("CreateSubscription: %v", err)
		}
	}

	subs, err := st.ListActiveForAccount(ctx, acc.ID)
	if err != nil {
		t.Fatalf("ListActiveForAccount: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d active subscriptions, want 1", len(subs))
	}
	if subs[0].ChannelID != "c1" || subs[0].Mention != "123" {
		t.Fatalf("subscription = %+v", subs[0])
	}

	// Duplicate guild+channel+account pairs are rejected.
	dup := &Subscription{AccountID: acc.ID, GuildID: "g1", ChannelID: "c1", Active: true}
	if err := st.CreateSubscription(ctx, dup); err == nil {
		t.Fatal("duplicate subscription accepted")
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	acc := mustCreateAccount(t, st, "ana")

	_ = st.Append(ctx, &PresenceEvent{AccountID: acc.ID, Kind: EventWentLive, ViewerCount: -1})
	_ = st.CreateSubscription(ctx, &Subscription{AccountID: acc.ID, GuildID: "g", ChannelID: "c", Active: true})

	if err := st.DeleteAccount(ctx, acc.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	evs, err := st.ListEvents(ctx, acc.ID, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("events survived account delete: %v", evs)
	}
	subs, err := st.ListActiveForAccount(ctx, acc.ID)
	if err != nil {
		t.Fatalf("ListActiveForAccount: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("subscriptions survived account delete: %v", subs)
	}
}

func TestDuplicateAccountRejected(t *testing.T) {
	st := openTestStore(t)
	mustCreateAccount(t, st, "ana")
	dup := &Account{Platform: platform.Twitch, NativeID: "id-ana", Handle: "ana2", DisplayName: "x"}
	if err := st.CreateAccount(context.Background(), dup); err == nil {
		t.Fatal("duplicate platform+native_id accepted")
	}
}
