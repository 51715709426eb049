package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"streamwatch/internal/platform"
	"streamwatch/internal/storage"
	"streamwatch/pkg/logx"
)

// Destination identifies where a rendered message goes.
type Destination struct {
	GuildID   string
	ChannelID string
}

// Message is a rendered notification, independent of the delivery channel.
type Message struct {
	Content string
	Embed   *Embed
}

// Embed is the rich card attached to live notifications.
type Embed struct {
	Title        string
	Description  string
	URL          string
	PlatformName string
	ViewerCount  int64 // -1 when unknown
	ThumbnailURL string
	ImageURL     string
	Timestamp    time.Time
	FooterText   string
}

// Sink delivers a rendered message to a destination. Implementations must be
// safe for concurrent use; the dispatcher fans out across subscribers.
type Sink interface {
	Send(ctx context.Context, dest Destination, msg Message) error
}

// Dispatcher turns one went-live transition into per-subscriber deliveries.
type Dispatcher struct {
	subs storage.SubscriptionRepo
	sink Sink
	log  logx.Logger

	mu              sync.Mutex
	defaultTemplate string
}

func NewDispatcher(subs storage.SubscriptionRepo, sink Sink, defaultTemplate string, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(defaultTemplate) == "" {
		defaultTemplate = DefaultTemplate
	}
	return &Dispatcher{subs: subs, sink: sink, defaultTemplate: defaultTemplate, log: log}
}

// SetDefaultTemplate swaps the fallback template (hot reload).
func (d *Dispatcher) SetDefaultTemplate(tmpl string) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}
	d.mu.Lock()
	d.defaultTemplate = tmpl
	d.mu.Unlock()
}

// DispatchLive renders and delivers a went-live notification to every active
// subscriber of the account. Deliveries run concurrently and settle
// independently: one failing channel never blocks or cancels the others.
func (d *Dispatcher) DispatchLive(ctx context.Context, acc *storage.Account, snap *platform.Snapshot) {
	subs, err := d.subs.ListActiveForAccount(ctx, acc.ID)
	if err != nil {
		d.log.Error("loading subscriptions failed",
			logx.String("handle", acc.Handle), logx.Err(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	d.mu.Lock()
	defTmpl := d.defaultTemplate
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := d.render(sub, acc, snap, defTmpl)
			dest := Destination{GuildID: sub.GuildID, ChannelID: sub.ChannelID}
			if err := d.sink.Send(ctx, dest, msg); err != nil {
				d.log.Warn("notification delivery failed",
					logx.String("handle", acc.Handle),
					logx.String("guild", sub.GuildID),
					logx.String("channel", sub.ChannelID),
					logx.Err(err))
				return
			}
			d.log.Debug("notification sent",
				logx.String("handle", acc.Handle),
				logx.String("channel", sub.ChannelID))
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) render(sub *storage.Subscription, acc *storage.Account, snap *platform.Snapshot, defTmpl string) Message {
	tmpl := sub.Template
	if strings.TrimSpace(tmpl) == "" {
		tmpl = defTmpl
	}

	url := snap.URL
	if url == "" {
		url = acc.Platform.ChannelURL(acc.Handle)
	}
	content := Render(tmpl, RenderData{
		Streamer: acc.DisplayName,
		Platform: acc.Platform.String(),
		Title:    snap.Title,
		URL:      url,
	})
	if sub.Mention != "" {
		content = mention(sub.Mention) + "\n" + content
	}

	return Message{
		Content: content,
		Embed: &Embed{
			Title:        acc.DisplayName + " is now live!",
			Description:  titleOrFallback(snap.Title),
			URL:          url,
			PlatformName: titleCase(acc.Platform.String()),
			ViewerCount:  snap.ViewerCount,
			ThumbnailURL: acc.AvatarURL,
			ImageURL:     snap.ThumbnailURL,
			Timestamp:    snap.StartedAt,
			FooterText:   "streamwatch",
		},
	}
}

// mention formats a configured mention target. A bare id is treated as a
// role; @everyone/@here and pre-formatted mentions pass through.
func mention(target string) string {
	if strings.HasPrefix(target, "@") || strings.HasPrefix(target, "<") {
		return target
	}
	return "<@&" + target + ">"
}
