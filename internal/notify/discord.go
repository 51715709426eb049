package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"streamwatch/pkg/logx"
)

// embedColor is the deep blue used on all live-notification embeds.
const embedColor = 0x1a237e

// DiscordSink delivers rendered messages to Discord text channels.
type DiscordSink struct {
	session *discordgo.Session
	log     logx.Logger
}

func NewDiscordSink(token string, log logx.Logger) (*DiscordSink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	// Sending only; no message-content or member intents needed.
	s.Identify.Intents = discordgo.IntentsGuilds
	return &DiscordSink{session: s, log: log}, nil
}

// Start opens the gateway connection.
func (d *DiscordSink) Start(ctx context.Context) error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord gateway open: %w", err)
	}
	d.log.Info("discord session opened", logx.String("user", d.session.State.User.String()))
	return nil
}

func (d *DiscordSink) Close() error {
	return d.session.Close()
}

func (d *DiscordSink) Send(ctx context.Context, dest Destination, msg Message) error {
	send := &discordgo.MessageSend{Content: msg.Content}
	if msg.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{toDiscordEmbed(msg.Embed)}
	}
	_, err := d.session.ChannelMessageSendComplex(dest.ChannelID, send, discordgo.WithContext(ctx))
	return err
}

func toDiscordEmbed(e *Embed) *discordgo.MessageEmbed {
	viewers := "Unknown"
	if e.ViewerCount >= 0 {
		viewers = fmt.Sprintf("%d", e.ViewerCount)
	}
	out := &discordgo.MessageEmbed{
		Color:       embedColor,
		Title:       "🔴 " + e.Title,
		Description: e.Description,
		URL:         e.URL,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Platform", Value: e.PlatformName, Inline: true},
			{Name: "Viewers", Value: viewers, Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: e.FooterText},
	}
	if e.ThumbnailURL != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
	}
	if e.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	out.Timestamp = ts.Format(time.RFC3339)
	return out
}
