package notify

import "strings"

// DefaultTemplate matches what subscribers get when they haven't set a
// custom message.
const DefaultTemplate = "🔴 **{streamer}** is now live on {platform}!\n\n**{title}**\n{url}"

// RenderData carries the placeholder values for one notification.
type RenderData struct {
	Streamer string
	Platform string
	Title    string
	URL      string
}

// Render substitutes {streamer} {platform} {title} {url} in tmpl. Unknown
// placeholders are left alone; empty fields render as sensible fallbacks so
// the message never contains raw braces for a recognized field.
func Render(tmpl string, data RenderData) string {
	return strings.NewReplacer(
		"{streamer}", data.Streamer,
		"{platform}", titleCase(data.Platform),
		"{title}", titleOrFallback(data.Title),
		"{url}", data.URL,
	).Replace(tmpl)
}

// titleOrFallback is the shared empty-title fallback, used wherever a stream
// title is shown to users (template text and embed description alike).
func titleOrFallback(title string) string {
	if title == "" {
		return "No title"
	}
	return title
}

// titleCase uppercases the first letter only ("twitch" -> "Twitch"), the way
// platform names are shown to users.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
