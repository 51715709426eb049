package notify

import (
	"strings"
	"testing"
)

func TestRenderSubstitutesAllPlaceholders(t *testing.T) {
	t.Parallel()
	out := Render("{streamer} live on {platform}: {title} {url}", RenderData{
		Streamer: "Ana",
		Platform: "kick",
		Title:    "Chatting",
		URL:      "https://kick.com/ana",
	})

	want := "Ana live on Kick: Chatting https://kick.com/ana"
	if out != want {
		t.Fatalf("Render = %q, want %q", out, want)
	}
	if strings.ContainsAny(out, "{}") {
		t.Fatalf("unresolved placeholders in %q", out)
	}
	if strings.Count(out, "Ana") != 1 {
		t.Fatalf("expected exactly one substitution of streamer, got %q", out)
	}
}

func TestRenderDefaultTemplate(t *testing.T) {
	t.Parallel()
	out := Render(DefaultTemplate, RenderData{
		Streamer: "Ana",
		Platform: "twitch",
		Title:    "Speedrun",
		URL:      "https://twitch.tv/ana",
	})
	for _, frag := range []string{"Ana", "Twitch", "Speedrun", "https://twitch.tv/ana"} {
		if !strings.Contains(out, frag) {
			t.Fatalf("default template output missing %q: %q", frag, out)
		}
	}
	if strings.Contains(out, "{") {
		t.Fatalf("unresolved placeholder in %q", out)
	}
}

func TestRenderEmptyTitleFallback(t *testing.T) {
	t.Parallel()
	out := Render("{title}", RenderData{})
	if out != "No title" {
		t.Fatalf("empty title rendered as %q", out)
	}
}

func TestRenderKeepsUnknownPlaceholders(t *testing.T) {
	t.Parallel()
	out := Render("{streamer} {unknown}", RenderData{Streamer: "Ana"})
	if out != "Ana {unknown}" {
		t.Fatalf("Render = %q", out)
	}
}

func TestTitleCase(t *testing.T) {
	t.Parallel()
	cases := map[string]string{"twitch": "Twitch", "kick": "Kick", "": "", "YouTube": "YouTube"}
	for in, want := range cases {
		if got := titleCase(in); got != want {
			t.Errorf("titleCase(%q) = %q, want %q", in, got, want)
		}
	}
}
