package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
discord:
  token: "abc"
twitch:
  enabled: true
  client_id: "cid"
  client_secret: "sec"
youtube:
  enabled: false
  api_key: ""
monitor:
  interval_minutes: 5
  warmup_delay: "5s"
scrape:
  enable_kick: true
  max_retries: 3
  timeout: "30s"
  batch_size: 3
  batch_pause: "1s"
  settle_delay: "3s"
storage:
  path: "./data/streamwatch.db"
  busy_timeout: "5s"
notify:
  default_template: "{streamer} live: {title}"
`

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Twitch.Enabled || cfg.Monitor.IntervalMinutes != 5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Scrape.EnableKick == nil || !*cfg.Scrape.EnableKick {
		t.Fatalf("enable_kick = %v", cfg.Scrape.EnableKick)
	}
	if cfg.Scrape.EnableTikTok != nil {
		t.Fatalf("omitted enable_tiktok should stay nil, got %v", cfg.Scrape.EnableTikTok)
	}
	if cfg.Notify.DefaultTemplate != "{streamer} live: {title}" {
		t.Fatalf("template = %q", cfg.Notify.DefaultTemplate)
	}
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"discord":{"token":"abc"},"monitor":{"interval_minutes":2}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "abc" || cfg.Monitor.IntervalMinutes != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "config.yaml", "discord:\n  token: abc\n  tokken: oops\n")
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"discord":{"token":"a"}}{"extra":true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestParseMissingFile(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := m.Parse(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestLoadCommitsAndGet(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("no config delivered")
	}

	// A full buffer drops the stale update in favor of the newest.
	stale, fresh := &Config{}, &Config{}
	m.publish(stale)
	m.publish(fresh)
	if got := <-ch; got != fresh {
		t.Fatal("slow subscriber did not receive the newest config")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after Unsubscribe")
	}
	m.publish(cfg) // must not panic on the removed subscriber
}

func TestReloadRejectedByValidator(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	first, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(cfg *Config) error {
		if cfg.Monitor.IntervalMinutes > 10 {
			return errors.New("interval too long")
		}
		return nil
	})

	bad := strings.Replace(validYAML, "interval_minutes: 5", "interval_minutes: 99", 1)
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload()
	if m.Get() != first {
		t.Fatal("rejected reload replaced the committed config")
	}
}

func TestReloadSkipsUnchangedContent(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	m.reload() // same bytes on disk
	select {
	case <-ch:
		t.Fatal("unchanged content republished")
	default:
	}
}

func TestReloadPublishesChange(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	changed := strings.Replace(validYAML, "interval_minutes: 5", "interval_minutes: 2", 1)
	if err := os.WriteFile(path, []byte(changed), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload()
	select {
	case cfg := <-ch:
		if cfg.Monitor.IntervalMinutes != 2 {
			t.Fatalf("published interval = %d", cfg.Monitor.IntervalMinutes)
		}
	default:
		t.Fatal("change not published")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("scrape.timeout", "30s")
	if err != nil || d != 30*time.Second {
		t.Fatalf("got %v %v", d, err)
	}
	if d, err := ParseDurationField("scrape.timeout", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v %v", d, err)
	}
	if _, err := ParseDurationField("scrape.timeout", "banana"); err == nil {
		t.Fatal("invalid duration accepted")
	} else if !strings.Contains(err.Error(), "scrape.timeout") {
		t.Fatalf("error lacks field path: %v", err)
	}
	if _, err := ParseDurationField("scrape.timeout", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("monitor.warmup_delay", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("got %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("monitor.warmup_delay", "10s", 5*time.Second)
	if err != nil || d != 10*time.Second {
		t.Fatalf("got %v %v", d, err)
	}
	if _, err := ParseDurationOrDefault("monitor.warmup_delay", "nope", time.Second); err == nil {
		t.Fatal("invalid duration accepted")
	}
}
