package config

// Config is the on-disk configuration. All durations are Go duration strings
// (e.g. "500ms", "10s", "5m"); they are parsed when component configs are
// built in internal/app.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Discord DiscordConfig `json:"discord"`
	Twitch  TwitchConfig  `json:"twitch"`
	YouTube YouTubeConfig `json:"youtube"`
	Monitor MonitorConfig `json:"monitor"`
	Scrape  ScrapeConfig  `json:"scrape"`
	Storage StorageConfig `json:"storage"`
	Notify  NotifyConfig  `json:"notify,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type DiscordConfig struct {
	Token string `json:"token"`
}

type TwitchConfig struct {
	Enabled      bool   `json:"enabled"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type YouTubeConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key"`
}

// MonitorConfig controls the presence monitor cadence.
//
// IntervalMinutes maps onto a "*/N * * * *" cron spec, matching the
// poll-interval granularity the rest of the system assumes.
type MonitorConfig struct {
	IntervalMinutes int    `json:"interval_minutes"`
	WarmupDelay     string `json:"warmup_delay,omitempty"` // default "5s"
}

// ScrapeConfig controls the scraping pipeline for platforms without an
// official API.
//
// Defaults (when fields are omitted/zero):
//   - max_retries: 3
//   - timeout: "30s" (per external call)
//   - batch_size: 3
//   - batch_pause: "1s"
//   - settle_delay: "3s" (rendered-page fetch)
type ScrapeConfig struct {
	EnableKick   *bool  `json:"enable_kick,omitempty"`
	EnableTikTok *bool  `json:"enable_tiktok,omitempty"`
	MaxRetries   int    `json:"max_retries,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
	BatchPause   string `json:"batch_pause,omitempty"`
	SettleDelay  string `json:"settle_delay,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type NotifyConfig struct {
	// DefaultTemplate overrides the built-in notification template.
	// Recognized placeholders: {streamer} {platform} {title} {url}.
	DefaultTemplate string `json:"default_template,omitempty"`
}
