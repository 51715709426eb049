// Package app wires the components together and owns startup/shutdown
// ordering: stop scheduling first, drain in-flight checks, then close the
// shared browser and external sessions.
package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"streamwatch/internal/config"
	"streamwatch/internal/monitor"
	"streamwatch/internal/notify"
	"streamwatch/internal/provider"
	"streamwatch/internal/scrape"
	"streamwatch/internal/storage"
	"streamwatch/internal/twitch"
	"streamwatch/internal/youtube"
	"streamwatch/pkg/logx"
)

type App struct {
	log       logx.Logger
	logCloser io.Closer

	cfgMgr  *config.Manager
	store   *storage.Store
	scraper *scrape.Orchestrator
	prov    *provider.Provider
	discord *notify.DiscordSink
	disp    *notify.Dispatcher
	mon     *monitor.Monitor

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
	cfgCh       chan *config.Config
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logCloser := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log)
	mgr.SetValidator(validate)
	if err := validate(cfg); err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, log)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	scrapeCfg, _ := buildScrapeConfig(cfg)
	orch := scrape.New(scrapeCfg, log)

	var tw, yt provider.OfficialClient
	if cfg.Twitch.Enabled {
		c, err := twitch.New(twitch.Config{
			ClientID:     cfg.Twitch.ClientID,
			ClientSecret: cfg.Twitch.ClientSecret,
			Timeout:      scrapeCfg.CallTimeout,
		}, log)
		if err != nil {
			_ = store.Close()
			_ = logCloser.Close()
			return nil, err
		}
		tw = c
	}
	if cfg.YouTube.Enabled {
		c, err := youtube.New(youtube.Config{
			APIKey:  cfg.YouTube.APIKey,
			Timeout: scrapeCfg.CallTimeout,
		}, log)
		if err != nil {
			_ = store.Close()
			_ = logCloser.Close()
			return nil, err
		}
		yt = c
	}
	prov := provider.New(tw, yt, orch, log)

	sink, err := notify.NewDiscordSink(cfg.Discord.Token, log)
	if err != nil {
		_ = store.Close()
		_ = logCloser.Close()
		return nil, err
	}
	disp := notify.NewDispatcher(store, sink, cfg.Notify.DefaultTemplate, log)

	monCfg, _ := buildMonitorConfig(cfg, scrapeCfg)
	mon := monitor.New(monCfg, prov, store, store, disp, log)

	return &App{
		log:       log,
		logCloser: logCloser,
		cfgMgr:    mgr,
		store:     store,
		scraper:   orch,
		prov:      prov,
		discord:   sink,
		disp:      disp,
		mon:       mon,
		cfgCh:     mgr.Subscribe(4),
	}, nil
}

// Provider exposes identity resolution to the (external) registration layer.
func (a *App) Provider() *provider.Provider { return a.prov }

func (a *App) Start(ctx context.Context) error {
	if err := a.discord.Start(ctx); err != nil {
		return err
	}
	if err := a.scraper.Init(ctx); err != nil {
		return err
	}
	if err := a.mon.Start(ctx); err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchWG.Add(2)
	go func() {
		defer a.watchWG.Done()
		_ = a.cfgMgr.Watch(wctx)
	}()
	go func() {
		defer a.watchWG.Done()
		for {
			select {
			case <-wctx.Done():
				return
			case cfg := <-a.cfgCh:
				if cfg != nil {
					a.applyConfig(cfg)
				}
			}
		}
	}()

	// One synthetic health probe per platform, off the startup path.
	go func() {
		hctx, hcancel := context.WithTimeout(wctx, time.Minute)
		defer hcancel()
		for p, ok := range a.scraper.Health(hctx) {
			a.log.Info("scraper health", logx.String("platform", p.String()), logx.Bool("ok", ok))
		}
	}()

	a.log.Info("streamwatch started")
	return nil
}

// Stop shuts down in dependency order: scheduler first, then the shared
// scrape resources, then delivery and storage.
func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}

	a.mon.Stop(ctx)
	a.scraper.Close()
	_ = a.discord.Close()
	a.watchWG.Wait()
	a.cfgMgr.Unsubscribe(a.cfgCh)
	err := a.store.Close()

	a.log.Info("streamwatch stopped")
	_ = a.logCloser.Close()
	return err
}

func (a *App) applyConfig(cfg *config.Config) {
	scrapeCfg, err := buildScrapeConfig(cfg)
	if err != nil {
		a.log.Warn("config update ignored", logx.Err(err))
		return
	}
	monCfg, err := buildMonitorConfig(cfg, scrapeCfg)
	if err != nil {
		a.log.Warn("config update ignored", logx.Err(err))
		return
	}
	a.scraper.Apply(scrapeCfg)
	a.mon.Apply(monCfg)
	a.disp.SetDefaultTemplate(cfg.Notify.DefaultTemplate)
	a.log.Info("runtime settings applied")
}

// validate rejects configs whose derived component settings cannot be built.
// Credentials are checked at construction, not here, so a reload can't kill
// a running process over a missing secret.
func validate(cfg *config.Config) error {
	scrapeCfg, err := buildScrapeConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := buildMonitorConfig(cfg, scrapeCfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}

func buildScrapeConfig(cfg *config.Config) (scrape.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scrape.timeout", cfg.Scrape.Timeout, 30*time.Second)
	if err != nil {
		return scrape.Config{}, err
	}
	pause, err := config.ParseDurationOrDefault("scrape.batch_pause", cfg.Scrape.BatchPause, time.Second)
	if err != nil {
		return scrape.Config{}, err
	}
	settle, err := config.ParseDurationOrDefault("scrape.settle_delay", cfg.Scrape.SettleDelay, 3*time.Second)
	if err != nil {
		return scrape.Config{}, err
	}
	return scrape.Config{
		EnableKick:   boolOr(cfg.Scrape.EnableKick, true),
		EnableTikTok: boolOr(cfg.Scrape.EnableTikTok, true),
		MaxRetries:   cfg.Scrape.MaxRetries,
		CallTimeout:  timeout,
		BatchSize:    cfg.Scrape.BatchSize,
		BatchPause:   pause,
		SettleDelay:  settle,
	}, nil
}

func buildMonitorConfig(cfg *config.Config, scrapeCfg scrape.Config) (monitor.Config, error) {
	warmup, err := config.ParseDurationOrDefault("monitor.warmup_delay", cfg.Monitor.WarmupDelay, 5*time.Second)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		IntervalMinutes: cfg.Monitor.IntervalMinutes,
		WarmupDelay:     warmup,
		Concurrency:     scrapeCfg.BatchSize,
		GroupPause:      scrapeCfg.BatchPause,
	}, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
