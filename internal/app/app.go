// Package app wires configuration, storage, scrapers, notification
// channels, the scheduler and the reminder engine into one runnable
// unit.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"

	"tenderwatch/internal/config"
	"tenderwatch/internal/notify"
	"tenderwatch/internal/reminder"
	"tenderwatch/internal/scheduler"
	"tenderwatch/internal/scraper"
	"tenderwatch/internal/storage"
	"tenderwatch/pkg/logx"
)

type App struct {
	log      logx.Logger
	logClose func() error

	cfgMgr   *config.Manager
	store    storage.Store
	notifier *notify.Service
	sched    *scheduler.Service
	rem      *reminder.Engine

	stopOnce sync.Once
	bgCancel context.CancelFunc
	bgDone   chan struct{}
}

// New builds the full dependency graph from the config file. Nothing
// is running yet when New returns.
func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logClose, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleLogging(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	cfgMgr.SetLogger(log)

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: config.Duration(cfg.Storage.BusyTimeout, 0),
	}, log)
	if err != nil {
		_ = logClose()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var channels []notify.Channel
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:      cfg.Telegram.Token,
			ChatID:     cfg.Telegram.ChatID,
			RatePerSec: cfg.Telegram.RatePerSec,
		}, log)
		if err != nil {
			_ = store.Close()
			_ = logClose()
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		channels = append(channels, tg)
	}
	if cfg.Email.Enabled {
		em, err := notify.NewEmail(notify.EmailConfig{
			Host:      cfg.Email.Host,
			Port:      cfg.Email.Port,
			Username:  cfg.Email.Username,
			Password:  cfg.Email.Password,
			From:      cfg.Email.From,
			Recipient: cfg.Email.Recipient,
		}, log)
		if err != nil {
			_ = store.Close()
			_ = logClose()
			return nil, fmt.Errorf("init email channel: %w", err)
		}
		channels = append(channels, em)
	}
	if len(channels) == 0 {
		log.Warn("no notification channels enabled, findings are only persisted")
	}
	notifier := notify.NewService(log, channels...)

	scrapers := []scraper.Scraper{
		scraper.NewAnbud(scraper.AnbudConfig{
			BaseURL:     cfg.Anbud.BaseURL,
			Username:    cfg.Anbud.Username,
			Password:    cfg.Anbud.Password,
			DetailLimit: cfg.Anbud.DetailLimit,
			Timeout:     config.Duration(cfg.Anbud.Timeout, 0),
		}, log),
		scraper.NewDoffin(scraper.DoffinConfig{
			SearchURL:      cfg.Doffin.SearchURL,
			Timeout:        config.Duration(cfg.Doffin.Timeout, 0),
			SettleAttempts: cfg.Doffin.SettleAttempts,
			SettleDelay:    config.Duration(cfg.Doffin.SettleDelay, 0),
		}, log),
		scraper.NewTED(scraper.TEDConfig{
			APIURL:       cfg.TED.APIURL,
			Country:      cfg.TED.Country,
			MinPublished: cfg.TED.MinPublished,
			PageLimit:    cfg.TED.PageLimit,
			Timeout:      config.Duration(cfg.TED.Timeout, 0),
		}, log),
		scraper.NewMercell(log),
	}

	sched := scheduler.New(scheduler.Config{
		IntervalMinutes: cfg.Scheduler.IntervalMinutes,
		EnabledSources:  cfg.EnabledSources(),
	}, scrapers, store, notifier, log)

	rem := reminder.New(store, notifier, log)

	return &App{
		log:      log,
		logClose: logClose,
		cfgMgr:   cfgMgr,
		store:    store,
		notifier: notifier,
		sched:    sched,
		rem:      rem,
	}, nil
}

// Start brings up the config watcher, the scheduler and the reminder
// engine, then signals readiness to systemd when running under it.
func (a *App) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	a.bgCancel = cancel
	a.bgDone = make(chan struct{})

	sub := a.cfgMgr.Subscribe(1)
	go func() { _ = a.cfgMgr.Watch(bgCtx) }()
	go func() {
		defer close(a.bgDone)
		for {
			select {
			case <-bgCtx.Done():
				a.cfgMgr.Unsubscribe(sub)
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(bgCtx, cfg)
			}
		}
	}()

	if err := a.sched.Start(bgCtx); err != nil {
		cancel()
		return err
	}
	if err := a.rem.Start(bgCtx); err != nil {
		cancel()
		a.sched.Stop()
		return err
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("started")
	return nil
}

// applyReload pushes the hot-reloadable parts of a new config into the
// running services. Interval, storage and channel changes still need a
// restart.
func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.sched.SetEnabledSources(ctx, cfg.EnabledSources())
	a.log.Info("config reload applied", logx.Int("enabled_sources", len(cfg.EnabledSources())))
}

func (a *App) Stop() {
	a.stopOnce.Do(func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		if a.bgCancel != nil {
			a.bgCancel()
		}
		a.rem.Stop()
		a.sched.Stop()
		if a.bgDone != nil {
			<-a.bgDone
		}
		if err := a.store.Close(); err != nil {
			a.log.Error("close storage failed", logx.Err(err))
		}
		a.log.Info("stopped")
		if a.logClose != nil {
			_ = a.logClose()
		}
	})
}
