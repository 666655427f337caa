// Package app wires configuration, transport, schedule source, reminders
// and background jobs into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"outagebot/internal/bot"
	"outagebot/internal/clock"
	"outagebot/internal/config"
	"outagebot/internal/eventbus"
	"outagebot/internal/jobs"
	"outagebot/internal/notifier"
	"outagebot/internal/reminder"
	rtsup "outagebot/internal/runtime/supervisor"
	"outagebot/internal/source"
	"outagebot/internal/storage"
	"outagebot/internal/transport"
	telegram "outagebot/internal/transport/telegram/adapter"
	"outagebot/pkg/logx"
)

const refreshJobName = "source.refresh"

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	notif   *notifier.Service
	src     *source.Client
	rem     *reminder.Scheduler
	bot     *bot.Bot
	router  *bot.Router
	refresh *bot.Refresher
	jobs    *jobs.Service

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log)

	loc, err := cfg.Source.Location()
	if err != nil {
		return nil, err
	}

	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, log)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log, bus)

	scfg, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	src := source.New(scfg, log)

	deliveryTimeout, err := config.ParseDurationField("reminders.delivery_timeout", cfg.Reminders.DeliveryTimeout)
	if err != nil {
		return nil, err
	}
	clk := clock.Real()
	rem := reminder.New(notif, reminder.Options{
		Clock:           clk,
		Location:        loc,
		QueueLabel:      cfg.Source.QueueLabel,
		DeliveryTimeout: deliveryTimeout,
		Log:             log,
		Bus:             bus,
	})

	b := bot.New(bot.Options{
		Adapter:    ad,
		Source:     src,
		Reminders:  rem,
		Clock:      clk,
		Location:   loc,
		QueueLabel: cfg.Source.QueueLabel,
		Log:        log,
		Bus:        bus,
	})
	ropt := bot.RefreshOptions{
		Source:        src,
		Notifier:      notif,
		NotifyChanges: cfg.Refresh.NotifyChanges,
	}
	if store != nil {
		ropt.Snapshots = store
	}

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notif,
		src:     src,
		rem:     rem,
		bot:     b,
		router:  bot.NewRouter(log, ad, bot.Routes(b), bot.RouterOptions{}),
		refresh: bot.NewRefresher(b, ropt),
		jobs:    jobs.New(loc, log),
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("audit", func(c context.Context) {
		defer unsub()
		recordAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
	})

	if err := a.applyRefresh(a.cfgm.Get()); err != nil {
		return err
	}
	a.jobs.Start()

	// Best-effort Telegram /menu update (non-blocking).
	a.sup.Go0("telegram.menu.update", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 5*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, bot.MenuCommands()); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return watchdog(c, a.log)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// applyRefresh registers, replaces or removes the refresh cron job.
func (a *App) applyRefresh(cfg *config.Config) error {
	rj, err := mapRefreshJob(cfg)
	if err != nil {
		return err
	}
	a.refresh.SetNotifyChanges(cfg.Refresh.NotifyChanges)
	if !rj.Enabled {
		if a.jobs.Remove(refreshJobName) {
			a.log.Info("refresh disabled via config")
		}
		return nil
	}
	return a.jobs.AddCron(refreshJobName, rj.Spec, rj.Timeout, a.refresh.Run)
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			if restart := config.RestartRequired(sections); len(restart) > 0 {
				a.log.Warn("config changed; restart required for changes to take effect",
					logx.String("sections", strings.Join(restart, ",")))
			}

			a.logs.Apply(newCfg.Logging.Logx())

			if ncfg, err := mapNotifierConfig(newCfg); err != nil {
				a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
			} else {
				a.notif.Apply(ncfg)
			}

			if err := a.applyRefresh(newCfg); err != nil {
				a.log.Warn("invalid refresh config; keeping previous", logx.Err(err))
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config applied", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Order: triggers first (cron, timers), then senders, then sinks.
	step("jobs", 2*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("reminders", 3*time.Second, a.rem.Stop)
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
