// Package app wires configuration, storage, the scheduler, the engine and
// the Telegram transport into one runnable bot.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/engine"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	notif   *notifier.Service
	sched   *scheduler.Scheduler
	eng     *engine.Service
	router  *bot.Router

	updates chan transport.Update

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO").With(logx.String("comp", "config")))
	cfgm.SetValidator(validate)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       telegramToken(cfg),
		PollTimeout: pollTimeout,
	}, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	notifCfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(notifCfg, ad, log.With(logx.String("comp", "notifier")), bus)

	clk := clock.New()
	sched := scheduler.New(store, clk, log.With(logx.String("comp", "scheduler")))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, store, sched, notif, bus, clk,
		log.With(logx.String("comp", "engine")))

	router := bot.NewRouter(eng, ad, ad.Username(), log.With(logx.String("comp", "bot")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notif,
		sched:   sched,
		eng:     eng,
		router:  router,
		updates: make(chan transport.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	rctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Re-arm persisted reminders before the timer loop runs so the first
	// sleep already knows the earliest occurrence.
	if err := a.eng.Load(rctx); err != nil {
		cancel()
		a.cancel = nil
		return err
	}

	a.notif.Start(rctx)
	a.sched.Start(rctx)
	if err := a.adapter.Start(rctx, a.updates); err != nil {
		cancel()
		a.cancel = nil
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.Run(rctx, a.updates)
	}()

	a.wg.Add(1)
	go a.watchEvents(rctx)

	a.wg.Add(1)
	go a.watchConfig(rctx)

	a.log.Info("started", logx.Int("armed", a.sched.Armed()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}

	// Inbound first, then the pipelines behind it.
	_ = a.adapter.Stop(ctx)
	cancel()
	a.sched.Stop(ctx)
	a.notif.Stop(ctx)
	a.wg.Wait()

	err := a.store.Close()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

// watchEvents mirrors bus traffic into the debug log.
func (a *App) watchEvents(ctx context.Context) {
	defer a.wg.Done()
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// watchConfig hot-reloads the config file and fans committed snapshots out
// to the tunable components. Storage and the Telegram connection need a
// restart, a change there only logs a warning.
func (a *App) watchConfig(ctx context.Context) {
	defer a.wg.Done()

	sub, unsub := a.cfgm.Subscribe()
	defer unsub()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch ended", logx.Err(err))
		}
	}()

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.apply(last, cfg)
			last = cfg
		}
	}
}

func (a *App) apply(prev, cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))

	// Validated by the manager before commit; errors here cannot happen.
	if ncfg, err := mapNotifierConfig(cfg); err == nil {
		a.notif.Apply(ncfg)
	}
	if ecfg, err := mapEngineConfig(cfg); err == nil {
		a.eng.Apply(ecfg)
	}

	if prev != nil {
		if prev.Storage != cfg.Storage {
			a.log.Warn("storage config changed; restart required")
		}
		if prev.Telegram != cfg.Telegram {
			a.log.Warn("telegram config changed; restart required")
		}
	}
	a.log.Info("config applied")
}
