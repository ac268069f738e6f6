// Package app wires the daemon together: config manager, logging service,
// store, applier, the engine loop, and the supervisor that keeps the loop and
// the config watcher alive.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rotarr/internal/applier"
	"rotarr/internal/config"
	"rotarr/internal/engine"
	"rotarr/internal/eventbus"
	"rotarr/internal/runtime/supervisor"
	"rotarr/internal/store"
	"rotarr/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store store.Store
	loop  *engine.Loop
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStoreConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	ap, err := buildApplier(cfg, log)
	if err != nil {
		_ = st.Close()
		logSvc.Close()
		return nil, err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		_ = st.Close()
		logSvc.Close()
		return nil, err
	}
	loop := engine.New(engCfg, st, ap,
		engine.WithLogger(log.With(logx.String("comp", "engine"))),
		engine.WithBus(bus),
		engine.WithStateStore(st),
	)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   st,
		loop:    loop,
	}, nil
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// The engine loop self-heals: a store outage or applier bug should retry
	// with backoff, not kill the daemon.
	a.sup.GoRestart("engine.run", func(c context.Context) error {
		return a.loop.Run(c)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	// Debug visibility into engine events (selection applied, transitions).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot config changes. Logging updates live; storage and
// applier changes need a restart and are called out as such.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the newest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			for _, s := range sections {
				if s == "storage" || s == "applier" || s == "engine" {
					a.log.Warn("config section changed; restart required for changes to take effect",
						logx.String("section", s))
				}
			}

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now()})
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("store", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

func buildApplier(cfg *config.Config, log logx.Logger) (engine.Applier, error) {
	if cfg.Applier.DryRun {
		log.Info("dry-run mode: selections are logged, not applied")
		return applier.NewLog(log.With(logx.String("comp", "applier"))), nil
	}
	timeout, err := config.ParseDurationField("applier.timeout", cfg.Applier.Timeout)
	if err != nil {
		return nil, err
	}
	return applier.NewHTTP(applier.Config{
		Endpoint: cfg.Applier.Endpoint,
		APIKey:   cfg.Applier.APIKey,
		Timeout:  timeout,
	}, log.With(logx.String("comp", "applier")))
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	path := strings.TrimSpace(cfg.Storage.Path)
	switch driver {
	case "memory":
		return store.Config{Driver: driver}, nil
	case "", "sqlite", "sqlite3":
		if path == "" {
			return store.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
		if err != nil {
			return store.Config{}, err
		}
		return store.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return store.Config{}, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	applyTimeout, err := config.ParseDurationField("engine.apply_timeout", cfg.Engine.ApplyTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	failureLogEvery, err := config.ParseDurationField("engine.failure_log_every", cfg.Engine.FailureLogEvery)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		ApplyTimeout:    applyTimeout,
		FailureLogEvery: failureLogEvery,
	}, nil
}
