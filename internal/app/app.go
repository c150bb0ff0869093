// Package app wires the scheduling daemon: config manager, logging
// service, storage, delivery channels, the notification core, the
// recurring-task generator, and the poller that drives them, all under one
// supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskdue/internal/clock"
	"taskdue/internal/config"
	"taskdue/internal/debug"
	"taskdue/internal/eventbus"
	"taskdue/internal/notify"
	"taskdue/internal/poller"
	"taskdue/internal/recurring"
	"taskdue/internal/runtime/supervisor"
	"taskdue/internal/storage"
	logx "taskdue/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	store  storage.Store
	driver string
	clk    clock.Clock

	notif *notify.Service
	gen   *recurring.Generator
	poll  *poller.Service
	dbg   *debug.Service

	startedAt time.Time
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	clk := clock.System{}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	reg, err := buildRegistry(cfg, logs.Logger(), bus)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	dispatchCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notify.New(dispatchCfg, store, reg, bus, clk,
		logs.Logger().With(logx.String("comp", "notify")))

	genCfg, err := mapGenerationConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	gen := recurring.NewGenerator(genCfg, store, clk,
		logs.Logger().With(logx.String("comp", "recurring")))

	pollCfg, err := mapPollerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	poll := poller.New(pollCfg, logs.Logger().With(logx.String("comp", "poller")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		driver:  sc.Driver,
		clk:     clk,
		notif:   notif,
		gen:     gen,
		poll:    poll,
	}

	dbgCfg, err := mapDebugConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.dbg = debug.New(dbgCfg, a.status, logs.Logger().With(logx.String("comp", "debug")))

	return a, nil
}

// statusReport is the /statusz payload.
type statusReport struct {
	Time       time.Time           `json:"time"`
	Uptime     string              `json:"uptime,omitempty"`
	Storage    string              `json:"storage"`
	Poller     poller.Snapshot     `json:"poller"`
	Goroutines supervisor.Counters `json:"goroutines"`
}

func (a *App) status(context.Context) any {
	now := a.clk.Now()
	rep := statusReport{Time: now, Storage: a.driver, Poller: a.poll.Snapshot()}
	if a.sup != nil {
		rep.Goroutines = a.sup.Counters()
	}
	if !a.startedAt.IsZero() {
		rep.Uptime = now.Sub(a.startedAt).Round(time.Second).String()
	}
	return rep
}

// Done is closed when the supervisor context ends (fatal error or Stop).
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

// registerPasses binds the background passes to their schedules. Register
// upserts by name, so re-running this after a reload swaps cadences
// without restarting the poller.
func (a *App) registerPasses(cfg *config.Config) error {
	p := cfg.Poller
	if _, err := a.poll.Register("dispatch", scheduleOr(p.DispatchEvery, defaultDispatchEvery), 0,
		func(ctx context.Context) error {
			_, err := a.notif.ProcessDue(ctx, a.clk.Now())
			return err
		}); err != nil {
		return err
	}
	if _, err := a.poll.Register("generation", scheduleOr(p.GenerationEvery, defaultGenerationEvery), 0,
		func(ctx context.Context) error {
			_, err := a.gen.GenerateDue(ctx)
			return err
		}); err != nil {
		return err
	}
	if _, err := a.poll.Register("overdue", scheduleOr(p.OverdueSchedule, defaultOverdueSchedule), 0,
		func(ctx context.Context) error {
			_, err := a.notif.ProcessOverdue(ctx, a.clk.Now())
			return err
		}); err != nil {
		return err
	}
	// The sweep can take a while on large backlogs; give it extra room.
	if _, err := a.poll.RegisterDaily("sweep", scheduleOr(p.SweepAt, defaultSweepAt), 5*time.Minute,
		func(ctx context.Context) error {
			_, err := a.notif.Sweep(ctx, a.clk.Now())
			return err
		}); err != nil {
		return err
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = a.clk.Now()
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Transactional reload: validate before commit/publish.
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	cfg := a.cfgm.Get()
	if err := a.registerPasses(cfg); err != nil {
		return err
	}
	if cfg.Poller.Enabled {
		a.poll.Start(a.sup.Context())
	} else {
		a.log.Warn("poller disabled; notifications will not be dispatched")
	}

	// The daemon keeps running without its debug endpoints.
	if err := a.dbg.Start(a.sup.Context()); err != nil {
		a.log.Error("debug server failed to start", logx.Err(err))
	}

	// Debug journal of lifecycle events. Components subscribe themselves
	// for real work; this is operator visibility only.
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

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the newest config matters.
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
				a.applyReload(c, lastApplied, newCfg, sections)
				lastApplied = newCfg

				if len(sections) > 0 {
					fields := append([]logx.Field{
						logx.String("changed", strings.Join(sections, ",")),
					}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	// The watcher returns ErrWatcherClosed when fsnotify breaks; the
	// supervisor recreates it with backoff.
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second))

	a.log.Info("daemon started")
	return nil
}

// applyReload pushes a validated config into the running services.
func (a *App) applyReload(ctx context.Context, prev, next *config.Config, sections []string) {
	for _, s := range sections {
		if s == "storage" || s == "channels" {
			a.log.Warn("section changed; restart required for it to take effect",
				logx.String("section", s))
		}
	}

	a.logs.Apply(logx.Config{
		Level:   next.Logging.Level,
		Console: next.Logging.Console,
		File: logx.FileConfig{
			Enabled: next.Logging.File.Enabled,
			Path:    next.Logging.File.Path,
		},
	})

	// The validator ran before publish, so mapping errors here mean the
	// validator and the mappers disagree; keep the previous settings.
	if dc, err := mapDispatchConfig(next); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(dc)
	}
	if gc, err := mapGenerationConfig(next); err != nil {
		a.log.Warn("invalid generation config; keeping previous", logx.Err(err))
	} else {
		a.gen.Apply(gc)
	}

	if dc, err := mapDebugConfig(next); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else if err := a.dbg.Apply(a.sup.Context(), dc); err != nil {
		a.log.Warn("debug server apply failed", logx.Err(err))
	}

	pc, err := mapPollerConfig(next)
	if err != nil {
		a.log.Warn("invalid poller config; keeping previous", logx.Err(err))
		return
	}
	a.poll.Apply(pc)

	if schedulesChanged(prev, next) {
		if err := a.registerPasses(next); err != nil {
			a.log.Warn("pass re-registration failed; keeping previous schedules", logx.Err(err))
		}
	}

	prevEnabled := prev != nil && prev.Poller.Enabled
	if prevEnabled && !next.Poller.Enabled {
		a.log.Info("poller disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.poll.Stop(stopCtx)
		cancel()
	} else if !prevEnabled && next.Poller.Enabled {
		a.log.Info("poller enabled via config")
		a.poll.Start(a.sup.Context())
	}
}

func schedulesChanged(prev, next *config.Config) bool {
	if prev == nil {
		return true
	}
	return prev.Poller.DispatchEvery != next.Poller.DispatchEvery ||
		prev.Poller.GenerationEvery != next.Poller.GenerationEvery ||
		prev.Poller.OverdueSchedule != next.Poller.OverdueSchedule ||
		prev.Poller.SweepAt != next.Poller.SweepAt
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step bounds each shutdown stage so one stalled component can't hold
	// the whole stop past the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			a.log.Debug("stop step done",
				logx.String("name", name),
				logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("poller", 2*time.Second, func(c context.Context) error {
		a.poll.Stop(c)
		return nil
	})
	step("debug", time.Second, func(c context.Context) error {
		return a.dbg.Stop(c)
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})
	step("storage", time.Second, func(context.Context) error {
		return a.store.Close()
	})

	a.log.Info("stopped", logx.Uint64("goroutines_started", a.sup.Counters().Started))
	_ = a.logs.Close()
	return nil
}
