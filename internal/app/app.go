// Package app wires the process together: config, logging, storage, the
// event bus, queue and memory stores, the scheduler, and the coordinator.
package app

import (
	"context"
	"fmt"
	"time"

	"pacekeeper/internal/brain"
	"pacekeeper/internal/config"
	"pacekeeper/internal/coordinator"
	"pacekeeper/internal/eventbus"
	"pacekeeper/internal/memory"
	"pacekeeper/internal/queue"
	"pacekeeper/internal/state"
	"pacekeeper/internal/storage"
	logx "pacekeeper/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	bus     *eventbus.Bus
	store   storage.DocStore
	queue   *queue.Queue
	memory  *memory.Memory
	machine *state.Machine
	brain   *brain.Brain
	coord   *coordinator.Coordinator
}

// NewApp loads configuration and constructs all components. An empty config
// path runs on built-in defaults (volatile storage).
func NewApp(cfgPath string) (*App, error) {
	var (
		cfgm *ConfigManager
		cfg  *Config
	)
	if cfgPath != "" {
		cfgm = NewConfigManager(cfgPath)
		c, err := cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
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

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if sc.Driver == "" {
		log.Warn("no storage configured; queue and memory are volatile")
	} else {
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	bus := eventbus.New(log.With(logx.String("comp", "bus")))
	q := queue.New(store, bus, log.With(logx.String("comp", "queue")))
	mem := memory.New(store, log.With(logx.String("comp", "memory")))
	machine := state.NewMachine(bus, log.With(logx.String("comp", "state")))

	brainCfg, err := brain.FromScheduler(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	b := brain.New(brainCfg, q, mem, machine, bus, log)
	coord := coordinator.New(q, b, machine, bus, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		queue:   q,
		memory:  mem,
		machine: machine,
		brain:   b,
		coord:   coord,
	}, nil
}

// Coordinator exposes the submission/execution surface.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Brain exposes the scheduler for status queries.
func (a *App) Brain() *brain.Brain { return a.brain }

// Queue exposes the work queue, mainly for executor wiring.
func (a *App) Queue() *queue.Queue { return a.queue }

// Logger returns the app-scoped logger.
func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	a.brain.Start()

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		// Transactional reload: reject before commit/publish.
		a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := mapStorageConfig(cfg); err != nil {
				return err
			}
			_, err := brain.FromScheduler(cfg.Scheduler)
			return err
		})

		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return
				case newCfg, ok := <-sub:
					if !ok {
						return
					}
					// Coalesce bursts: only the newest snapshot matters.
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
					a.applyConfig(newCfg)
				}
			}
		})

		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	brainCfg, err := brain.FromScheduler(cfg.Scheduler)
	if err != nil {
		// Validator should have caught this; keep the previous pacing.
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.brain.Apply(brainCfg)
	}

	// The store is opened once at construction.
	if cfg.Storage != nil {
		a.log.Debug("storage config changes take effect on restart")
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bounded shutdown steps so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
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
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("brain", 12*time.Second, func(context.Context) error { a.brain.Stop(); return nil })
	step("supervisor", 3*time.Second, func(context.Context) error { return a.sup.Stop(2 * time.Second) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
