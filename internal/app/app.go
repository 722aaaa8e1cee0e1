// Package app wires the echocrafter subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the frame source, the
// engines, the dispatch sinks and the orchestrator; Run supervises the
// capture worker, the orchestrator, the admin server and the config
// watcher; Shutdown tears everything down.
//
// For testing, inject doubles via functional options (WithSource,
// WithBuilders, WithDispatcher, ...). When an option is not provided, New
// creates real implementations from the config and the provider registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/echocrafter/internal/config"
	"github.com/MrWong99/echocrafter/internal/dispatch"
	"github.com/MrWong99/echocrafter/internal/endpoint"
	"github.com/MrWong99/echocrafter/internal/engine"
	"github.com/MrWong99/echocrafter/internal/journal"
	"github.com/MrWong99/echocrafter/internal/observe"
	"github.com/MrWong99/echocrafter/internal/orchestrator"
	"github.com/MrWong99/echocrafter/internal/resilience"
	"github.com/MrWong99/echocrafter/pkg/audio"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	reg        *config.Registry
	log        *slog.Logger
	level      *slog.LevelVar
	metrics    *observe.Metrics
	configPath string

	source   audio.Source
	builders *engine.Builders
	engines  *engine.Set
	ring     *audio.Ring
	orch     *orchestrator.Orchestrator

	// Subsystems; initialised in New, torn down in Shutdown.
	sinks    []dispatch.Dispatcher
	journal  journal.Journal
	nats     *dispatch.NATS
	async    *dispatch.Async
	cue      atomic.Pointer[dispatch.Cue]
	recorder atomic.Pointer[dispatch.Recorder]

	// recording tracks utterance writes still in flight.
	recording sync.WaitGroup

	transcribers *resilience.TranscriberFallback
	llms         *resilience.LLMFallback

	admin *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a frame source instead of opening the configured one.
func WithSource(src audio.Source) Option {
	return func(a *App) { a.source = src }
}

// WithBuilders injects engine builders instead of resolving them through
// the registry.
func WithBuilders(b engine.Builders) Option {
	return func(a *App) { a.builders = &b }
}

// WithDispatcher adds a sink that receives every outcome alongside the
// configured ones.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(a *App) { a.sinks = append(a.sinks, d) }
}

// WithJournal injects an outcome journal instead of opening journal.dsn.
// The App takes ownership and closes it on Shutdown.
func WithJournal(j journal.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets hot reloads change the log level of the handler that
// was built with lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics sets the metric instruments. The default is
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigPath enables hot reload by watching path during Run.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg may be nil when
// both WithSource and WithBuilders are given.
//
// New performs all initialisation synchronously; on failure everything
// built so far is released.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			if a.async != nil {
				_ = a.async.Close(context.Background())
			}
			_ = a.closeAll()
		}
	}()

	format := cfg.Format()

	// ── 1. Frame source ─────────────────────────────────────────────────
	if a.source == nil {
		if a.source, err = newSource(cfg); err != nil {
			return nil, fmt.Errorf("app: init source: %w", err)
		}
	}

	// ── 2. Frame ring ───────────────────────────────────────────────────
	capacity := max(1, format.FramesFor(cfg.Orchestrator.Ring()))
	a.ring = audio.NewRing(capacity, audio.WithEvictHook(func(audio.Frame) {
		a.metrics.RecordEviction(context.Background())
	}))

	// ── 3. Engines ──────────────────────────────────────────────────────
	if err := a.initEngines(ctx); err != nil {
		return nil, fmt.Errorf("app: init engines: %w", err)
	}

	// ── 4. Dispatch ─────────────────────────────────────────────────────
	if err := a.initDispatch(ctx); err != nil {
		return nil, fmt.Errorf("app: init dispatch: %w", err)
	}

	// ── 5. Orchestrator ─────────────────────────────────────────────────
	o := cfg.Orchestrator
	a.orch, err = orchestrator.New(a.engines, a.ring, format,
		orchestrator.Config{
			PreRoll:       o.PreRollFrames,
			IntentTimeout: o.IntentTimeout(),
			Endpoint: endpoint.Config{
				Low:          o.VADLow,
				High:         o.VADHigh,
				Endpoint:     o.Endpoint(),
				MaxUtterance: o.MaxUtterance(),
				Limit:        o.Limit(),
			},
		},
		a.callbacks(),
		orchestrator.WithLogger(a.log),
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}

	// ── 6. Admin server ─────────────────────────────────────────────────
	a.initAdmin()

	return a, nil
}

// Orchestrator returns the session state machine.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run captures and processes audio until ctx is cancelled, the source ends
// or a supervised worker fails. A finite source ending is not an error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := orchestrator.Capture(gctx, a.source, a.ring)
		if errors.Is(err, audio.ErrEndOfStream) {
			a.log.Info("app: input ended")
			return nil
		}
		return err
	})

	g.Go(func() error {
		// The orchestrator drains the ring after capture ends; once it
		// returns nothing is left to serve.
		defer cancel()
		return a.orch.Run(gctx)
	})

	if a.admin != nil {
		g.Go(func() error { return a.serveAdmin(gctx) })
	}
	if a.configPath != "" {
		g.Go(func() error { return a.watch(gctx) })
	}

	a.log.Info("app running",
		"format", a.cfg.Format().String(),
		"wakeword", a.engines.Name(engine.KindWakeWord),
		"intent", a.engines.Name(engine.KindIntent),
		"transcriber", a.engines.Name(engine.KindTranscriber),
	)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown delivers queued outcomes and releases every subsystem. It is
// safe to call more than once; later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if a.async != nil {
			if err := a.async.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush dispatch queue: %w", err))
			}
		}
		if err := a.waitRecordings(ctx); err != nil {
			errs = append(errs, err)
		}
		if c := a.cue.Load(); c != nil {
			c.Wait()
		}
		errs = append(errs, a.closeAll())
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

// waitRecordings blocks until every utterance write has finished or ctx is
// done.
func (a *App) waitRecordings(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.recording.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for recordings: %w", ctx.Err())
	}
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

func (a *App) watch(ctx context.Context) error {
	w, err := config.NewWatcher(a.configPath, a.applyConfig, config.WithWatcherLogger(a.log))
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	return w.Run(ctx)
}

// applyConfig applies the hot-reloadable part of a config change.
func (a *App) applyConfig(old, next *config.Config) {
	d := config.Diff(old, next)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		a.log.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.CuesChanged {
		if err := a.setCue(d.NewCues); err != nil {
			a.log.Warn("app: keeping previous cues", "err", err)
		} else {
			a.log.Info("app: cues reloaded")
		}
	}
	if d.RecordChanged {
		if err := a.setRecorder(d.NewRecordDir, d.NewRecordKeep); err != nil {
			a.log.Warn("app: keeping previous recorder", "err", err)
		} else {
			a.log.Info("app: recorder reloaded", "dir", d.NewRecordDir, "keep", d.NewRecordKeep)
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("app: config changes need a restart", "sections", d.RestartRequired)
	}
}
