package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/echocrafter/internal/config"
	"github.com/MrWong99/echocrafter/internal/engine"
	"github.com/MrWong99/echocrafter/internal/override"
	"github.com/MrWong99/echocrafter/internal/resilience"
	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/audio/portaudio"
	"github.com/MrWong99/echocrafter/pkg/audio/wavfile"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/llm"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
	"github.com/MrWong99/echocrafter/pkg/provider/vad"
	"github.com/MrWong99/echocrafter/pkg/provider/wakeword"
)

// newSource opens the configured frame source.
func newSource(cfg *config.Config) (audio.Source, error) {
	format := cfg.Format()
	switch cfg.Audio.Source {
	case config.SourceWAV:
		return wavfile.New(cfg.Audio.WAVPath, format,
			wavfile.WithRealtime(cfg.Audio.Realtime()),
			wavfile.WithLoop(cfg.Audio.WAVLoop),
		)
	case config.SourcePortAudio:
		if !portaudio.Available() {
			return nil, errors.New("portaudio support is not compiled in; use audio.source wav")
		}
		return portaudio.New(format)
	default:
		return nil, fmt.Errorf("unknown audio source %q", cfg.Audio.Source)
	}
}

// initEngines builds the engine set from injected builders or from the
// registry.
func (a *App) initEngines(ctx context.Context) error {
	var b engine.Builders
	if a.builders != nil {
		b = *a.builders
	} else {
		if a.reg == nil {
			return errors.New("no provider registry")
		}
		deps, err := a.sharedDeps()
		if err != nil {
			return err
		}
		b = a.registryBuilders(deps)
	}

	set, err := engine.New(ctx, b)
	if err != nil {
		return err
	}
	a.engines = set
	a.closers = append(a.closers, set.Close)
	return nil
}

// sharedDeps loads the grammar and builds the LLM and resolver that the
// engine factories may need.
func (a *App) sharedDeps() (config.Deps, error) {
	e := a.cfg.Engines
	deps := config.Deps{
		Format: a.cfg.Format(),
		Logger: a.log,
		Transcripts: func(t stt.Transcript) {
			a.log.Debug("app: heard while classifying", "text", t.Text)
		},
	}

	if e.Grammar != "" {
		g, err := intent.LoadGrammar(e.Grammar)
		if err != nil {
			return deps, fmt.Errorf("load grammar: %w", err)
		}
		deps.Grammar = g
		a.log.Info("loaded intent grammar", "path", e.Grammar, "intents", len(g.Intents()))
	}

	if e.LLM.Name != "" {
		p, err := a.buildLLM(deps)
		if err != nil {
			return deps, err
		}
		deps.LLM = p
	}

	if e.Resolver.Name != "" {
		r, err := a.reg.CreateResolver(e.Resolver, deps)
		if err != nil {
			return deps, fmt.Errorf("create resolver %q: %w", e.Resolver.Name, err)
		}
		deps.Resolver = r
	}
	return deps, nil
}

// buildLLM creates the configured LLM, behind a failover group when
// fallbacks are configured.
func (a *App) buildLLM(deps config.Deps) (llm.Provider, error) {
	e := a.cfg.Engines
	primary, err := a.reg.CreateLLM(e.LLM, deps)
	if err != nil {
		return nil, fmt.Errorf("create llm %q: %w", e.LLM.Name, err)
	}
	if len(e.LLMFallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewLLMFallback(primary, e.LLM.Name, a.fallbackConfig())
	for _, entry := range e.LLMFallbacks {
		p, err := a.reg.CreateLLM(entry, deps)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	a.llms = fb
	return fb, nil
}

// buildTranscriber creates the configured transcriber, behind a failover
// group when fallbacks are configured.
func (a *App) buildTranscriber(deps config.Deps) (stt.Transcriber, error) {
	e := a.cfg.Engines
	primary, err := a.reg.CreateTranscriber(e.Transcriber, deps)
	if err != nil {
		return nil, err
	}
	if len(e.TranscriberFallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewTranscriberFallback(primary, e.Transcriber.Name, a.fallbackConfig())
	for _, entry := range e.TranscriberFallbacks {
		t, err := a.reg.CreateTranscriber(entry, deps)
		if err != nil {
			_ = fb.Close()
			return nil, fmt.Errorf("fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, t)
	}
	a.transcribers = fb
	return fb, nil
}

// fallbackConfig reports breaker transitions as metrics.
func (a *App) fallbackConfig() resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Logger: a.log,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
}

// registryBuilders resolves every engine slot through the registry. The
// wake word detector and intent classifier are wrapped with the
// environment overrides.
func (a *App) registryBuilders(deps config.Deps) engine.Builders {
	e := a.cfg.Engines
	env := override.NewEnv(override.WithLogger(a.log))
	with := func(built *engine.Set) config.Deps {
		d := deps
		d.Engines = built
		return d
	}

	return engine.Builders{
		VAD: engine.Builder[vad.Detector]{
			Name: e.VAD.Name,
			Build: func(_ context.Context, built *engine.Set) (vad.Detector, error) {
				return a.reg.CreateVAD(e.VAD, with(built))
			},
		},
		Transcriber: engine.Builder[stt.Transcriber]{
			Name: e.Transcriber.Name,
			Build: func(_ context.Context, built *engine.Set) (stt.Transcriber, error) {
				return a.buildTranscriber(with(built))
			},
		},
		WakeWord: engine.Builder[wakeword.Detector]{
			Name: e.WakeWord.Name,
			Build: func(_ context.Context, built *engine.Set) (wakeword.Detector, error) {
				w, err := a.reg.CreateWakeWord(e.WakeWord, with(built))
				if err != nil {
					return nil, err
				}
				return override.NewWakeWord(w, env), nil
			},
		},
		Intent: engine.Builder[intent.Classifier]{
			Name: e.Intent.Name,
			Build: func(_ context.Context, built *engine.Set) (intent.Classifier, error) {
				c, err := a.reg.CreateIntent(e.Intent, with(built))
				if err != nil {
					return nil, err
				}
				return override.NewClassifier(c, env), nil
			},
		},
	}
}
