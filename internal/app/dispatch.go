package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/echocrafter/internal/config"
	"github.com/MrWong99/echocrafter/internal/dispatch"
	"github.com/MrWong99/echocrafter/internal/journal"
	"github.com/MrWong99/echocrafter/internal/journal/postgres"
	"github.com/MrWong99/echocrafter/internal/journal/sqlite"
	"github.com/MrWong99/echocrafter/internal/observe"
	"github.com/MrWong99/echocrafter/internal/orchestrator"
	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

// initDispatch builds the sink chain: log, socket, NATS, journal, cues and
// injected sinks, fanned out by a Multi behind an Async queue so the
// orchestrator never waits on delivery.
func (a *App) initDispatch(ctx context.Context) error {
	d := a.cfg.Dispatch
	sinks := []dispatch.Dispatcher{dispatch.NewLog(a.log)}

	if d.SocketPath != "" {
		s, err := dispatch.NewSocket(d.SocketPath, time.Duration(d.SocketTimeoutSeconds*float64(time.Second)))
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}

	if d.NATS.URL != "" {
		n, err := dispatch.ConnectNATS(dispatch.NATSConfig{
			URL:    d.NATS.URL,
			Prefix: d.NATS.Prefix,
			Name:   a.cfg.Telemetry.ServiceName,
			Token:  d.NATS.Token,
		}, a.log)
		if err != nil {
			return err
		}
		a.nats = n
		a.closers = append(a.closers, n.Close)
		sinks = append(sinks, n)
	}

	if a.journal == nil && a.cfg.Journal.Driver != "" {
		j, err := openJournal(ctx, a.cfg.Journal)
		if err != nil {
			return err
		}
		a.journal = j
	}
	if a.journal != nil {
		a.closers = append(a.closers, a.journal.Close)
		sinks = append(sinks, journal.NewSink(a.journal))
	}

	if err := a.setCue(d.Cues); err != nil {
		return err
	}
	sinks = append(sinks, cueSink{a: a})

	if err := a.setRecorder(d.RecordDir, d.RecordKeep); err != nil {
		return err
	}

	sinks = append(sinks, a.sinks...)
	a.async = dispatch.NewAsync(
		metered{next: dispatch.Multi(sinks), metrics: a.metrics},
		d.QueueSize,
		dispatch.WithLogger(a.log),
	)
	return nil
}

func openJournal(ctx context.Context, cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Driver {
	case config.JournalSQLite:
		return sqlite.Open(ctx, cfg.DSN)
	case config.JournalPostgres:
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}

// setCue swaps the cue player. Cues with no files disable playback.
func (a *App) setCue(cfg config.CuesConfig) error {
	if !cfg.Enabled() {
		a.cue.Store(nil)
		return nil
	}
	c, err := dispatch.NewCue(dispatch.CueConfig{
		Player:     cfg.Player,
		Wake:       cfg.Wake,
		Success:    cfg.Success,
		Transcript: cfg.Transcript,
	}, a.log)
	if err != nil {
		return err
	}
	a.cue.Store(c)
	return nil
}

// setRecorder swaps the utterance recorder. An empty dir disables it.
func (a *App) setRecorder(dir string, keep int) error {
	if dir == "" {
		a.recorder.Store(nil)
		return nil
	}
	r, err := dispatch.NewRecorder(dir, keep, a.log)
	if err != nil {
		return err
	}
	a.recorder.Store(r)
	return nil
}

// callbacks forwards orchestrator outcomes to the dispatch queue.
func (a *App) callbacks() orchestrator.Callbacks {
	return orchestrator.Callbacks{
		OnWakeWord: func(keyword int) {
			a.enqueued(dispatch.TypeWake, a.async.WakeWord(context.Background(), keyword))
		},
		OnIntent: func(in intent.Intent) {
			a.enqueued(dispatch.TypeIntent, a.async.Intent(context.Background(), in))
		},
		OnTranscript: func(t stt.Transcript) {
			a.enqueued(dispatch.TypeTranscript, a.async.Transcript(context.Background(), t))
		},
		OnUtterance: a.record,
	}
}

func (a *App) enqueued(event string, err error) {
	if err == nil {
		return
	}
	a.metrics.RecordDispatchError(context.Background(), event)
	a.log.Warn("app: outcome not queued", "event", event, "err", err)
}

// record keeps a copy of u when the recorder is enabled. Writing happens
// off the orchestrator goroutine; Shutdown waits for it.
func (a *App) record(u audio.Utterance) {
	r := a.recorder.Load()
	if r == nil {
		return
	}
	u.Frames = slices.Clone(u.Frames)
	a.recording.Go(func() {
		path, err := r.Record(u)
		if err != nil {
			a.log.Warn("app: record utterance", "err", err)
			return
		}
		a.log.Debug("app: recorded utterance", "path", path, "duration", u.Duration())
	})
}

// cueSink plays the current cue, if any. It reads the pointer per event so
// hot reloads take effect immediately.
type cueSink struct{ a *App }

var _ dispatch.Dispatcher = cueSink{}

func (s cueSink) WakeWord(ctx context.Context, keyword int) error {
	if c := s.a.cue.Load(); c != nil {
		return c.WakeWord(ctx, keyword)
	}
	return nil
}

func (s cueSink) Intent(ctx context.Context, in intent.Intent) error {
	if c := s.a.cue.Load(); c != nil {
		return c.Intent(ctx, in)
	}
	return nil
}

func (s cueSink) Transcript(ctx context.Context, t stt.Transcript) error {
	if c := s.a.cue.Load(); c != nil {
		return c.Transcript(ctx, t)
	}
	return nil
}

// metered counts failed deliveries per event type.
type metered struct {
	next    dispatch.Dispatcher
	metrics *observe.Metrics
}

var _ dispatch.Dispatcher = metered{}

func (m metered) WakeWord(ctx context.Context, keyword int) error {
	return m.count(ctx, dispatch.TypeWake, m.next.WakeWord(ctx, keyword))
}

func (m metered) Intent(ctx context.Context, in intent.Intent) error {
	return m.count(ctx, dispatch.TypeIntent, m.next.Intent(ctx, in))
}

func (m metered) Transcript(ctx context.Context, t stt.Transcript) error {
	return m.count(ctx, dispatch.TypeTranscript, m.next.Transcript(ctx, t))
}

func (m metered) count(ctx context.Context, event string, err error) error {
	if err != nil {
		m.metrics.RecordDispatchError(ctx, event)
	}
	return err
}
