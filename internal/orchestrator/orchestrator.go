// Package orchestrator runs the voice-command session state machine.
//
// The [Orchestrator] pulls frames from an [audio.Ring] that a separate
// capture goroutine ([Capture]) keeps filling, and walks each session
// through wake word detection, intent classification and, when the
// classifier does not understand the command, utterance collection and
// transcription. Outcomes are reported through [Callbacks].
//
// Every engine call happens on the goroutine that called [Orchestrator.Run];
// engines need no locking. The ring is the only structure shared with the
// capture goroutine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/echocrafter/internal/endpoint"
	"github.com/MrWong99/echocrafter/internal/engine"
	"github.com/MrWong99/echocrafter/internal/observe"
	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
	"github.com/MrWong99/echocrafter/pkg/provider/wakeword"
)

// Defaults for [Config].
const (
	DefaultPreRoll       = 8
	DefaultIntentTimeout = 10 * time.Second
)

// ErrAlreadyRunning is returned by Run when another Run is active.
var ErrAlreadyRunning = errors.New("orchestrator: already running")

// errReset is the cancellation cause of a session abandoned by Reset.
var errReset = errors.New("orchestrator: reset requested")

// Config holds the session parameters.
type Config struct {
	// PreRoll is how many of the last frames consumed while waiting for the
	// wake word are replayed into the intent classifier. Detectors fire a
	// few frames after the phrase ends, so without replay the start of the
	// command is lost. Zero takes the default; a negative value disables
	// replay.
	PreRoll int

	// IntentTimeout is how much audio the classifier may consume without
	// finalizing before the session falls back to transcription.
	IntentTimeout time.Duration

	// Endpoint configures utterance collection.
	Endpoint endpoint.Config
}

func (c Config) withDefaults() Config {
	switch {
	case c.PreRoll == 0:
		c.PreRoll = DefaultPreRoll
	case c.PreRoll < 0:
		c.PreRoll = 0
	}
	if c.IntentTimeout <= 0 {
		c.IntentTimeout = DefaultIntentTimeout
	}
	return c
}

// Callbacks receive session outcomes. Any field may be nil. Callbacks run
// on the orchestrator goroutine and delay frame processing while they run;
// slow consumers should hand off to their own goroutine.
type Callbacks struct {
	// OnWakeWord fires when the wake detector triggers, with the index of
	// the keyword that matched.
	OnWakeWord func(keyword int)

	// OnIntent fires when the classifier understood the command.
	OnIntent func(intent.Intent)

	// OnTranscript fires with the fallback transcription.
	OnTranscript func(stt.Transcript)

	// OnUtterance fires with the collected utterance before it is
	// transcribed.
	OnUtterance func(audio.Utterance)

	// OnStateChange fires on every state transition.
	OnStateChange func(from, to State)
}

// Stats is a point-in-time snapshot of the orchestrator.
type Stats struct {
	State State

	// Sessions counts wake word detections.
	Sessions uint64

	// Intents counts understood commands.
	Intents uint64

	// Fallbacks counts sessions that went on to transcription, Timeouts the
	// subset caused by the intent timeout.
	Fallbacks uint64
	Timeouts  uint64

	// Transcripts counts completed transcriptions.
	Transcripts uint64

	// Aborted counts sessions ended by an engine failure; LastError holds
	// the most recent one.
	Aborted   uint64
	LastError string

	// RingLen and RingEvicted describe the frame ring.
	RingLen     int
	RingEvicted uint64
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics sets the metric instruments. The default is
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator drives sessions over a set of engines. Run, Reset, State
// and Stats may be called from any goroutine.
type Orchestrator struct {
	engines   *engine.Set
	ring      *audio.Ring
	format    audio.Format
	cfg       Config
	cb        Callbacks
	log       *slog.Logger
	metrics   *observe.Metrics
	collector *endpoint.Collector

	intentTimeoutFrames int

	state   atomic.Int32
	running atomic.Bool

	// cancelSession abandons the session context Run is stepping with.
	// Nil while Run is not active.
	sessionMu     sync.Mutex
	cancelSession context.CancelCauseFunc

	sessions    atomic.Uint64
	intents     atomic.Uint64
	fallbacks   atomic.Uint64
	timeouts    atomic.Uint64
	transcripts atomic.Uint64
	aborted     atomic.Uint64

	errMu   sync.Mutex
	lastErr string

	// Session state. Owned by the Run goroutine.
	pending   []audio.Frame // replayed before the ring is read again
	trailing  []audio.Frame // last PreRoll frames seen while waiting
	consumed  []audio.Frame // frames fed to the classifier this session
	seed      []audio.Frame // classifier frames handed to the collector
	utterance audio.Utterance
}

// New returns an orchestrator reading frames of format from ring. It fails
// with an *engine.InitError when engines or one of its members is missing,
// and with a plain error for an invalid format or configuration.
func New(engines *engine.Set, ring *audio.Ring, format audio.Format, cfg Config, cb Callbacks, opts ...Option) (*Orchestrator, error) {
	if err := checkEngines(engines); err != nil {
		return nil, err
	}
	if ring == nil {
		return nil, errors.New("orchestrator: ring must not be nil")
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	cfg = cfg.withDefaults()

	o := &Orchestrator{
		engines:             engines,
		ring:                ring,
		format:              format,
		cfg:                 cfg,
		cb:                  cb,
		log:                 slog.Default(),
		intentTimeoutFrames: max(1, format.FramesFor(cfg.IntentTimeout)),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	collector, err := endpoint.New(engines.VAD, format, cfg.Endpoint, endpoint.WithLogger(o.log))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	o.collector = collector
	o.trailing = make([]audio.Frame, 0, cfg.PreRoll)
	return o, nil
}

func checkEngines(s *engine.Set) error {
	missing := errors.New("engine missing")
	switch {
	case s == nil:
		return &engine.InitError{Kind: "set", Err: missing}
	case s.VAD == nil:
		return &engine.InitError{Kind: engine.KindVAD, Err: missing}
	case s.Transcriber == nil:
		return &engine.InitError{Kind: engine.KindTranscriber, Err: missing}
	case s.WakeWord == nil:
		return &engine.InitError{Kind: engine.KindWakeWord, Err: missing}
	case s.Intent == nil:
		return &engine.InitError{Kind: engine.KindIntent, Err: missing}
	}
	return nil
}

// State returns the current state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Stats returns a snapshot of the counters and the ring.
func (o *Orchestrator) Stats() Stats {
	o.errMu.Lock()
	lastErr := o.lastErr
	o.errMu.Unlock()
	return Stats{
		State:       o.State(),
		Sessions:    o.sessions.Load(),
		Intents:     o.intents.Load(),
		Fallbacks:   o.fallbacks.Load(),
		Timeouts:    o.timeouts.Load(),
		Transcripts: o.transcripts.Load(),
		Aborted:     o.aborted.Load(),
		LastError:   lastErr,
		RingLen:     o.ring.Len(),
		RingEvicted: o.ring.Evicted(),
	}
}

// Reset abandons the current session and returns to Idle. While Run is
// active it cancels the session context, which wakes a pop blocked on an
// empty ring and any engine call in flight; the Run goroutine then performs
// the reset. Otherwise it happens immediately. Reset is idempotent.
func (o *Orchestrator) Reset() {
	o.sessionMu.Lock()
	cancel := o.cancelSession
	o.sessionMu.Unlock()
	if cancel != nil {
		cancel(errReset)
		return
	}
	o.enterIdle()
}

// newSession returns a context for the next session, cancelled by Reset or
// when parent is done.
func (o *Orchestrator) newSession(parent context.Context) context.Context {
	ctx, cancel := context.WithCancelCause(parent)
	o.sessionMu.Lock()
	if o.cancelSession != nil {
		o.cancelSession(nil)
	}
	o.cancelSession = cancel
	o.sessionMu.Unlock()
	return ctx
}

func (o *Orchestrator) endSessions() {
	o.sessionMu.Lock()
	if o.cancelSession != nil {
		o.cancelSession(nil)
		o.cancelSession = nil
	}
	o.sessionMu.Unlock()
}

// Run processes frames until ctx is cancelled or the ring is closed and
// empty. It always leaves the orchestrator Idle. Engine failures abort the
// current session but not Run; the returned error is non-nil only when Run
// was already active.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.running.Store(false)
	sess := o.newSession(ctx)
	defer o.endSessions()

	o.log.Info("orchestrator: running",
		"format", o.format.String(),
		"pre_roll", o.cfg.PreRoll,
		"intent_timeout_frames", o.intentTimeoutFrames,
		"endpoint_frames", o.collector.EndpointFrames(),
	)

	for {
		if ctx.Err() != nil {
			o.enterIdle()
			o.log.Info("orchestrator: stopped", "reason", context.Cause(ctx))
			return nil
		}
		if sess.Err() != nil {
			o.log.Info("orchestrator: reset requested", "state", o.State().String())
			o.enterIdle()
			sess = o.newSession(ctx)
		}

		err := o.step(sess)
		if err == nil || sess.Err() != nil {
			continue
		}

		var se *SessionError
		switch {
		case errors.Is(err, audio.ErrClosed) && o.State() == RecognizingIntent && len(o.consumed) > 0:
			// Transcribe what the classifier heard before the stream ended.
			o.log.Info("orchestrator: frame stream ended during intent recognition", "frames", len(o.consumed))
			o.fallBack()
		case errors.Is(err, audio.ErrClosed):
			o.enterIdle()
			o.log.Info("orchestrator: frame stream ended")
			return nil
		case errors.As(err, &se):
			o.aborted.Add(1)
			o.metrics.RecordOutcome(ctx, observe.OutcomeAborted)
			o.errMu.Lock()
			o.lastErr = se.Error()
			o.errMu.Unlock()
			o.log.Warn("orchestrator: session aborted", "state", se.State.String(), "err", se.Err)
			o.enterIdle()
		default:
			o.log.Error("orchestrator: unexpected step failure", "state", o.State().String(), "err", err)
			o.enterIdle()
		}
	}
}

// step performs one unit of work for the current state.
func (o *Orchestrator) step(ctx context.Context) error {
	switch s := o.State(); s {
	case Idle:
		o.setState(WaitingWakeWord)
		return nil
	case WaitingWakeWord:
		return o.waitWakeWord(ctx)
	case RecognizingIntent:
		return o.recognizeIntent(ctx)
	case CollectingUtterance:
		return o.collectUtterance(ctx)
	case Transcribing:
		return o.transcribe(ctx)
	default:
		return fmt.Errorf("orchestrator: unknown state %s", s)
	}
}

func (o *Orchestrator) waitWakeWord(ctx context.Context) error {
	f, err := o.next(ctx)
	if err != nil {
		return err
	}
	o.remember(f)

	keyword, detected, err := o.engines.WakeWord.Process(f)
	if err != nil {
		o.log.Debug("orchestrator: wake word process failed", "seq", f.Seq, "err", err)
		return nil
	}
	if !detected {
		return nil
	}

	o.sessions.Add(1)
	o.metrics.RecordSession(ctx, keyword)
	o.log.Info("orchestrator: wake word detected", "keyword", keyword, "seq", f.Seq, "pre_roll", len(o.trailing))
	if o.cb.OnWakeWord != nil {
		o.cb.OnWakeWord(keyword)
	}

	// Replay the trailing frames ahead of anything still pending.
	o.pending = append(slices.Clone(o.trailing), o.pending...)
	o.trailing = o.trailing[:0]
	o.consumed = o.consumed[:0]
	o.setState(RecognizingIntent)
	return nil
}

func (o *Orchestrator) recognizeIntent(ctx context.Context) error {
	f, err := o.next(ctx)
	if err != nil {
		return err
	}
	o.consumed = append(o.consumed, f)

	finalized, err := o.engines.Intent.Process(f)
	if err != nil {
		return &SessionError{State: RecognizingIntent, Err: err}
	}
	if !finalized {
		if len(o.consumed) >= o.intentTimeoutFrames {
			o.timeouts.Add(1)
			o.metrics.RecordOutcome(ctx, observe.OutcomeTimeout)
			o.log.Info("orchestrator: intent timeout", "frames", len(o.consumed))
			o.fallBack()
		}
		return nil
	}

	name := o.engines.Name(engine.KindIntent)
	spanCtx, span := observe.StartSpan(ctx, "orchestrator.intent",
		trace.WithAttributes(attribute.String("engine", name)))
	start := time.Now()
	result, err := o.engines.Intent.Inference(spanCtx)
	o.metrics.RecordProviderCall(ctx, o.metrics.IntentDuration, name, string(engine.KindIntent), time.Since(start), err)
	if err == nil {
		span.SetAttributes(attribute.Bool("understood", result.Understood))
	}
	observe.EndSpan(span, err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SessionError{State: RecognizingIntent, Err: err}
	}

	if !result.Understood {
		o.log.Info("orchestrator: intent not understood", "frames", len(o.consumed))
		o.metrics.RecordOutcome(ctx, observe.OutcomeNotUnderstood)
		o.fallBack()
		return nil
	}

	o.intents.Add(1)
	o.metrics.RecordOutcome(ctx, observe.OutcomeIntent)
	observe.Logger(spanCtx, o.log).Info("orchestrator: intent recognized", "intent", result.String())
	if o.cb.OnIntent != nil {
		o.cb.OnIntent(result)
	}
	o.enterIdle()
	return nil
}

// fallBack moves to utterance collection, seeding it with every frame the
// classifier consumed.
func (o *Orchestrator) fallBack() {
	o.fallbacks.Add(1)
	o.seed = slices.Clone(o.consumed)
	o.consumed = o.consumed[:0]
	o.setState(CollectingUtterance)
}

func (o *Orchestrator) collectUtterance(ctx context.Context) error {
	res, err := o.collector.Collect(ctx, popFunc(o.next), o.seed)
	o.seed = nil
	if err != nil {
		// A stream that ends mid-command still yields what was heard.
		if !errors.Is(err, audio.ErrClosed) || res.Utterance.Len() == 0 {
			return err
		}
		o.log.Info("orchestrator: frame stream ended during collection", "frames", res.Utterance.Len())
	}

	o.log.Info("orchestrator: utterance collected",
		"frames", res.Utterance.Len(),
		"duration", res.Utterance.Duration(),
		"reason", res.Reason.String(),
		"speech", res.Speech,
	)
	o.utterance = res.Utterance
	o.metrics.UtteranceDuration.Record(ctx, res.Utterance.Duration().Seconds())
	if o.cb.OnUtterance != nil {
		o.cb.OnUtterance(res.Utterance)
	}
	o.setState(Transcribing)
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context) error {
	name := o.engines.Name(engine.KindTranscriber)
	spanCtx, span := observe.StartSpan(ctx, "orchestrator.transcribe",
		trace.WithAttributes(
			attribute.String("engine", name),
			attribute.Int("frames", o.utterance.Len()),
		))
	start := time.Now()
	t, err := o.engines.Transcriber.Transcribe(spanCtx, o.utterance)
	o.metrics.RecordProviderCall(ctx, o.metrics.STTDuration, name, string(engine.KindTranscriber), time.Since(start), err)
	observe.EndSpan(span, err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SessionError{State: Transcribing, Err: err}
	}

	o.transcripts.Add(1)
	o.metrics.RecordOutcome(ctx, observe.OutcomeTranscript)
	observe.Logger(spanCtx, o.log).Info("orchestrator: transcript ready",
		"text", t.Text,
		"words", len(t.Words),
		"latency", time.Since(start),
	)
	if o.cb.OnTranscript != nil {
		o.cb.OnTranscript(t)
	}
	o.enterIdle()
	return nil
}

// next returns the next frame in processing order: replayed frames first,
// then the ring.
func (o *Orchestrator) next(ctx context.Context) (audio.Frame, error) {
	if len(o.pending) > 0 {
		f := o.pending[0]
		o.pending = o.pending[1:]
		return f, nil
	}
	return o.ring.Pop(ctx)
}

// remember keeps f in the trailing pre-roll window.
func (o *Orchestrator) remember(f audio.Frame) {
	if o.cfg.PreRoll == 0 {
		return
	}
	if len(o.trailing) == o.cfg.PreRoll {
		copy(o.trailing, o.trailing[1:])
		o.trailing = o.trailing[:len(o.trailing)-1]
	}
	o.trailing = append(o.trailing, f)
}

// enterIdle runs the reset procedure and moves to Idle. It clears session
// state only; engines stay alive.
func (o *Orchestrator) enterIdle() {
	o.engines.Intent.Reset()
	if r, ok := o.engines.WakeWord.(wakeword.Resetter); ok {
		r.Reset()
	}
	if n := o.ring.Drain(); n > 0 {
		o.log.Debug("orchestrator: drained ring", "frames", n)
	}
	o.pending = nil
	o.trailing = o.trailing[:0]
	o.consumed = o.consumed[:0]
	o.seed = nil
	o.utterance = audio.Utterance{}
	o.setState(Idle)
}

func (o *Orchestrator) setState(to State) {
	from := State(o.state.Swap(int32(to)))
	if from == to {
		return
	}
	o.log.Debug("orchestrator: state change", "from", from.String(), "to", to.String())
	o.metrics.RecordStateChange(context.Background(), from.String(), to.String())
	if o.cb.OnStateChange != nil {
		o.cb.OnStateChange(from, to)
	}
}

// popFunc adapts a function to [endpoint.Popper].
type popFunc func(ctx context.Context) (audio.Frame, error)

func (f popFunc) Pop(ctx context.Context) (audio.Frame, error) { return f(ctx) }
