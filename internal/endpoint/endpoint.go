// Package endpoint finds the end of a spoken command in a frame stream.
//
// The [Collector] pulls frames from a source (normally the audio ring),
// scores each with a voice activity detector and accumulates them into an
// utterance. It keeps a silence-run counter that starts closed (-1) and is
// only opened by a frame above the high threshold; while open, every frame
// below the low threshold extends the run and every frame above the high
// threshold resets it. Frames between the two thresholds leave it unchanged.
//
// Collection stops when the silence run reaches the endpoint length, when
// no speech at all has been heard for the maximum utterance length, or when
// the hard frame limit is reached. Every frame the collector takes from the
// source ends up in the utterance.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/vad"
)

// Defaults for [Config].
const (
	DefaultLow          = 0.1
	DefaultHigh         = 0.12
	DefaultEndpoint     = 1500 * time.Millisecond
	DefaultMaxUtterance = 5 * time.Second
	DefaultLimit        = 30 * time.Second
)

// closed is the silence-run value before any speech was heard.
const closed = -1

// Config holds the endpointing parameters. Zero fields take the defaults.
type Config struct {
	// Low is the VAD probability below which a frame counts as silence.
	Low float64

	// High is the VAD probability above which a frame counts as speech.
	High float64

	// Endpoint is how much continuous silence after speech ends the
	// utterance.
	Endpoint time.Duration

	// MaxUtterance is how long to wait for any speech before giving up.
	MaxUtterance time.Duration

	// Limit caps the total length of the collected utterance, seed
	// included, for speakers (or noise) that never fall silent.
	Limit time.Duration
}

func (c Config) withDefaults() Config {
	if c.Low == 0 && c.High == 0 {
		c.Low, c.High = DefaultLow, DefaultHigh
	}
	if c.Endpoint <= 0 {
		c.Endpoint = DefaultEndpoint
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	return c
}

// Reason tells why a collection stopped.
type Reason int

const (
	// ReasonEndpoint means speech was followed by enough silence.
	ReasonEndpoint Reason = iota + 1

	// ReasonNoSpeech means no speech was heard within MaxUtterance.
	ReasonNoSpeech

	// ReasonLimit means the utterance reached Config.Limit.
	ReasonLimit
)

// String implements fmt.Stringer.
func (r Reason) String() string {
	switch r {
	case ReasonEndpoint:
		return "endpoint"
	case ReasonNoSpeech:
		return "no_speech"
	case ReasonLimit:
		return "limit"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Result is the outcome of one collection.
type Result struct {
	// Utterance holds the seed frames followed by every frame pulled from
	// the source, in order.
	Utterance audio.Utterance

	// Reason tells why collection stopped.
	Reason Reason

	// Speech reports whether any frame rose above the high threshold.
	Speech bool
}

// Popper is the frame source a collector reads from. *audio.Ring satisfies
// it.
type Popper interface {
	Pop(ctx context.Context) (audio.Frame, error)
}

// Collector runs the endpointing algorithm. It is not safe for concurrent
// use; it shares its VAD with nothing else.
type Collector struct {
	vad    vad.Detector
	format audio.Format
	cfg    Config
	log    *slog.Logger

	endpointFrames int
	maxFrames      int
	limitFrames    int
}

// Option configures a [Collector].
type Option func(*Collector)

// WithLogger sets the logger used for VAD failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.log = l }
}

// New returns a collector scoring frames of format with detector.
func New(detector vad.Detector, format audio.Format, cfg Config, opts ...Option) (*Collector, error) {
	cfg = cfg.withDefaults()
	var errs []error
	if detector == nil {
		errs = append(errs, errors.New("vad detector must not be nil"))
	}
	if err := format.Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Low < 0 || cfg.High > 1 || cfg.Low > cfg.High {
		errs = append(errs, fmt.Errorf("thresholds must satisfy 0 <= low (%.2f) <= high (%.2f) <= 1", cfg.Low, cfg.High))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}
	c := &Collector{
		vad:            detector,
		format:         format,
		cfg:            cfg,
		log:            slog.Default(),
		endpointFrames: max(1, format.FramesFor(cfg.Endpoint)),
		maxFrames:      max(1, floorFrames(format, cfg.MaxUtterance)),
		limitFrames:    max(1, format.FramesFor(cfg.Limit)),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// EndpointFrames returns the silence-run length that ends an utterance.
func (c *Collector) EndpointFrames() int { return c.endpointFrames }

// MaxFrames returns how many live frames are awaited for speech to start.
func (c *Collector) MaxFrames() int { return c.maxFrames }

// Collect accumulates an utterance starting with seed and continuing with
// frames from src. Seed frames are scored like live frames, so speech
// already heard by an earlier stage opens the silence run; when the run
// reaches the endpoint inside the seed, no live frame is pulled. The
// no-speech wait counts live frames only.
//
// On error (ctx cancelled, source closed) the partial result is returned
// alongside it.
func (c *Collector) Collect(ctx context.Context, src Popper, seed []audio.Frame) (Result, error) {
	c.vad.Reset()

	res := Result{Utterance: audio.NewUtterance(c.format)}
	silent := closed

	score := func(f audio.Frame) {
		res.Utterance.Append(f)
		p, err := c.vad.Process(f)
		if err != nil {
			c.log.Warn("endpoint: vad process failed", "seq", f.Seq, "err", err)
			return
		}
		p = vad.Clamp(p)
		switch {
		case silent >= 0 && p < c.cfg.Low:
			silent++
		case p > c.cfg.High:
			silent = 0
			res.Speech = true
		}
	}

	for i, f := range seed {
		score(f)
		if silent == c.endpointFrames {
			// The rest of the seed was already taken from the source and
			// stays in the utterance unscored.
			for _, rest := range seed[i+1:] {
				res.Utterance.Append(rest)
			}
			res.Reason = ReasonEndpoint
			return res, nil
		}
	}

	live := 0
	for {
		if res.Utterance.Len() >= c.limitFrames {
			res.Reason = ReasonLimit
			return res, nil
		}
		f, err := src.Pop(ctx)
		if err != nil {
			return res, err
		}
		live++
		score(f)

		switch {
		case silent == c.endpointFrames:
			res.Reason = ReasonEndpoint
			return res, nil
		case silent < 0 && live >= c.maxFrames:
			res.Reason = ReasonNoSpeech
			return res, nil
		}
	}
}

// floorFrames returns the number of whole frames that fit in d.
func floorFrames(f audio.Format, d time.Duration) int {
	n := f.FramesFor(d)
	if n > 0 && time.Duration(n)*f.FrameDuration() > d {
		n--
	}
	return n
}
