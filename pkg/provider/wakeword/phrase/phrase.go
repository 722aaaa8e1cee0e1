// Package phrase implements a wakeword.Detector that transcribes short bursts
// of speech and matches the text against a list of keyword phrases.
//
// Frames are gated by a voice activity detector. A burst of speech between
// the configured minimum and maximum length, followed by a short run of
// silence, is sent to an [stt.Transcriber]; longer bursts are discarded as
// ordinary conversation. The transcript is compared with every phrase
// through the phonetic matcher so that recogniser variants ("hey nemo" for
// "hey nebo") still trigger.
//
// Transcription happens inside Process and therefore blocks the caller for
// the duration of one short batch call, bounded by [WithTimeout].
package phrase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/phonetic"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
	"github.com/MrWong99/echocrafter/pkg/provider/vad"
	"github.com/MrWong99/echocrafter/pkg/provider/wakeword"
)

const (
	defaultMinSpeech = 300 * time.Millisecond
	defaultMaxSpeech = 2 * time.Second
	defaultSilence   = 300 * time.Millisecond
	defaultTimeout   = 3 * time.Second
	defaultThreshold = 0.5
)

var (
	_ wakeword.Detector = (*Detector)(nil)
	_ wakeword.Resetter = (*Detector)(nil)
)

// Option configures a [Detector].
type Option func(*Detector)

// WithSpeechBounds sets the shortest and longest burst of speech that is
// considered a wake phrase candidate. Default: 300ms to 2s.
func WithSpeechBounds(minimum, maximum time.Duration) Option {
	return func(d *Detector) { d.minSpeech, d.maxSpeech = minimum, maximum }
}

// WithTrailingSilence sets how much silence closes a burst. Default: 300ms.
func WithTrailingSilence(dur time.Duration) Option {
	return func(d *Detector) { d.silence = dur }
}

// WithThreshold sets the VAD probability at or above which a frame counts as
// speech. Higher values make the detector less sensitive. Default: 0.5.
func WithThreshold(p float64) Option {
	return func(d *Detector) { d.threshold = p }
}

// WithTimeout bounds each transcription call. Default: 3s.
func WithTimeout(dur time.Duration) Option {
	return func(d *Detector) { d.timeout = dur }
}

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(d *Detector) { d.matcher = m }
}

// WithLogger sets the logger for candidate transcripts.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// Detector is a transcript-backed wake phrase detector.
type Detector struct {
	vad         vad.Detector
	transcriber stt.Transcriber
	phrases     []string
	format      audio.Format

	minSpeech, maxSpeech time.Duration
	silence              time.Duration
	threshold            float64
	timeout              time.Duration
	matcher              *phonetic.Matcher
	log                  *slog.Logger

	minFrames, maxFrames, silenceFrames int

	buf      audio.Utterance
	inSpeech bool
	overlong bool
	quiet    int
}

// New returns a detector for phrases. The keyword index reported by Process
// is the position of the matching phrase in phrases.
func New(detector vad.Detector, transcriber stt.Transcriber, phrases []string, format audio.Format, opts ...Option) (*Detector, error) {
	var errs []error
	if detector == nil {
		errs = append(errs, errors.New("vad detector must not be nil"))
	}
	if transcriber == nil {
		errs = append(errs, errors.New("transcriber must not be nil"))
	}
	if len(phrases) == 0 {
		errs = append(errs, errors.New("at least one phrase is required"))
	}
	for i, p := range phrases {
		if phonetic.Normalize(p) == "" {
			errs = append(errs, fmt.Errorf("phrase %d is blank", i))
		}
	}
	if err := format.Validate(); err != nil {
		errs = append(errs, err)
	}
	d := &Detector{
		vad:         detector,
		transcriber: transcriber,
		phrases:     append([]string(nil), phrases...),
		format:      format,
		minSpeech:   defaultMinSpeech,
		maxSpeech:   defaultMaxSpeech,
		silence:     defaultSilence,
		threshold:   defaultThreshold,
		timeout:     defaultTimeout,
		matcher:     phonetic.New(),
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.minSpeech <= 0 || d.maxSpeech < d.minSpeech {
		errs = append(errs, fmt.Errorf("invalid speech bounds %v..%v", d.minSpeech, d.maxSpeech))
	}
	if d.silence <= 0 {
		errs = append(errs, fmt.Errorf("trailing silence %v must be positive", d.silence))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("phrase: %w", err)
	}
	d.minFrames = format.FramesFor(d.minSpeech)
	d.maxFrames = format.FramesFor(d.maxSpeech)
	d.silenceFrames = format.FramesFor(d.silence)
	d.buf = audio.NewUtterance(format)
	return d, nil
}

// Process implements wakeword.Detector.
func (d *Detector) Process(frame audio.Frame) (int, bool, error) {
	p, err := d.vad.Process(frame)
	if err != nil {
		return 0, false, fmt.Errorf("phrase: vad: %w", err)
	}

	if p >= d.threshold {
		if !d.inSpeech {
			d.inSpeech = true
			d.buf = audio.NewUtterance(d.format)
		}
		d.quiet = 0
		if d.overlong {
			return 0, false, nil
		}
		d.buf.Append(frame)
		if d.buf.Len() > d.maxFrames {
			// Too long for a wake phrase: ignore the rest of this burst.
			d.overlong = true
			d.buf = audio.NewUtterance(d.format)
		}
		return 0, false, nil
	}
	if !d.inSpeech {
		return 0, false, nil
	}

	if !d.overlong {
		d.buf.Append(frame)
	}
	d.quiet++
	if d.quiet < d.silenceFrames {
		return 0, false, nil
	}

	burst, overlong := d.buf, d.overlong
	voiced := burst.Len() - d.quiet
	d.Reset()
	if overlong || voiced < d.minFrames {
		return 0, false, nil
	}
	return d.check(burst)
}

// check transcribes burst and matches it against the phrases.
func (d *Detector) check(burst audio.Utterance) (int, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	tr, err := d.transcriber.Transcribe(ctx, burst)
	if err != nil {
		return 0, false, fmt.Errorf("phrase: transcribe: %w", err)
	}
	if tr.Empty() {
		return 0, false, nil
	}

	best, bestScore := -1, 0.0
	for i, ph := range d.phrases {
		if score, ok := d.matcher.Contains(tr.Text, ph); ok && score > bestScore {
			best, bestScore = i, score
		}
	}
	d.log.Debug("phrase: candidate", "text", tr.Text, "keyword", best, "score", bestScore)
	if best < 0 {
		return 0, false, nil
	}
	return best, true, nil
}

// Reset implements wakeword.Resetter.
func (d *Detector) Reset() {
	d.vad.Reset()
	d.buf = audio.NewUtterance(d.format)
	d.inSpeech = false
	d.overlong = false
	d.quiet = 0
}
