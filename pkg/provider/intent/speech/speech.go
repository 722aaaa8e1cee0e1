// Package speech implements an intent.Classifier on top of a transcriber and
// a text resolver.
//
// The classifier buffers every frame it is fed and runs its own voice
// activity pass over them. Once speech has been heard and is followed by
// enough silence, or once the buffer reaches its maximum length, Process
// reports finalized. Inference then transcribes the buffered audio and hands
// the text to an [intent.Resolver].
//
// This is the pipeline's stand-in for an on-device speech-to-intent model:
// any [stt.Transcriber] paired with [rules] or [llmresolver] yields a
// classifier with the same contract.
//
// [rules]: github.com/MrWong99/echocrafter/pkg/provider/intent/rules
// [llmresolver]: github.com/MrWong99/echocrafter/pkg/provider/intent/llmresolver
package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
	"github.com/MrWong99/echocrafter/pkg/provider/vad"
)

const (
	defaultEndpoint    = 700 * time.Millisecond
	defaultMaxDuration = 6 * time.Second
	defaultLow         = 0.1
	defaultHigh        = 0.12
)

var _ intent.Classifier = (*Classifier)(nil)

// Option configures a [Classifier].
type Option func(*Classifier)

// WithEndpoint sets how much trailing silence ends the command.
// Default: 700ms.
func WithEndpoint(d time.Duration) Option {
	return func(c *Classifier) { c.endpoint = d }
}

// WithMaxDuration caps the buffered audio. Default: 6s.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Classifier) { c.maxDuration = d }
}

// WithThresholds sets the VAD probabilities below which a frame is silent
// and above which it is speech. Default: 0.1 and 0.12.
func WithThresholds(low, high float64) Option {
	return func(c *Classifier) { c.low, c.high = low, high }
}

// WithTranscriptHook registers fn to receive every transcript produced by
// Inference, before it is resolved.
func WithTranscriptHook(fn func(stt.Transcript)) Option {
	return func(c *Classifier) { c.onTranscript = fn }
}

// Classifier is a transcribe-then-resolve intent classifier. Like every
// intent.Classifier it keeps per-utterance state and is not safe for
// concurrent use.
type Classifier struct {
	vad         vad.Detector
	transcriber stt.Transcriber
	resolver    intent.Resolver
	format      audio.Format

	endpoint     time.Duration
	maxDuration  time.Duration
	low, high    float64
	onTranscript func(stt.Transcript)

	endpointFrames int
	maxFrames      int

	utt       audio.Utterance
	heard     bool
	silent    int
	finalized bool
}

// New returns a classifier for frames of the given format.
func New(detector vad.Detector, transcriber stt.Transcriber, resolver intent.Resolver, format audio.Format, opts ...Option) (*Classifier, error) {
	var errs []error
	if detector == nil {
		errs = append(errs, errors.New("vad detector must not be nil"))
	}
	if transcriber == nil {
		errs = append(errs, errors.New("transcriber must not be nil"))
	}
	if resolver == nil {
		errs = append(errs, errors.New("resolver must not be nil"))
	}
	if err := format.Validate(); err != nil {
		errs = append(errs, err)
	}
	c := &Classifier{
		vad:         detector,
		transcriber: transcriber,
		resolver:    resolver,
		format:      format,
		endpoint:    defaultEndpoint,
		maxDuration: defaultMaxDuration,
		low:         defaultLow,
		high:        defaultHigh,
	}
	for _, o := range opts {
		o(c)
	}
	if c.endpoint <= 0 || c.maxDuration <= 0 {
		errs = append(errs, fmt.Errorf("endpoint %v and max duration %v must be positive", c.endpoint, c.maxDuration))
	}
	if c.low > c.high {
		errs = append(errs, fmt.Errorf("low threshold %.2f exceeds high threshold %.2f", c.low, c.high))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	c.endpointFrames = max(1, format.FramesFor(c.endpoint))
	c.maxFrames = max(1, format.FramesFor(c.maxDuration))
	c.utt = audio.NewUtterance(format)
	return c, nil
}

// Process implements intent.Classifier.
func (c *Classifier) Process(frame audio.Frame) (bool, error) {
	if c.finalized {
		return true, nil
	}
	p, err := c.vad.Process(frame)
	if err != nil {
		return false, fmt.Errorf("speech: vad: %w", err)
	}
	p = vad.Clamp(p)
	c.utt.Append(frame)

	switch {
	case p > c.high:
		c.heard = true
		c.silent = 0
	case p < c.low && c.heard:
		c.silent++
	}

	if (c.heard && c.silent >= c.endpointFrames) || c.utt.Len() >= c.maxFrames {
		c.finalized = true
	}
	return c.finalized, nil
}

// Inference implements intent.Classifier. A buffer without any speech
// resolves to "not understood" without calling the transcriber.
func (c *Classifier) Inference(ctx context.Context) (intent.Intent, error) {
	if !c.finalized {
		return intent.Intent{}, intent.ErrNotFinalized
	}
	if !c.heard {
		return intent.NotUnderstood(), nil
	}

	tr, err := c.transcriber.Transcribe(ctx, c.utt)
	if err != nil {
		return intent.Intent{}, fmt.Errorf("speech: transcribe: %w", err)
	}
	if c.onTranscript != nil {
		c.onTranscript(tr)
	}
	if tr.Empty() {
		return intent.NotUnderstood(), nil
	}

	in, err := c.resolver.Resolve(ctx, tr.Text)
	if err != nil {
		return intent.Intent{}, fmt.Errorf("speech: resolve: %w", err)
	}
	return in, nil
}

// Reset implements intent.Classifier.
func (c *Classifier) Reset() {
	c.vad.Reset()
	c.utt = audio.NewUtterance(c.format)
	c.heard = false
	c.silent = 0
	c.finalized = false
}
