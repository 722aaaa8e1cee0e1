// Package energy implements a vad.Detector that derives speech probability
// from frame loudness.
//
// The RMS level of each frame is mapped onto [0, 1] with a logistic curve
// centred on a configurable speech level, then smoothed with an exponential
// moving average so single clicks do not register as speech. It needs no
// model file and is the default detector.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/vad"
)

const (
	// DefaultSpeechLevel is the RMS amplitude that maps to probability 0.5.
	DefaultSpeechLevel = 500.0

	// DefaultSteepness controls how quickly probability rises around the
	// speech level, in units of 1/RMS.
	DefaultSteepness = 0.02

	// DefaultSmoothing is the weight given to the newest frame by the moving
	// average. 1 disables smoothing.
	DefaultSmoothing = 0.6
)

// Compile-time interface assertion.
var _ vad.Detector = (*Detector)(nil)

// Option configures a [Detector].
type Option func(*Detector)

// WithSpeechLevel sets the RMS amplitude that maps to probability 0.5.
func WithSpeechLevel(level float64) Option {
	return func(d *Detector) { d.level = level }
}

// WithSteepness sets the slope of the logistic curve.
func WithSteepness(k float64) Option {
	return func(d *Detector) { d.steepness = k }
}

// WithSmoothing sets the moving-average weight of the newest frame in (0, 1].
func WithSmoothing(alpha float64) Option {
	return func(d *Detector) { d.alpha = alpha }
}

// Detector is an energy-gate VAD.
type Detector struct {
	frameLength int
	level       float64
	steepness   float64
	alpha       float64

	smoothed float64
	primed   bool
}

// New returns an energy detector for frames of the given format.
func New(format audio.Format, opts ...Option) (*Detector, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	d := &Detector{
		frameLength: format.FrameLength,
		level:       DefaultSpeechLevel,
		steepness:   DefaultSteepness,
		alpha:       DefaultSmoothing,
	}
	for _, o := range opts {
		o(d)
	}
	var errs []error
	if d.level <= 0 {
		errs = append(errs, fmt.Errorf("speech level %v must be positive", d.level))
	}
	if d.steepness <= 0 {
		errs = append(errs, fmt.Errorf("steepness %v must be positive", d.steepness))
	}
	if d.alpha <= 0 || d.alpha > 1 {
		errs = append(errs, fmt.Errorf("smoothing %v must be in (0, 1]", d.alpha))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	return d, nil
}

// Process implements [vad.Detector].
func (d *Detector) Process(frame audio.Frame) (float64, error) {
	if frame.Len() != d.frameLength {
		return 0, fmt.Errorf("energy: frame has %d samples, want %d", frame.Len(), d.frameLength)
	}
	rms := audio.RMS(frame.Samples)
	p := 1 / (1 + math.Exp(-d.steepness*(rms-d.level)))
	if !d.primed {
		d.smoothed = p
		d.primed = true
	} else {
		d.smoothed = d.alpha*p + (1-d.alpha)*d.smoothed
	}
	return vad.Clamp(d.smoothed), nil
}

// Reset implements [vad.Detector].
func (d *Detector) Reset() {
	d.smoothed = 0
	d.primed = false
}
