package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/audio/wavfile"
)

const recordPrefix = "utterance-"

// Recorder stores fallback utterances as WAV files for debugging, keeping
// only the most recent ones.
type Recorder struct {
	dir  string
	keep int
	log  *slog.Logger
	now  func() time.Time

	mu sync.Mutex
	n  uint64
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithClock replaces time.Now for file naming.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates dir if needed. keep <= 0 keeps every file.
func NewRecorder(dir string, keep int, log *slog.Logger, opts ...RecorderOption) (*Recorder, error) {
	if dir == "" {
		return nil, errors.New("dispatch: record dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dispatch: create record dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{dir: dir, keep: keep, log: log, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Record writes u and prunes old recordings. It returns the file path.
func (r *Recorder) Record(u audio.Utterance) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.n++
	name := fmt.Sprintf("%s%s-%04d.wav", recordPrefix, r.now().UTC().Format("20060102T150405.000"), r.n%10000)
	path := filepath.Join(r.dir, name)
	if err := wavfile.WriteUtterance(path, u); err != nil {
		return "", fmt.Errorf("dispatch: record utterance: %w", err)
	}
	r.log.Debug("dispatch: recorded utterance", "path", path, "duration", u.Duration())

	if err := r.prune(); err != nil {
		r.log.Warn("dispatch: prune recordings", "dir", r.dir, "err", err)
	}
	return path, nil
}

// prune removes the oldest recordings beyond keep. Names sort by time.
func (r *Recorder) prune() error {
	if r.keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), recordPrefix) && strings.HasSuffix(e.Name(), ".wav") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= r.keep {
		return nil
	}
	slices.Sort(names)
	var errs []error
	for _, name := range names[:len(names)-r.keep] {
		if err := os.Remove(filepath.Join(r.dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
