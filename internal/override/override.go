// Package override lets the environment short-circuit the wake word and
// intent stages, for scripted demos and for driving the pipeline from
// other tools without speaking.
//
//   - ECHOCRAFTER_WAKEWORD=false makes the wake detector fire on every frame,
//     so each session starts at once.
//   - ECHOCRAFTER_INTENT=<name> makes the intent classifier finalize on its
//     first frame and return <name> as understood, with the slots from
//     ECHOCRAFTER_INTENT_SLOTS=k=v,k2=v2.
//
// The variables are consulted again whenever an engine is reset, so a
// process that changes its own environment sees the change on the next
// session. Malformed slots are logged and the preset intent is ignored.
package override

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/wakeword"
)

// Environment variable names.
const (
	EnvWakeWord    = "ECHOCRAFTER_WAKEWORD"
	EnvIntent      = "ECHOCRAFTER_INTENT"
	EnvIntentSlots = "ECHOCRAFTER_INTENT_SLOTS"
)

// Settings is the parsed override state.
type Settings struct {
	// SkipWakeWord is true when the wake word stage is bypassed.
	SkipWakeWord bool

	// Intent is the preset intent, or nil when none is set.
	Intent *intent.Intent
}

// Env reads [Settings] from environment variables.
type Env struct {
	lookup func(string) (string, bool)
	log    *slog.Logger

	mu      sync.Mutex
	lastRaw [3]string
	current Settings
}

// EnvOption configures an [Env].
type EnvOption func(*Env)

// WithLookup replaces os.LookupEnv, mainly for tests.
func WithLookup(fn func(string) (string, bool)) EnvOption {
	return func(e *Env) { e.lookup = fn }
}

// WithLogger sets the logger used for malformed values.
func WithLogger(l *slog.Logger) EnvOption {
	return func(e *Env) { e.log = l }
}

// NewEnv returns an environment reader. Nothing is read until Settings.
func NewEnv(opts ...EnvOption) *Env {
	e := &Env{lookup: os.LookupEnv, log: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	e.lastRaw = [3]string{"\x00", "\x00", "\x00"}
	return e
}

// Settings returns the current overrides. Values are re-parsed only when
// the raw variables changed, so a malformed value is logged once.
func (e *Env) Settings() Settings {
	raw := [3]string{e.get(EnvWakeWord), e.get(EnvIntent), e.get(EnvIntentSlots)}

	e.mu.Lock()
	defer e.mu.Unlock()
	if raw == e.lastRaw {
		return e.current
	}
	e.lastRaw = raw

	s := Settings{SkipWakeWord: strings.EqualFold(strings.TrimSpace(raw[0]), "false")}
	if name := strings.TrimSpace(raw[1]); name != "" {
		slots, err := ParseSlots(raw[2])
		if err != nil {
			e.log.Warn("override: ignoring preset intent", "intent", name, "env", EnvIntentSlots, "err", err)
		} else {
			s.Intent = &intent.Intent{Name: name, Slots: slots, Understood: true}
		}
	}
	if s.SkipWakeWord != e.current.SkipWakeWord || (s.Intent == nil) != (e.current.Intent == nil) {
		e.log.Info("override: settings changed", "skip_wake_word", s.SkipWakeWord, "preset_intent", s.Intent != nil)
	}
	e.current = s
	return s
}

func (e *Env) get(key string) string {
	v, _ := e.lookup(key)
	return v
}

// ParseSlots parses "k=v,k2=v2". An empty string yields no slots. Entries
// without exactly one '=' or with an empty key are rejected.
func ParseSlots(s string) (map[string]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	slots := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(entry, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" || strings.Contains(v, "=") {
			return nil, fmt.Errorf("override: slot entry %q is not key=value", entry)
		}
		slots[k] = strings.TrimSpace(v)
	}
	return slots, nil
}

// ── wake word ────────────────────────────────────────────────────────────────

var (
	_ wakeword.Detector = (*WakeWord)(nil)
	_ wakeword.Resetter = (*WakeWord)(nil)
	_ io.Closer         = (*WakeWord)(nil)
)

// WakeWord wraps a detector so that it fires on every frame while the
// wake word stage is bypassed.
type WakeWord struct {
	inner wakeword.Detector
	env   *Env

	skip bool
}

// NewWakeWord wraps inner with the overrides from env.
func NewWakeWord(inner wakeword.Detector, env *Env) *WakeWord {
	return &WakeWord{inner: inner, env: env, skip: env.Settings().SkipWakeWord}
}

// Process implements [wakeword.Detector].
func (w *WakeWord) Process(frame audio.Frame) (int, bool, error) {
	if w.skip {
		return 0, true, nil
	}
	return w.inner.Process(frame)
}

// Reset re-reads the environment and resets the wrapped detector when it
// supports it.
func (w *WakeWord) Reset() {
	w.skip = w.env.Settings().SkipWakeWord
	if r, ok := w.inner.(wakeword.Resetter); ok {
		r.Reset()
	}
}

// Close closes the wrapped detector when it holds resources.
func (w *WakeWord) Close() error {
	if c, ok := w.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ── intent ───────────────────────────────────────────────────────────────────

var (
	_ intent.Classifier = (*Classifier)(nil)
	_ io.Closer         = (*Classifier)(nil)
)

// Classifier wraps an intent classifier so that a preset intent, when one
// is configured, is returned immediately.
type Classifier struct {
	inner intent.Classifier
	env   *Env

	preset *intent.Intent
}

// NewClassifier wraps inner with the overrides from env.
func NewClassifier(inner intent.Classifier, env *Env) *Classifier {
	return &Classifier{inner: inner, env: env, preset: env.Settings().Intent}
}

// Process implements [intent.Classifier].
func (c *Classifier) Process(frame audio.Frame) (bool, error) {
	if c.preset != nil {
		return true, nil
	}
	return c.inner.Process(frame)
}

// Inference implements [intent.Classifier].
func (c *Classifier) Inference(ctx context.Context) (intent.Intent, error) {
	if c.preset != nil {
		in := *c.preset
		in.Slots = maps.Clone(in.Slots)
		return in, nil
	}
	return c.inner.Inference(ctx)
}

// Reset re-reads the environment and resets the wrapped classifier.
func (c *Classifier) Reset() {
	c.preset = c.env.Settings().Intent
	c.inner.Reset()
}

// Close closes the wrapped classifier when it holds resources.
func (c *Classifier) Close() error {
	if cl, ok := c.inner.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
