package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/echocrafter/internal/engine"
	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/llm"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
	"github.com/MrWong99/echocrafter/pkg/provider/vad"
	"github.com/MrWong99/echocrafter/pkg/provider/wakeword"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Deps carries what a factory may need beyond its own [ProviderEntry].
type Deps struct {
	// Format is the capture format every engine must accept.
	Format audio.Format

	// Engines holds the engines built so far. Speech-based wake word and
	// intent engines reuse its VAD and Transcriber.
	Engines *engine.Set

	// Grammar is the loaded intent grammar, nil when none is configured.
	Grammar *intent.Grammar

	// Resolver is the configured text resolver, nil when none is set.
	Resolver intent.Resolver

	// LLM is the configured language model, nil when none is set.
	LLM llm.Provider

	// Transcripts receives transcripts produced while classifying, if set.
	Transcripts func(stt.Transcript)

	Logger *slog.Logger
}

// Factory constructs a provider of type T.
type Factory[T any] func(ProviderEntry, Deps) (T, error)

// Registry maps provider names to their constructor functions for each
// engine slot. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	vad         map[string]Factory[vad.Detector]
	transcriber map[string]Factory[stt.Transcriber]
	wakeword    map[string]Factory[wakeword.Detector]
	intent      map[string]Factory[intent.Classifier]
	resolver    map[string]Factory[intent.Resolver]
	llm         map[string]Factory[llm.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:         make(map[string]Factory[vad.Detector]),
		transcriber: make(map[string]Factory[stt.Transcriber]),
		wakeword:    make(map[string]Factory[wakeword.Detector]),
		intent:      make(map[string]Factory[intent.Classifier]),
		resolver:    make(map[string]Factory[intent.Resolver]),
		llm:         make(map[string]Factory[llm.Provider]),
	}
}

// RegisterVAD registers a voice activity detector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, f Factory[vad.Detector]) {
	register(&r.mu, r.vad, name, f)
}

// RegisterTranscriber registers a transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, f Factory[stt.Transcriber]) {
	register(&r.mu, r.transcriber, name, f)
}

// RegisterWakeWord registers a wake word detector factory under name.
func (r *Registry) RegisterWakeWord(name string, f Factory[wakeword.Detector]) {
	register(&r.mu, r.wakeword, name, f)
}

// RegisterIntent registers an intent classifier factory under name.
func (r *Registry) RegisterIntent(name string, f Factory[intent.Classifier]) {
	register(&r.mu, r.intent, name, f)
}

// RegisterResolver registers a text resolver factory under name.
func (r *Registry) RegisterResolver(name string, f Factory[intent.Resolver]) {
	register(&r.mu, r.resolver, name, f)
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	register(&r.mu, r.llm, name, f)
}

// CreateVAD instantiates the detector named by entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry, deps Deps) (vad.Detector, error) {
	return create(&r.mu, r.vad, "vad", entry, deps)
}

// CreateTranscriber instantiates the transcriber named by entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry, deps Deps) (stt.Transcriber, error) {
	return create(&r.mu, r.transcriber, "transcriber", entry, deps)
}

// CreateWakeWord instantiates the wake word detector named by entry.Name.
func (r *Registry) CreateWakeWord(entry ProviderEntry, deps Deps) (wakeword.Detector, error) {
	return create(&r.mu, r.wakeword, "wakeword", entry, deps)
}

// CreateIntent instantiates the intent classifier named by entry.Name.
func (r *Registry) CreateIntent(entry ProviderEntry, deps Deps) (intent.Classifier, error) {
	return create(&r.mu, r.intent, "intent", entry, deps)
}

// CreateResolver instantiates the resolver named by entry.Name.
func (r *Registry) CreateResolver(entry ProviderEntry, deps Deps) (intent.Resolver, error) {
	return create(&r.mu, r.resolver, "resolver", entry, deps)
}

// CreateLLM instantiates the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry, deps Deps) (llm.Provider, error) {
	return create(&r.mu, r.llm, "llm", entry, deps)
}

func register[T any](mu *sync.RWMutex, m map[string]Factory[T], name string, f Factory[T]) {
	mu.Lock()
	defer mu.Unlock()
	m[name] = f
}

func create[T any](mu *sync.RWMutex, m map[string]Factory[T], kind string, entry ProviderEntry, deps Deps) (T, error) {
	mu.RLock()
	f, ok := m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return f(entry, deps)
}
