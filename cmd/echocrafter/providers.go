package main

import (
	"errors"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/echocrafter/internal/config"
	"github.com/MrWong99/echocrafter/pkg/phonetic"
	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/intent/llmresolver"
	"github.com/MrWong99/echocrafter/pkg/provider/intent/rules"
	"github.com/MrWong99/echocrafter/pkg/provider/intent/speech"
	"github.com/MrWong99/echocrafter/pkg/provider/llm"
	"github.com/MrWong99/echocrafter/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/echocrafter/pkg/provider/llm/openai"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
	"github.com/MrWong99/echocrafter/pkg/provider/stt/deepgram"
	"github.com/MrWong99/echocrafter/pkg/provider/stt/whisper"
	"github.com/MrWong99/echocrafter/pkg/provider/vad"
	"github.com/MrWong99/echocrafter/pkg/provider/vad/energy"
	"github.com/MrWong99/echocrafter/pkg/provider/wakeword"
	"github.com/MrWong99/echocrafter/pkg/provider/wakeword/phrase"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives its config.ProviderEntry plus the shared
// dependencies and constructs the provider from the implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry, deps config.Deps) (vad.Detector, error) {
		var opts []energy.Option
		if v := entry.OptFloat("speech_level", 0); v > 0 {
			opts = append(opts, energy.WithSpeechLevel(v))
		}
		if v := entry.OptFloat("steepness", 0); v > 0 {
			opts = append(opts, energy.WithSteepness(v))
		}
		if v := entry.OptFloat("smoothing", 0); v > 0 {
			opts = append(opts, energy.WithSmoothing(v))
		}
		return energy.New(deps.Format, opts...)
	})

	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry, _ config.Deps) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry, _ config.Deps) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if entry.OptBool("word_timestamps", false) {
			opts = append(opts, whisper.WithNativeWordTimestamps(true))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTranscriber("deepgram", func(entry config.ProviderEntry, deps config.Deps) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		timeout, err := entry.OptDuration("timeout", 0)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, deepgram.WithTimeout(timeout))
		}
		if kw := keywords(entry, deps.Grammar); len(kw) > 0 {
			opts = append(opts, deepgram.WithKeywords(kw))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Wake word ─────────────────────────────────────────────────────────────

	reg.RegisterWakeWord("phrase", func(entry config.ProviderEntry, deps config.Deps) (wakeword.Detector, error) {
		if deps.Engines == nil {
			return nil, errors.New("phrase: needs the vad and transcriber engines")
		}
		phrases := entry.OptStrings("phrases")
		if len(phrases) == 0 {
			return nil, errors.New("phrase: options.phrases must list at least one wake phrase")
		}
		opts := []phrase.Option{phrase.WithLogger(deps.Logger)}
		if v := entry.OptFloat("threshold", 0); v > 0 {
			opts = append(opts, phrase.WithThreshold(v))
		}
		minSpeech, err := entry.OptDuration("min_speech", 300*time.Millisecond)
		if err != nil {
			return nil, err
		}
		maxSpeech, err := entry.OptDuration("max_speech", 2*time.Second)
		if err != nil {
			return nil, err
		}
		opts = append(opts, phrase.WithSpeechBounds(minSpeech, maxSpeech))
		if silence, err := entry.OptDuration("trailing_silence", 0); err != nil {
			return nil, err
		} else if silence > 0 {
			opts = append(opts, phrase.WithTrailingSilence(silence))
		}
		if timeout, err := entry.OptDuration("timeout", 0); err != nil {
			return nil, err
		} else if timeout > 0 {
			opts = append(opts, phrase.WithTimeout(timeout))
		}
		if m := matcher(entry); m != nil {
			opts = append(opts, phrase.WithMatcher(m))
		}
		return phrase.New(deps.Engines.VAD, deps.Engines.Transcriber, phrases, deps.Format, opts...)
	})

	// ── Intent ────────────────────────────────────────────────────────────────

	reg.RegisterIntent("speech", func(entry config.ProviderEntry, deps config.Deps) (intent.Classifier, error) {
		if deps.Engines == nil {
			return nil, errors.New("speech: needs the vad and transcriber engines")
		}
		opts := []speech.Option{speech.WithTranscriptHook(deps.Transcripts)}
		if d, err := entry.OptDuration("endpoint", 0); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, speech.WithEndpoint(d))
		}
		if d, err := entry.OptDuration("max_duration", 0); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, speech.WithMaxDuration(d))
		}
		low, high := entry.OptFloat("vad_low", 0), entry.OptFloat("vad_high", 0)
		if low > 0 && high > 0 {
			opts = append(opts, speech.WithThresholds(low, high))
		}
		return speech.New(deps.Engines.VAD, deps.Engines.Transcriber, deps.Resolver, deps.Format, opts...)
	})

	// ── Resolvers ─────────────────────────────────────────────────────────────

	reg.RegisterResolver("rules", func(entry config.ProviderEntry, deps config.Deps) (intent.Resolver, error) {
		var opts []rules.Option
		if v := entry.OptFloat("min_score", 0); v > 0 {
			opts = append(opts, rules.WithMinScore(v))
		}
		if m := matcher(entry); m != nil {
			opts = append(opts, rules.WithMatcher(m))
		}
		return rules.New(deps.Grammar, opts...)
	})

	reg.RegisterResolver("llm", func(entry config.ProviderEntry, deps config.Deps) (intent.Resolver, error) {
		opts := []llmresolver.Option{
			llmresolver.WithLogger(deps.Logger),
			llmresolver.WithTemperature(entry.OptFloat("temperature", 0)),
		}
		if m := matcher(entry); m != nil {
			opts = append(opts, llmresolver.WithMatcher(m))
		}
		return llmresolver.New(deps.LLM, deps.Grammar, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry, _ config.Deps) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization", ""); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		timeout, err := entry.OptDuration("timeout", 0)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, oallm.WithTimeout(timeout))
		}
		if n := entry.OptFloat("max_retries", -1); n >= 0 {
			opts = append(opts, oallm.WithMaxRetries(int(n)))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other backend goes through any-llm-go. Local servers (ollama,
	// llamacpp, llamafile) only need BaseURL.
	for _, backend := range anyllm.Names() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry, _ config.Deps) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// matcher builds a phonetic matcher from the phonetic_threshold and
// fuzzy_threshold options, or returns nil when neither is set.
func matcher(entry config.ProviderEntry) *phonetic.Matcher {
	var opts []phonetic.Option
	if v := entry.OptFloat("phonetic_threshold", 0); v > 0 {
		opts = append(opts, phonetic.WithPhoneticThreshold(v))
	}
	if v := entry.OptFloat("fuzzy_threshold", 0); v > 0 {
		opts = append(opts, phonetic.WithFuzzyThreshold(v))
	}
	if len(opts) == 0 {
		return nil
	}
	return phonetic.New(opts...)
}

// keywords collects the boosted vocabulary: the keywords option plus, when
// boost_slots is set, every slot value of the grammar.
func keywords(entry config.ProviderEntry, g *intent.Grammar) []stt.KeywordBoost {
	boost := entry.OptFloat("keyword_boost", 2)
	var out []stt.KeywordBoost
	for _, k := range entry.OptStrings("keywords") {
		out = append(out, stt.KeywordBoost{Keyword: k, Boost: boost})
	}
	if g != nil && entry.OptBool("boost_slots", false) {
		for _, typ := range g.SlotTypes() {
			for _, v := range g.SlotValues(typ) {
				out = append(out, stt.KeywordBoost{Keyword: v, Boost: boost})
			}
		}
	}
	return out
}
