// Package config provides the configuration schema, loader, and provider
// registry for echocrafter.
package config

import (
	"fmt"
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a slog level. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// AudioSource selects where frames come from.
type AudioSource string

const (
	// SourcePortAudio reads the default input device.
	SourcePortAudio AudioSource = "portaudio"

	// SourceWAV replays a mono 16-bit WAV file.
	SourceWAV AudioSource = "wav"
)

// IsValid reports whether s is a recognised audio source.
func (s AudioSource) IsValid() bool {
	return s == SourcePortAudio || s == SourceWAV
}

// JournalDriver selects the outcome journal backend.
type JournalDriver string

const (
	JournalSQLite   JournalDriver = "sqlite"
	JournalPostgres JournalDriver = "postgres"
)

// IsValid reports whether d is a recognised journal driver.
func (d JournalDriver) IsValid() bool {
	return d == JournalSQLite || d == JournalPostgres
}

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Engines      EnginesConfig      `yaml:"engines"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Journal      JournalConfig      `yaml:"journal"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel is hot-reloadable. Default "info".
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat is "text" (default) or "json".
	LogFormat LogFormat `yaml:"log_format"`

	// AdminAddr is the listen address of the health and metrics server.
	// Empty disables it.
	AdminAddr string `yaml:"admin_addr"`
}

// AudioConfig selects and shapes the frame source.
type AudioConfig struct {
	Source AudioSource `yaml:"source"`

	// WAVPath is required when Source is "wav".
	WAVPath string `yaml:"wav_path"`

	// WAVRealtime paces WAV frames at the capture rate. Default true.
	WAVRealtime *bool `yaml:"wav_realtime"`

	// WAVLoop restarts the file at its end instead of ending the stream.
	WAVLoop bool `yaml:"wav_loop"`

	SampleRate  int `yaml:"sample_rate"`
	FrameLength int `yaml:"frame_length"`
}

// Realtime reports whether WAV playback is paced.
func (a AudioConfig) Realtime() bool {
	return a.WAVRealtime == nil || *a.WAVRealtime
}

// OrchestratorConfig holds the session timing parameters.
type OrchestratorConfig struct {
	// RingSeconds sizes the frame ring as seconds of audio.
	RingSeconds float64 `yaml:"ring_seconds"`

	// PreRollFrames is how many frames before the wake word fired are
	// replayed into the classifier. Negative disables replay.
	PreRollFrames int `yaml:"pre_roll_frames"`

	IntentTimeoutSeconds float64 `yaml:"intent_timeout_seconds"`
	EndpointSeconds      float64 `yaml:"endpoint_seconds"`
	MaxUtteranceSeconds  float64 `yaml:"max_utterance_seconds"`

	// LimitSeconds caps the collected utterance. Zero means no cap.
	LimitSeconds float64 `yaml:"limit_seconds"`

	VADLow  float64 `yaml:"vad_low"`
	VADHigh float64 `yaml:"vad_high"`
}

// IntentTimeout returns IntentTimeoutSeconds as a duration.
func (o OrchestratorConfig) IntentTimeout() time.Duration { return seconds(o.IntentTimeoutSeconds) }

// Endpoint returns EndpointSeconds as a duration.
func (o OrchestratorConfig) Endpoint() time.Duration { return seconds(o.EndpointSeconds) }

// MaxUtterance returns MaxUtteranceSeconds as a duration.
func (o OrchestratorConfig) MaxUtterance() time.Duration { return seconds(o.MaxUtteranceSeconds) }

// Limit returns LimitSeconds as a duration.
func (o OrchestratorConfig) Limit() time.Duration { return seconds(o.LimitSeconds) }

// Ring returns RingSeconds as a duration.
func (o OrchestratorConfig) Ring() time.Duration { return seconds(o.RingSeconds) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// EnginesConfig names a provider per engine slot.
type EnginesConfig struct {
	WakeWord    ProviderEntry `yaml:"wakeword"`
	VAD         ProviderEntry `yaml:"vad"`
	Intent      ProviderEntry `yaml:"intent"`
	Transcriber ProviderEntry `yaml:"transcriber"`

	// Resolver maps transcribed text to an intent for speech-based
	// classifiers. Optional.
	Resolver ProviderEntry `yaml:"resolver"`

	// LLM backs the "llm" resolver. Optional.
	LLM ProviderEntry `yaml:"llm"`

	// TranscriberFallbacks are tried in order when the transcriber fails.
	TranscriberFallbacks []ProviderEntry `yaml:"transcriber_fallbacks"`

	// LLMFallbacks are tried in order when the LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// Grammar is the path of the intent grammar YAML file.
	Grammar string `yaml:"grammar"`
}

// ProviderEntry is the common configuration shape for a single provider.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "energy",
	// "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider, or a model file path for
	// local engines.
	Model string `yaml:"model"`

	// Options holds provider-specific values. Values may be strings,
	// numbers, booleans or lists.
	Options map[string]any `yaml:"options"`
}

// OptString returns the string option key, or def when absent.
func (p ProviderEntry) OptString(key, def string) string {
	if v, ok := p.Options[key].(string); ok {
		return v
	}
	return def
}

// OptFloat returns the numeric option key, or def when absent. YAML
// integers are accepted.
func (p ProviderEntry) OptFloat(key string, def float64) float64 {
	switch v := p.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// OptBool returns the boolean option key, or def when absent.
func (p ProviderEntry) OptBool(key string, def bool) bool {
	if v, ok := p.Options[key].(bool); ok {
		return v
	}
	return def
}

// OptDuration returns the option key as a duration. Strings are parsed with
// time.ParseDuration; numbers are seconds.
func (p ProviderEntry) OptDuration(key string, def time.Duration) (time.Duration, error) {
	switch v := p.Options[key].(type) {
	case nil:
		return def, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return seconds(v), nil
	default:
		return 0, fmt.Errorf("option %q: unsupported type %T", key, v)
	}
}

// OptStrings returns the list option key. A single string yields a
// one-element list.
func (p ProviderEntry) OptStrings(key string) []string {
	switch v := p.Options[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// DispatchConfig configures where outcomes are delivered. The log
// dispatcher is always on.
type DispatchConfig struct {
	// SocketPath is a unix socket that receives one JSON line per event.
	SocketPath string `yaml:"socket_path"`

	// SocketTimeoutSeconds bounds a single socket delivery. Default 2.
	SocketTimeoutSeconds float64 `yaml:"socket_timeout_seconds"`

	NATS NATSConfig `yaml:"nats"`
	Cues CuesConfig `yaml:"cues"`

	// RecordDir, when set, keeps the last RecordKeep collected utterances
	// as WAV files.
	RecordDir  string `yaml:"record_dir"`
	RecordKeep int    `yaml:"record_keep"`

	// QueueSize bounds the asynchronous delivery queue. Default 64.
	QueueSize int `yaml:"queue_size"`
}

// NATSConfig enables publishing events to NATS when URL is set.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
	Token  string `yaml:"token"`
}

// CuesConfig plays sound files on session events. Hot-reloadable.
type CuesConfig struct {
	Player     string `yaml:"player"`
	Wake       string `yaml:"wake"`
	Success    string `yaml:"success"`
	Transcript string `yaml:"transcript"`
}

// Enabled reports whether any cue is configured.
func (c CuesConfig) Enabled() bool {
	return c.Wake != "" || c.Success != "" || c.Transcript != ""
}

// JournalConfig enables the outcome journal when Driver is set.
type JournalConfig struct {
	Driver JournalDriver `yaml:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Default "echocrafter".
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the share of sessions whose spans are kept, in
	// (0, 1]. Unset means every session.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}
