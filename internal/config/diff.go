package config

import "fmt"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CuesChanged is true when the cue player or any cue file changed.
	CuesChanged bool
	NewCues     CuesConfig

	// RecordChanged is true when the debug recorder directory or retention
	// changed.
	RecordChanged bool
	NewRecordDir  string
	NewRecordKeep int

	// RestartRequired lists the top-level sections that changed in ways
	// that cannot be applied live.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CuesChanged && !d.RecordChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Dispatch.Cues != new.Dispatch.Cues {
		d.CuesChanged = true
		d.NewCues = new.Dispatch.Cues
	}

	if old.Dispatch.RecordDir != new.Dispatch.RecordDir || old.Dispatch.RecordKeep != new.Dispatch.RecordKeep {
		d.RecordChanged = true
		d.NewRecordDir = new.Dispatch.RecordDir
		d.NewRecordKeep = new.Dispatch.RecordKeep
	}

	if old.Server.LogFormat != new.Server.LogFormat || old.Server.AdminAddr != new.Server.AdminAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !equalAudio(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Orchestrator != new.Orchestrator {
		d.RestartRequired = append(d.RestartRequired, "orchestrator")
	}
	if !equalEngines(old.Engines, new.Engines) {
		d.RestartRequired = append(d.RestartRequired, "engines")
	}
	if old.Dispatch.SocketPath != new.Dispatch.SocketPath ||
		old.Dispatch.SocketTimeoutSeconds != new.Dispatch.SocketTimeoutSeconds ||
		old.Dispatch.NATS != new.Dispatch.NATS ||
		old.Dispatch.QueueSize != new.Dispatch.QueueSize {
		d.RestartRequired = append(d.RestartRequired, "dispatch")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func equalAudio(a, b AudioConfig) bool {
	return a.Source == b.Source &&
		a.WAVPath == b.WAVPath &&
		a.Realtime() == b.Realtime() &&
		a.WAVLoop == b.WAVLoop &&
		a.SampleRate == b.SampleRate &&
		a.FrameLength == b.FrameLength
}

func equalEngines(a, b EnginesConfig) bool {
	if a.Grammar != b.Grammar {
		return false
	}
	ea, eb := a.entries(), b.entries()
	if len(ea) != len(eb) {
		return false
	}
	for i := range ea {
		if !equalEntry(*ea[i], *eb[i]) {
			return false
		}
	}
	return len(a.TranscriberFallbacks) == len(b.TranscriberFallbacks)
}

func equalEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, va := range a.Options {
		vb, ok := b.Options[k]
		if !ok || fmt.Sprint(va) != fmt.Sprint(vb) {
			return false
		}
	}
	return true
}
