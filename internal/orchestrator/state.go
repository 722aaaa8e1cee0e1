package orchestrator

import "fmt"

// State is the orchestrator's position in the session cycle. Exactly one
// state is current at any time.
type State int32

// Session states. A session runs WaitingWakeWord → RecognizingIntent and
// then either back to Idle (intent understood) or on through
// CollectingUtterance → Transcribing → Idle.
const (
	Idle State = iota
	WaitingWakeWord
	RecognizingIntent
	CollectingUtterance
	Transcribing
)

// String returns the state name in snake case, as used in logs and metrics.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingWakeWord:
		return "waiting_wake_word"
	case RecognizingIntent:
		return "recognizing_intent"
	case CollectingUtterance:
		return "collecting_utterance"
	case Transcribing:
		return "transcribing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SessionError reports an engine failure that aborted a session. The
// orchestrator logs it, resets to Idle and keeps running; it is surfaced
// through [Stats.LastError] for diagnostics.
type SessionError struct {
	// State is where the session was when the engine failed.
	State State

	// Err is the engine error.
	Err error
}

// Error implements error.
func (e *SessionError) Error() string {
	return fmt.Sprintf("orchestrator: session aborted in %s: %v", e.State, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error { return e.Err }
