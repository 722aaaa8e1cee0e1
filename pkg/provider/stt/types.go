package stt

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string `json:"text"`

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// backend does not report confidence.
	Confidence float64 `json:"confidence,omitempty"`

	// Words contains per-word timing when the backend supports it, in spoken
	// order. May be nil.
	Words []Word `json:"words,omitempty"`

	// Duration is the length of the transcribed audio.
	Duration time.Duration `json:"-"`
}

// Empty reports whether the transcript contains no text.
func (t Transcript) Empty() bool { return strings.TrimSpace(t.Text) == "" }

// Word holds per-word metadata. Start and End are offsets from the beginning
// of the utterance.
type Word struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

type wordJSON struct {
	Word       string  `json:"word"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Confidence float64 `json:"confidence"`
}

// MarshalJSON encodes word offsets as fractional seconds.
func (w Word) MarshalJSON() ([]byte, error) {
	return json.Marshal(wordJSON{
		Word:       w.Word,
		StartSec:   w.Start.Seconds(),
		EndSec:     w.End.Seconds(),
		Confidence: w.Confidence,
	})
}

// UnmarshalJSON decodes the encoding produced by MarshalJSON.
func (w *Word) UnmarshalJSON(data []byte) error {
	var j wordJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*w = Word{
		Word:       j.Word,
		Start:      Seconds(j.StartSec),
		End:        Seconds(j.EndSec),
		Confidence: j.Confidence,
	}
	return nil
}

// Seconds converts fractional seconds, as most backends report them, to a
// duration.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// KeywordBoost is a vocabulary hint that raises the recognition probability
// of an uncommon word (application names, slot values).
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "chromium").
	Keyword string

	// Boost is the intensity of the boost (backend-specific scale).
	Boost float64
}
