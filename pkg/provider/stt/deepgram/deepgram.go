// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// live WebSocket API. It implements the stt.Transcriber interface.
//
// Each Transcribe call opens a connection, streams the utterance as binary
// PCM messages, asks Deepgram to flush with a CloseStream message and
// collects every final result until the server closes the stream.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// framesPerMessage groups frames into one WebSocket message (~256 ms at
	// the reference format).
	framesPerMessage = 8

	defaultTimeout = 30 * time.Second
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(t *Transcriber) { t.language = language }
}

// WithKeywords sets vocabulary hints sent with every request.
func WithKeywords(keywords []stt.KeywordBoost) Option {
	return func(t *Transcriber) { t.keywords = keywords }
}

// WithEndpoint overrides the streaming endpoint URL. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) { t.endpoint = endpoint }
}

// WithTimeout bounds a whole Transcribe call. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(t *Transcriber) { t.timeout = d }
}

// Transcriber implements stt.Transcriber backed by the Deepgram streaming API.
type Transcriber struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []stt.KeywordBoost
	timeout  time.Duration
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe implements [stt.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Len() == 0 {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", stt.ErrEmptyUtterance)
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	wsURL, err := t.buildURL(u.Format.SampleRate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	for start := 0; start < u.Len(); start += framesPerMessage {
		end := min(start+framesPerMessage, u.Len())
		chunk := audio.Utterance{Format: u.Format, Frames: u.Frames[start:end]}
		if err := conn.Write(ctx, websocket.MessageBinary, chunk.PCM()); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: send CloseStream: %w", err)
	}

	var results []result
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}
		r, kind := parseDeepgramResponse(msg)
		if kind == kindMetadata {
			// Deepgram sends Metadata last, after flushing every result.
			break
		}
		if kind == kindResult && r.final {
			results = append(results, r)
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	tr := merge(results)
	tr.Duration = u.Duration()
	return tr, nil
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (t *Transcriber) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	for _, kw := range t.keywords {
		// Deepgram keyword format: word:boost (e.g., "chromium:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- response parsing ----

type messageKind int

const (
	kindIgnored messageKind = iota
	kindResult
	kindMetadata
)

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// result is one parsed Results message.
type result struct {
	text       string
	confidence float64
	words      []stt.Word
	final      bool
}

// parseDeepgramResponse classifies a raw WebSocket message and parses it when
// it is a Results event with at least one alternative.
func parseDeepgramResponse(data []byte) (result, messageKind) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, kindIgnored
	}
	switch resp.Type {
	case "Metadata":
		return result{}, kindMetadata
	case "Results":
	default:
		return result{}, kindIgnored
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, kindIgnored
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		words = append(words, stt.Word{
			Word:       text,
			Start:      stt.Seconds(w.Start),
			End:        stt.Seconds(w.End),
			Confidence: w.Confidence,
		})
	}
	return result{
		text:       alt.Transcript,
		confidence: alt.Confidence,
		words:      words,
		final:      resp.IsFinal,
	}, kindResult
}

// merge joins the final results of one stream into a single transcript. The
// overall confidence is the mean over non-empty results.
func merge(results []result) stt.Transcript {
	var (
		tr    stt.Transcript
		parts []string
		sum   float64
		n     int
	)
	for _, r := range results {
		text := strings.TrimSpace(r.text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		tr.Words = append(tr.Words, r.words...)
		sum += r.confidence
		n++
	}
	tr.Text = strings.Join(parts, " ")
	if n > 0 {
		tr.Confidence = sum / float64(n)
	}
	return tr
}
