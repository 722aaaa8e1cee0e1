// Package whisper provides whisper.cpp-backed transcribers.
//
// [Client] talks to a running whisper-server binary over its REST API
// (POST /inference). Each utterance is wrapped in a WAV container and
// submitted as a single batch request; the verbose JSON response supplies
// per-word timings when the server was started with word timestamps.
//
// [Native] loads a model in-process through the whisper.cpp CGO bindings and
// needs no server. See native.go.
//
// Usage:
//
//	c, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	tr, err := c.Transcribe(ctx, utterance)
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/echocrafter/pkg/audio"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the signed PCM whisper.cpp expects.
	bitsPerSample = 16

	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Client implements stt.Transcriber.
var _ stt.Transcriber = (*Client)(nil)

var errEmpty = fmt.Errorf("whisper: %w", stt.ErrEmptyUtterance)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithModel sets the model name sent with each request. whisper-server
// ignores it unless it hosts several models.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLanguage sets the BCP-47 language code (e.g., "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client transcribes utterances through a whisper-server instance.
type Client struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New returns a client for the whisper-server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// verboseResponse is the subset of whisper-server's verbose_json output used
// here.
type verboseResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Words []struct {
			Word        string  `json:"word"`
			Start       float64 `json:"start"`
			End         float64 `json:"end"`
			Probability float64 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe implements [stt.Transcriber]. It encodes u as a WAV file and
// POSTs it to the /inference endpoint as multipart/form-data.
func (c *Client) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	if u.Len() == 0 {
		return stt.Transcript{}, errEmpty
	}
	wav := encodeWAV(u.PCM(), u.Format.SampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        c.language,
		"model":           c.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	return parseResponse(data, u.Duration())
}

// parseResponse turns a whisper-server JSON body into a transcript. Plain
// {"text": ...} bodies from servers without verbose output are accepted too.
func parseResponse(data []byte, dur time.Duration) (stt.Transcript, error) {
	var r verboseResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	tr := stt.Transcript{Text: strings.TrimSpace(r.Text), Duration: dur}
	var probSum float64
	for _, seg := range r.Segments {
		for _, w := range seg.Words {
			word := strings.TrimSpace(w.Word)
			if word == "" {
				continue
			}
			tr.Words = append(tr.Words, stt.Word{
				Word:       word,
				Start:      stt.Seconds(w.Start),
				End:        stt.Seconds(w.End),
				Confidence: w.Probability,
			})
			probSum += w.Probability
		}
	}
	if tr.Text == "" && len(r.Segments) > 0 {
		parts := make([]string, 0, len(r.Segments))
		for _, seg := range r.Segments {
			if t := strings.TrimSpace(seg.Text); t != "" {
				parts = append(parts, t)
			}
		}
		tr.Text = strings.Join(parts, " ")
	}
	if n := len(tr.Words); n > 0 {
		tr.Confidence = probSum / float64(n)
	}
	return tr, nil
}

// ---- helpers ----------------------------------------------------------------

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a RIFF/WAV
// container held in memory for a multipart upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
