// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving the intent resolver one code path for every hosted or local backend
// the library knows (Anthropic, Gemini, Ollama, llama.cpp and others).
//
//	p, err := anyllm.New("ollama", "llama3.2", anyllmlib.WithBaseURL("http://gpu-box:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/echocrafter/pkg/provider/llm"
)

// jsonInstruction is appended as a final system message when a request asks
// for JSON. any-llm-go has no portable response-format switch.
const jsonInstruction = "Answer with exactly one JSON object and no other text."

var _ llm.Provider = (*Provider)(nil)

type backendFunc func(opts ...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps the provider names accepted by [New] to their constructors.
var backends = map[string]backendFunc{
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Names returns the supported backend names in sorted order.
func Names() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider is an [llm.Provider] on top of one any-llm-go backend.
type Provider struct {
	name    string
	backend anyllmlib.Provider
	model   string
}

// New returns a provider for the backend called name (see [Names]) and the
// given model. Without an API key option most hosted backends fall back to
// their usual environment variable (ANTHROPIC_API_KEY, GEMINI_API_KEY, ...).
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	mk, ok := backends[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	backend, err := mk(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{name: strings.ToLower(name), backend: backend, model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anyllm: request has no messages")
	}
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}
	if req.JSON {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: jsonInstruction})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}
