// Package openai resolves intents through the OpenAI chat completions API
// or any server that speaks it (vLLM, LM Studio, llama.cpp's server).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/echocrafter/pkg/provider/llm"
)

// ErrTruncated is returned when the model stopped at the token limit. A cut
// off JSON answer is useless to the resolver, so it is not returned.
var ErrTruncated = errors.New("openai: reply truncated at token limit")

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider over chat completions.
type Provider struct {
	client oai.Client
	model  string
}

type settings struct {
	baseURL string
	org     string
	timeout time.Duration
	retries int
}

// Option configures New.
type Option func(*settings)

// WithBaseURL targets an OpenAI-compatible server. With a base URL set the
// API key may be empty, as most local servers do not check it.
func WithBaseURL(url string) Option { return func(s *settings) { s.baseURL = url } }

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option { return func(s *settings) { s.org = org } }

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// WithMaxRetries sets how often a failed request is retried. The SDK
// default is 2; a failover group usually wants 0 so it can move on quickly.
func WithMaxRetries(n int) Option { return func(s *settings) { s.retries = n } }

// New returns a provider for model. apiKey is required unless a base URL is
// given.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	s := settings{retries: -1}
	for _, o := range opts {
		o(&s)
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	if apiKey == "" && s.baseURL == "" {
		return nil, errors.New("openai: api key is required for the hosted API")
	}
	return &Provider{client: oai.NewClient(s.requestOptions(apiKey)...), model: model}, nil
}

func (s settings) requestOptions(apiKey string) []option.RequestOption {
	if apiKey == "" {
		apiKey = "unused"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		opts = append(opts, option.WithBaseURL(s.baseURL))
	}
	if s.org != "" {
		opts = append(opts, option.WithOrganization(s.org))
	}
	if s.timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	if s.retries >= 0 {
		opts = append(opts, option.WithMaxRetries(s.retries))
	}
	return opts
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: reply has no choices")
	}

	choice := resp.Choices[0]
	switch {
	case choice.Message.Refusal != "":
		return nil, fmt.Errorf("openai: model refused: %s", choice.Message.Refusal)
	case choice.FinishReason == "length":
		return nil, ErrTruncated
	}
	return &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs, err := messages(req)
	if err != nil {
		return oai.ChatCompletionNewParams{}, err
	}
	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat.OfJSONObject = &shared.ResponseFormatJSONObjectParam{}
	}
	return params, nil
}

// messages flattens the system prompt and turns into SDK message params.
func messages(req llm.CompletionRequest) ([]oai.ChatCompletionMessageParamUnion, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: request has no messages")
	}
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			out = append(out, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("openai: message %d: unknown role %q", i, m.Role)
		}
	}
	return out, nil
}
