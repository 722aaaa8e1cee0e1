// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local Ollama instance) behind a single blocking
// completion call. The voice pipeline only uses it to map a transcript onto
// the grammar's intents, so there is no streaming and no tool calling.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional instruction injected before Messages.
	// Providers without a dedicated system field prepend it as a
	// RoleSystem message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is typically
	// from RoleUser and drives the response.
	Messages []Message

	// Temperature controls output randomness. Zero requests the provider
	// default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int

	// JSON asks the backend to constrain its output to a single JSON object
	// where it supports that natively. Callers must still validate the reply.
	JSON bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// It returns an error if the request fails or ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
