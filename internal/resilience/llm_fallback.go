package resilience

import (
	"context"

	"github.com/MrWong99/echocrafter/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several LLM
// backends. The intent resolver uses it so a rate-limited primary does not
// turn every spoken command into a transcription fallback.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another LLM backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Status reports the breaker state of every backend.
func (f *LLMFallback) Status() []BackendStatus { return f.group.Status() }
