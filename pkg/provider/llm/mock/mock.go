// Package mock provides a scripted llm.Provider for resolver tests.
//
//	p := &mock.Provider{Replies: []string{`{"intent":"openApp","slots":{"appName":"firefox"}}`}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echocrafter/pkg/provider/llm"
)

// Provider answers Complete from a script of replies.
type Provider struct {
	mu sync.Mutex

	// Replies are returned in order, one per call. The last one repeats
	// once the script runs out; an empty script yields empty content.
	Replies []string

	// Err, when set, fails every call. Requests are still recorded.
	Err error

	// Usage is attached to every reply.
	Usage llm.Usage

	// Requests records every request in call order.
	Requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider. It fails with ctx.Err() when ctx is
// already done.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.Requests)
	p.Requests = append(p.Requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Err != nil {
		return nil, p.Err
	}
	resp := &llm.CompletionResponse{Usage: p.Usage}
	if len(p.Replies) > 0 {
		resp.Content = p.Replies[min(n, len(p.Replies)-1)]
	}
	return resp, nil
}

// CallCount returns how many times Complete was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// LastRequest returns the most recent request, if any.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.Requests[len(p.Requests)-1], true
}
