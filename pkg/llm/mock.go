package llm

import (
	"context"
	"sync"

	"github.com/larderhq/larder/pkg/errors"
)

// FuncProvider adapts a plain function into a Provider. Tests reach for it
// when the response has to be computed from the incoming request instead of
// replayed from a script.
type FuncProvider func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

func (f FuncProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}

// FlakyProvider fails its first Failures calls with a recoverable provider
// error, then delegates to Next. It drives retry paths in tests.
type FlakyProvider struct {
	Failures int
	Next     Provider

	mu    sync.Mutex
	calls int
}

func (p *FlakyProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	failing := p.calls <= p.Failures
	p.mu.Unlock()

	if failing {
		return nil, errors.New(errors.CodeLLMError, "provider temporarily unavailable", nil).
			WithRecoverable(true)
	}
	return p.Next.Chat(ctx, req)
}

// Calls reports how many times Chat has been invoked, failures included.
func (p *FlakyProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var (
	_ Provider = FuncProvider(nil)
	_ Provider = (*FlakyProvider)(nil)
)
