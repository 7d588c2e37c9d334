package llm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Client generates text for a single node prompt.
type Client interface {
	Complete(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// Factory builds a Client for a model name of one provider. The name is the
// part of the model id after the colon.
type Factory func(model string) (Client, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a provider available to NewClient under name. Provider
// packages call it from init; registering a name again replaces it.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	factories[name] = f
	factoriesMu.Unlock()
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return slices.Sorted(maps.Keys(factories))
}

// NewClient resolves a "provider:model" id to a Client.
func NewClient(modelID string) (Client, error) {
	provider, model, err := ParseModelID(modelID)
	if err != nil {
		return nil, err
	}
	factoriesMu.RLock()
	f, ok := factories[provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("model %q: unknown provider %q (registered: %s)",
			modelID, provider, strings.Join(Providers(), ", "))
	}
	return f(model)
}

// Pool caches one Client per model id, so the text nodes of a canvas that
// share a model also share its SDK client. It is safe for concurrent use.
type Pool struct {
	resolve func(modelID string) (Client, error)

	mu      sync.Mutex
	clients map[string]Client
}

// NewPool returns a Pool that builds clients with resolve, or with NewClient
// when resolve is nil.
func NewPool(resolve func(modelID string) (Client, error)) *Pool {
	if resolve == nil {
		resolve = NewClient
	}
	return &Pool{resolve: resolve, clients: make(map[string]Client)}
}

// Client returns the cached client for modelID, building it on first use.
// Failed resolutions are not cached.
func (p *Pool) Client(modelID string) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[modelID]; ok {
		return c, nil
	}
	c, err := p.resolve(modelID)
	if err != nil {
		return nil, err
	}
	p.clients[modelID] = c
	return c, nil
}
