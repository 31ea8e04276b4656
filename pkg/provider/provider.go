// Package provider abstracts the language models the gateway can route to.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNoActive        = errors.New("no active provider")
	ErrEmptyResponse   = errors.New("empty response from model")
)

// Provider is one model backend. RequiresRedaction is true for any provider
// whose traffic leaves the local machine.
type Provider interface {
	Name() string
	RequiresRedaction() bool
	Ready(ctx context.Context) bool
	GenerateText(ctx context.Context, prompt string, maxTokens int) (string, error)
	Chat(ctx context.Context, system string, messages []models.ChatMessage, maxTokens int) (string, error)
}

// Registry holds the configured providers and the one currently active.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	active    string
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p. The first provider registered becomes active.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.active == "" {
		r.active = p.Name()
	}
}

func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	r.active = name
	return nil
}

func (r *Registry) Active() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[r.active]
	if !ok {
		return nil, ErrNoActive
	}
	return p, nil
}

// List describes every provider, sorted by name. Readiness is probed.
func (r *Registry) List(ctx context.Context) []models.ProviderInfo {
	r.mu.RLock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	active := r.active
	providers := make(map[string]Provider, len(r.providers))
	for k, v := range r.providers {
		providers[k] = v
	}
	r.mu.RUnlock()

	sort.Strings(names)
	out := make([]models.ProviderInfo, 0, len(names))
	for _, name := range names {
		p := providers[name]
		out = append(out, models.ProviderInfo{
			Name:              name,
			Ready:             p.Ready(ctx),
			RequiresRedaction: p.RequiresRedaction(),
			Active:            name == active,
		})
	}
	return out
}
