package providers

import (
	"github.com/servcy/inboxstack/config"
	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/enum"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/services/providers/github"
	"github.com/servcy/inboxstack/services/providers/gmail"
	"github.com/servcy/inboxstack/services/providers/notion"
)

type registry struct {
	adapters map[enum.IntegrationProvider]interfaces.ProviderAdapter
	order    []interfaces.ProviderAdapter
}

// NewRegistry wires one adapter per configured provider. Shared logic resolves
// adapters here and never branches on a provider tag.
func NewRegistry(cfg *config.Config, l logger.Logger) interfaces.AdapterRegistry {
	r := &registry{adapters: make(map[enum.IntegrationProvider]interfaces.ProviderAdapter)}
	r.register(gmail.NewAdapter(cfg.GoogleOAuthConfig, l))
	r.register(github.NewAdapter(cfg.GithubOAuthConfig, l))
	r.register(notion.NewAdapter(cfg.NotionOAuthConfig, l))
	return r
}

func (r *registry) register(adapter interfaces.ProviderAdapter) {
	r.adapters[adapter.Provider()] = adapter
	r.order = append(r.order, adapter)
}

func (r *registry) Adapter(provider enum.IntegrationProvider) (interfaces.ProviderAdapter, bool) {
	adapter, ok := r.adapters[provider]
	return adapter, ok
}

func (r *registry) All() []interfaces.ProviderAdapter {
	out := make([]interfaces.ProviderAdapter, len(r.order))
	copy(out, r.order)
	return out
}
