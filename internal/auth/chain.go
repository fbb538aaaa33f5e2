// Package auth provides the authentication provider chain that turns an
// HTTP request into the Principal a query runs as.
//
// Two providers ship:
//   - APIKeyProvider: configured keys, each bound to one principal
//   - ServiceAccountProvider: HMAC-signed tokens for CI pipelines and bots
package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// ProviderChain implements contracts.AuthProviderChain.
// It walks registered providers in order until one returns an Identity.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []contracts.AuthProvider
}

// NewProviderChain creates an auth provider chain.
func NewProviderChain(providers ...contracts.AuthProvider) *ProviderChain {
	c := &ProviderChain{providers: make([]contracts.AuthProvider, 0, len(providers))}
	for _, p := range providers {
		c.RegisterProvider(p)
	}
	return c
}

// RegisterProvider adds a provider to the end of the chain.
// Providers are tried in registration order.
func (c *ProviderChain) RegisterProvider(provider contracts.AuthProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, provider)
	log.Info().
		Str("provider", provider.Name()).
		Bool("enabled", provider.Enabled()).
		Msg("🔑 Auth provider registered")
}

// Authenticate walks the chain of providers in order.
//
// Contract:
//   - (*Identity, nil) → authenticated, stop walking
//   - (nil, nil) → this provider doesn't handle this request, try next
//   - (nil, error) → auth attempted but failed, reject immediately
func (c *ProviderChain) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	c.mu.RLock()
	providers := make([]contracts.AuthProvider, len(c.providers))
	copy(providers, c.providers)
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		identity, err := p.Authenticate(ctx, r)
		if err != nil {
			log.Debug().
				Str("provider", p.Name()).
				Err(err).
				Msg("Auth provider rejected request")
			return nil, err
		}
		if identity != nil {
			log.Debug().
				Str("provider", p.Name()).
				Str("principal", identity.Principal.ID).
				Msg("Request authenticated")
			return identity, nil
		}
	}

	// No provider matched: anonymous request
	return nil, nil
}

// ListProviders returns the names of all registered providers.
func (c *ProviderChain) ListProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}
