package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// APIKeyProvider maps API keys to configured principals.
// Keys come from the Authorization: Bearer <key> or X-API-Key headers.
type APIKeyProvider struct {
	mu   sync.RWMutex
	keys []apiKey
}

type apiKey struct {
	digest    [32]byte
	principal models.Principal
}

// NewAPIKeyProvider creates a provider from a key → principal map.
// The provider is disabled while it holds no keys.
func NewAPIKeyProvider(keys map[string]models.Principal) *APIKeyProvider {
	p := &APIKeyProvider{}
	for k, principal := range keys {
		p.AddKey(k, principal)
	}
	return p
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys) > 0
}

// Authenticate resolves the request's API key to its principal.
// Returns (nil, nil) if no API key is present (let next provider try).
// Returns (nil, error) if an API key is present but unknown.
func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	key := extractAPIKeyFromRequest(r)
	if key == "" {
		return nil, nil
	}

	principal, ok := p.lookup(key)
	if !ok {
		return nil, fmt.Errorf("invalid API key")
	}
	return &contracts.Identity{
		Principal: principal,
		Provider:  "apikey",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// lookup compares digests in constant time and checks every key, so the
// time taken does not reveal which key matched.
func (p *APIKeyProvider) lookup(candidate string) (models.Principal, bool) {
	digest := sha256.Sum256([]byte(candidate))

	p.mu.RLock()
	defer p.mu.RUnlock()

	var (
		found models.Principal
		ok    bool
	)
	for _, k := range p.keys {
		if subtle.ConstantTimeCompare(digest[:], k.digest[:]) == 1 {
			found, ok = k.principal, true
		}
	}
	return found, ok
}

// AddKey registers a key at runtime, replacing an existing entry.
func (p *APIKeyProvider) AddKey(key string, principal models.Principal) {
	if key == "" {
		return
	}
	digest := sha256.Sum256([]byte(key))

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.keys {
		if p.keys[i].digest == digest {
			p.keys[i].principal = principal
			return
		}
	}
	p.keys = append(p.keys, apiKey{digest: digest, principal: principal})
}

// RemoveKey removes an API key at runtime.
func (p *APIKeyProvider) RemoveKey(key string) {
	digest := sha256.Sum256([]byte(key))

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.keys {
		if p.keys[i].digest == digest {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			return
		}
	}
}

func extractAPIKeyFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
