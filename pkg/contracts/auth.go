// Authentication interfaces for the pluggable auth layer.

package contracts

import (
	"context"
	"net/http"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

// ── Identity ────────────────────────────────────────────────

// Identity is an authenticated caller, produced by an AuthProvider and
// consumed by the router through its Principal.
type Identity struct {
	// Principal carries the caller's id, permissions and scopes.
	Principal models.Principal `json:"principal"`

	// Provider identifies which auth provider authenticated this identity.
	Provider string `json:"provider"`

	// ExpiresAt is when this identity's session expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// AuthProviderChain tries providers in order until one returns an Identity.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
