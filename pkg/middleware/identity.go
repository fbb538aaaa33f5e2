package middleware

import (
	"context"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
)

const identityKey contextKey = "identity"

// SetIdentity stores the authenticated Identity in the context.
// Called by the auth middleware after successful authentication.
func SetIdentity(ctx context.Context, identity *contracts.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the authenticated Identity from the context.
// Returns nil for anonymous requests.
func GetIdentity(ctx context.Context) *contracts.Identity {
	if v, ok := ctx.Value(identityKey).(*contracts.Identity); ok {
		return v
	}
	return nil
}

// GetPrincipal returns the authenticated principal. Anonymous requests get
// the zero Principal, which holds no permissions.
func GetPrincipal(ctx context.Context) models.Principal {
	if id := GetIdentity(ctx); id != nil {
		return id.Principal
	}
	return models.Principal{ID: "anonymous"}
}
