package handlers

import (
	"context"
	"net/http"

	"github.com/ternarybob/peto/internal/models"
)

type contextKey string

const identityKey contextKey = "peto-identity"

// Identity headers set by the upstream auth layer. Token minting and
// verification happen before requests reach this service.
const (
	HeaderUser  = "X-Peto-User"
	HeaderEmail = "X-Peto-Email"
	HeaderAdmin = "X-Peto-Admin"
)

// IdentityFromHeaders parses the upstream-auth headers into an Identity.
// The second return is false when no user header is present.
func IdentityFromHeaders(r *http.Request) (models.Identity, bool) {
	userID := r.Header.Get(HeaderUser)
	if userID == "" {
		return models.Identity{}, false
	}
	return models.Identity{
		UserID: userID,
		Email:  r.Header.Get(HeaderEmail),
		Admin:  r.Header.Get(HeaderAdmin) == "true",
	}, true
}

// WithIdentity attaches the identity to the request context.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom retrieves the identity stored by the middleware.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey).(models.Identity)
	return id, ok
}

// RequireIdentity fetches the caller's identity or writes a 401.
func RequireIdentity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "missing identity headers")
		return models.Identity{}, false
	}
	return id, true
}
