// Package auth provides authentication context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	SessionID uuid.UUID
	UserID    uuid.UUID

	// Location is the user's time zone; it defines their calendar day.
	Location *time.Location
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// identityContextKey is the key used to store the authenticated identity in context.
	identityContextKey contextKey = "identity"
)

// GetIdentity retrieves the authenticated identity from the context.
//
// Returns nil if no user is authenticated.
//
// Usage:
//
//	id := auth.GetIdentity(r.Context())
//	if id == nil {
//	    // Handle unauthenticated request
//	}
func GetIdentity(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok {
		return nil
	}
	return id
}

// GetIdentityFromRequest is GetIdentity for a request.
func GetIdentityFromRequest(r *http.Request) *Identity {
	return GetIdentity(r.Context())
}

// SetIdentity stores an identity in the context.
//
// This is typically called by authentication middleware after validating
// a session token.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}
