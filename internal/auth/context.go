// Package auth provides authentication context helpers and bearer token
// verification.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// claimsContextKey is the key used to store verified claims in context.
	claimsContextKey contextKey = "claims"
)

// GetClaims retrieves the verified claims from the context.
//
// Returns nil if the request was not authenticated.
//
// Usage:
//
//	claims := auth.GetClaims(r.Context())
//	if claims == nil {
//	    // Handle unauthenticated request
//	}
func GetClaims(ctx context.Context) *Claims {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetClaimsFromRequest retrieves the verified claims from the request context.
func GetClaimsFromRequest(r *http.Request) *Claims {
	return GetClaims(r.Context())
}

// SetClaims stores verified claims in the context.
//
// This is called by the authentication middleware after a bearer token has
// been verified.
func SetClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
