// Package auth binds the shared bearer-token middleware to the API's scopes.
package auth

import (
	"context"
	"net/http"

	authlib "example.com/placevisits/pkg/auth"
)

// Scopes accepted by the API.
const (
	ScopeVisitsRead     = "visits:read"
	ScopeVisitsWrite    = "visits:write"
	ScopeCaptureManage  = "capture:manage"
	ScopeCrossingsWrite = "crossings:write"
)

// Claims mirrors the shared auth claims type.
type Claims = authlib.Claims

// Config mirrors the shared auth config.
type Config = authlib.Config

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return authlib.WithClaims(ctx, claims)
}

// FromContext retrieves claims from context.
func FromContext(ctx context.Context) (*Claims, bool) {
	return authlib.FromContext(ctx)
}

// NewMiddleware authenticates every request except health and metrics probes.
func NewMiddleware(cfg Config) authlib.Middleware {
	return authlib.NewMiddleware(cfg, func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	})
}
