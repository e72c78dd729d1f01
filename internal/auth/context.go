package auth

import (
	"context"
	"strings"
)

type callerContextKey struct{}
type tokenContextKey struct{}

// ContextWithCaller stores the authenticated caller address in the context.
func ContextWithCaller(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, callerContextKey{}, strings.ToLower(strings.TrimSpace(address)))
}

// CallerFromContext extracts the authenticated caller address from context.
func CallerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(callerContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
