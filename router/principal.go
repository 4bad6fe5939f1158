package router

import "context"

// principalKey is the context key a host's JWT-validation middleware
// (spec.md §1's explicit non-goal -- the router consumes a verified
// principal, it never validates a token itself) stamps onto the request
// context before it reaches ServeHTTP.
type principalKey struct{}

// principal is the verified caller identity the authorization rewrite
// needs: whether the request carried a valid token, and the scopes it
// grants.
type principal struct {
	authenticated bool
	scopes        []string
}

// WithPrincipal returns a context carrying the caller's verified
// authentication state, for a host's JWT middleware to call before
// handing the request to Router.ServeHTTP.
func WithPrincipal(ctx context.Context, authenticated bool, scopes []string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal{authenticated: authenticated, scopes: scopes})
}

// principalFromContext reads back what WithPrincipal stored, defaulting
// to an unauthenticated caller with no scopes when the host never set
// one -- the safe default for a deployment with jwt.enabled = false.
func principalFromContext(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}
