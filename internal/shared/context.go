package shared

import "context"

// Identity is the verified caller delivered by the upstream gateway.
type Identity struct {
	ActorID int64
	Role    string
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || id.ActorID <= 0 {
		return Identity{}, false
	}
	return id, true
}
