package auth

import "context"

type identityContextKey struct{}
type membershipContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return nil, false
	}
	cp := *v
	return &cp, true
}

// UserIDFromContext returns the id of the authenticated identity, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.ID == "" {
		return "", false
	}
	return id.ID, true
}

// ContextWithMembership stores the membership resolved during authorization.
func ContextWithMembership(ctx context.Context, m Membership) context.Context {
	return context.WithValue(ctx, membershipContextKey{}, &m)
}

// MembershipFromContext returns the membership resolved during authorization.
func MembershipFromContext(ctx context.Context) (Membership, bool) {
	if ctx == nil {
		return Membership{}, false
	}
	v, ok := ctx.Value(membershipContextKey{}).(*Membership)
	if !ok || v == nil {
		return Membership{}, false
	}
	return *v, true
}
