package auth

import "context"

// MembershipStore resolves the organization membership of a user.
// An empty orgID selects the user's earliest active membership.
// Implementations return ErrNoMembership when the user does not belong to the organization.
type MembershipStore interface {
	Membership(ctx context.Context, userID, orgID string) (Membership, error)
}

// MembershipStoreFunc adapts a function to MembershipStore.
type MembershipStoreFunc func(ctx context.Context, userID, orgID string) (Membership, error)

func (f MembershipStoreFunc) Membership(ctx context.Context, userID, orgID string) (Membership, error) {
	return f(ctx, userID, orgID)
}

// LegacyRoleStore returns the single-tenant role recorded for a user on the server.
// Implementations return ErrNoMembership when the user has no such role.
type LegacyRoleStore interface {
	LegacyRole(ctx context.Context, userID string) (Role, error)
}

// LegacyRoleStoreFunc adapts a function to LegacyRoleStore.
type LegacyRoleStoreFunc func(ctx context.Context, userID string) (Role, error)

func (f LegacyRoleStoreFunc) LegacyRole(ctx context.Context, userID string) (Role, error) {
	return f(ctx, userID)
}
