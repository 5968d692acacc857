package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"aidpanel.org/internal/obs"
)

// Requirement describes what a caller needs to proceed. Every non-empty field
// must hold; an empty Requirement only demands an authenticated caller with a
// usable membership.
type Requirement struct {
	// Permission must be in the effective set.
	Permission Permission
	// Permissions must all be in the effective set.
	Permissions []Permission
	// AnyPermissions needs at least one entry in the effective set.
	AnyPermissions []Permission
	// AllowedRoles needs the membership role to be listed.
	AllowedRoles []Role
	// MinimumRole needs the membership role to rank at or above it.
	MinimumRole Role
}

// Response is a prepared HTTP reply for a denied check. Callers return it as is.
type Response struct {
	Status int
	Header http.Header
	Body   map[string]any
}

// Result is the outcome of a permission check.
type Result struct {
	Success    bool
	User       *Identity
	Membership *Membership
	Response   *Response
}

const (
	msgUnauthenticated   = "authentication required"
	msgNoMembership      = "no organization membership"
	msgOrgBlocked        = "organization access is suspended"
	msgInsufficient      = "insufficient permissions"
	msgPermissionFailure = "permission check failed"
)

// Resolver decides whether an identity satisfies a Requirement.
type Resolver struct {
	table   RoleTable
	members MembershipStore
	legacy  LegacyRoleStore
}

// ResolverOption configures Resolver.
type ResolverOption func(*Resolver)

// WithLegacyRoles lets identities without any membership act with the role
// recorded for them in roles. It never applies when an organization is named
// explicitly. Without this option such identities are denied.
func WithLegacyRoles(roles LegacyRoleStore) ResolverOption {
	return func(r *Resolver) { r.legacy = roles }
}

// NewResolver builds a Resolver over an immutable table and a membership store.
func NewResolver(table RoleTable, members MembershipStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{table: table, members: members}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Table returns the role table used by the resolver.
func (r *Resolver) Table() RoleTable { return r.table }

// Check resolves the membership of id within orgID and evaluates req against it.
// Lookup failures deny with 403.
func (r *Resolver) Check(ctx context.Context, id *Identity, orgID string, req Requirement) Result {
	if id == nil || strings.TrimSpace(id.ID) == "" {
		obs.ObserveAuthz("unauthenticated")
		return Result{Response: &Response{
			Status: http.StatusUnauthorized,
			Header: http.Header{"WWW-Authenticate": []string{`Bearer realm="aidpanel"`}},
			Body:   map[string]any{"error": msgUnauthenticated},
		}}
	}
	orgID = strings.TrimSpace(orgID)

	m, err := r.lookup(ctx, id, orgID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoMembership):
		return r.forbid(id, orgID, msgNoMembership)
	default:
		obs.Log("error", "membership lookup failed", map[string]any{
			"user_id": id.ID,
			"org_id":  orgID,
			"error":   err.Error(),
		})
		return r.forbid(id, orgID, msgPermissionFailure)
	}

	if m.Blocked() {
		return r.forbid(id, m.OrganizationID, msgOrgBlocked)
	}
	if !r.satisfies(m, req) {
		return r.forbid(id, m.OrganizationID, msgInsufficient)
	}

	obs.ObserveAuthz("allow")
	user := *id
	return Result{Success: true, User: &user, Membership: &m}
}

func (r *Resolver) lookup(ctx context.Context, id *Identity, orgID string) (Membership, error) {
	if r.members == nil {
		return Membership{}, errors.New("membership store not configured")
	}
	m, err := r.members.Membership(ctx, id.ID, orgID)
	if errors.Is(err, ErrNoMembership) && r.legacy != nil && orgID == "" {
		return r.legacyMembership(ctx, id)
	}
	if err != nil {
		return Membership{}, err
	}
	if !m.Role.Valid() {
		m.Role = ParseRole(string(m.Role))
	}
	return m, nil
}

func (r *Resolver) legacyMembership(ctx context.Context, id *Identity) (Membership, error) {
	role, err := r.legacy.LegacyRole(ctx, id.ID)
	if err != nil {
		return Membership{}, err
	}
	if !role.Valid() {
		return Membership{}, ErrNoMembership
	}
	return Membership{UserID: id.ID, Role: role, OrgActive: true}, nil
}

func (r *Resolver) satisfies(m Membership, req Requirement) bool {
	perms := r.table.Effective(m.Role, m.Grants)
	has := func(p Permission) bool {
		_, ok := perms[p]
		return ok
	}

	if req.Permission != "" && !has(req.Permission) {
		return false
	}
	for _, p := range req.Permissions {
		if !has(p) {
			return false
		}
	}
	if len(req.AnyPermissions) > 0 && !slices.ContainsFunc(req.AnyPermissions, has) {
		return false
	}
	if len(req.AllowedRoles) > 0 && !slices.Contains(req.AllowedRoles, m.Role) {
		return false
	}
	if req.MinimumRole != "" && !HasMinimumRole(m.Role, req.MinimumRole) {
		return false
	}
	return true
}

func (r *Resolver) forbid(id *Identity, orgID, msg string) Result {
	obs.ObserveAuthz("forbidden")
	obs.Log("warn", "authorization denied", map[string]any{
		"user_id": id.ID,
		"org_id":  orgID,
		"reason":  msg,
	})
	return Result{Response: &Response{
		Status: http.StatusForbidden,
		Body:   map[string]any{"error": msg},
	}}
}
