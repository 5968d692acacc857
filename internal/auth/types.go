package auth

import (
	"strings"
	"time"
)

// Role is the label a user holds inside an organization.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
	RoleViewer    Role = "viewer"
)

// roleRank orders roles from least to most privileged.
var roleRank = map[Role]int{
	RoleViewer:    1,
	RoleUser:      2,
	RoleModerator: 3,
	RoleAdmin:     4,
	RoleOwner:     5,
}

// ParseRole normalizes a free-form role label. Unknown or empty labels map to viewer.
func ParseRole(label string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(label)))
	if _, ok := roleRank[r]; ok {
		return r
	}
	return RoleViewer
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Identity is the authenticated caller of a request.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// Subscription states that block access to an organization.
const (
	SubscriptionSuspended = "suspended"
	SubscriptionCancelled = "cancelled"
)

// Membership ties an identity to an organization with a role and optional explicit grants.
type Membership struct {
	UserID             string
	OrganizationID     string
	OrganizationName   string
	Role               Role
	Grants             []Permission
	OrgActive          bool
	SubscriptionStatus string
	JoinedAt           time.Time
}

// Blocked reports whether the organization state forbids any access.
func (m Membership) Blocked() bool {
	if !m.OrgActive {
		return true
	}
	switch strings.ToLower(m.SubscriptionStatus) {
	case SubscriptionSuspended, SubscriptionCancelled:
		return true
	}
	return false
}
