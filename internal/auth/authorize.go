package auth

import "sort"

// RoleTable is an immutable role to permission mapping. Build it once at startup
// and share it; no method mutates it.
type RoleTable struct {
	perms map[Role]map[Permission]struct{}
}

// NewRoleTable copies the given mapping into a RoleTable.
func NewRoleTable(mapping map[Role][]Permission) RoleTable {
	t := RoleTable{perms: make(map[Role]map[Permission]struct{}, len(mapping))}
	for role, list := range mapping {
		set := make(map[Permission]struct{}, len(list))
		for _, p := range list {
			set[p] = struct{}{}
		}
		t.perms[role] = set
	}
	return t
}

// DefaultRoleTable returns the organization matrix extended with legacy permissions.
// A role holds a legacy permission when it holds the organization permission it maps to.
// Owners and admins hold every legacy permission.
func DefaultRoleTable() RoleTable {
	mapping := make(map[Role][]Permission, len(orgRolePermissions))
	for role, orgPerms := range orgRolePermissions {
		held := make(map[Permission]struct{}, len(orgPerms))
		list := append([]Permission(nil), orgPerms...)
		for _, p := range orgPerms {
			held[p] = struct{}{}
		}
		for _, legacy := range LegacyPermissions {
			_, mapped := held[legacyToOrg[legacy]]
			if mapped || role == RoleOwner || role == RoleAdmin {
				list = append(list, legacy)
			}
		}
		mapping[role] = list
	}
	return NewRoleTable(mapping)
}

// HasPermission reports whether role is granted perm by the table.
func (t RoleTable) HasPermission(role Role, perm Permission) bool {
	_, ok := t.perms[role][perm]
	return ok
}

// Permissions returns the sorted permissions of role.
func (t RoleTable) Permissions(role Role) []Permission {
	set := t.perms[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Effective merges the role permissions with explicit grants.
func (t RoleTable) Effective(role Role, grants []Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(t.perms[role])+len(grants))
	for p := range t.perms[role] {
		set[p] = struct{}{}
	}
	for _, p := range grants {
		set[p] = struct{}{}
	}
	return set
}

// HasMinimumRole reports whether role ranks at or above min.
func HasMinimumRole(role, min Role) bool {
	have, ok := roleRank[role]
	if !ok {
		return false
	}
	want, ok := roleRank[min]
	if !ok {
		return false
	}
	return have >= want
}
