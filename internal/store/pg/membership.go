package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"aidpanel.org/internal/auth"
)

var (
	_ auth.MembershipStore = (*Store)(nil)
	_ auth.LegacyRoleStore = (*Store)(nil)
)

const membershipColumns = `
	select m.user_id, m.organization_id, o.name, m.role, o.is_active,
	       coalesce(o.subscription_status, ''), m.joined_at
	from organization_members m
	join organizations o on o.id = m.organization_id`

// Membership implements auth.MembershipStore. Only active memberships count.
func (s *Store) Membership(ctx context.Context, userID, orgID string) (auth.Membership, error) {
	if s == nil || s.db == nil {
		return auth.Membership{}, errNoDB
	}
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	if userID == "" {
		return auth.Membership{}, fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}

	var row *sql.Row
	if orgID == "" {
		row = s.db.QueryRowContext(ctx, membershipColumns+`
			where m.user_id = $1 and m.status = 'active'
			order by m.joined_at asc
			limit 1
		`, userID)
	} else {
		row = s.db.QueryRowContext(ctx, membershipColumns+`
			where m.user_id = $1 and m.organization_id = $2 and m.status = 'active'
		`, userID, orgID)
	}

	var (
		m    auth.Membership
		role string
	)
	err := row.Scan(&m.UserID, &m.OrganizationID, &m.OrganizationName, &role, &m.OrgActive, &m.SubscriptionStatus, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Membership{}, auth.ErrNoMembership
	}
	if err != nil {
		// A malformed organization id cannot match any membership.
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrInvalidTextRepresentation {
			return auth.Membership{}, auth.ErrNoMembership
		}
		return auth.Membership{}, fmt.Errorf("query membership: %w", err)
	}
	m.Role = auth.ParseRole(role)

	grants, err := s.grants(ctx, m.OrganizationID, m.UserID)
	if err != nil {
		return auth.Membership{}, err
	}
	m.Grants = grants
	return m, nil
}

func (s *Store) grants(ctx context.Context, orgID, userID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select permission
		from member_permission_grants
		where organization_id = $1 and user_id = $2
		order by permission
	`, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var out []auth.Permission
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, auth.Permission(p))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LegacyRole implements auth.LegacyRoleStore from the profiles table.
func (s *Store) LegacyRole(ctx context.Context, userID string) (auth.Role, error) {
	if s == nil || s.db == nil {
		return "", errNoDB
	}
	var role string
	err := s.db.QueryRowContext(ctx, `select role from profiles where id = $1`, strings.TrimSpace(userID)).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNoMembership
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrInvalidTextRepresentation:
				return "", auth.ErrNoMembership
			case pgErrUndefinedTable:
				return "", fmt.Errorf("profiles table missing, run migrations: %w", err)
			}
		}
		return "", fmt.Errorf("query profile role: %w", err)
	}
	return auth.Role(strings.ToLower(strings.TrimSpace(role))), nil
}
