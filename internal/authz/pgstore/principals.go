package pgstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/platform/db"
)

// GetGroup fetches a group with its role assignments.
func (s *Store) GetGroup(ctx context.Context, id uuid.UUID) (*authz.Group, error) {
	var group authz.Group
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM groups WHERE id = $1`, id).
		Scan(&group.ID, &group.Name, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	roleIDs, err := s.groupRoleIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	group.RoleIDs = roleIDs
	return &group, nil
}

// GetGroupByName fetches a group by its unique name.
func (s *Store) GetGroupByName(ctx context.Context, name string) (*authz.Group, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT id FROM groups WHERE name = $1`, name).Scan(&id)
	if err != nil {
		return nil, mapErr(err)
	}
	return s.GetGroup(ctx, id)
}

// ListGroups returns all groups ordered by name.
func (s *Store) ListGroups(ctx context.Context) ([]authz.Group, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at, updated_at FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []authz.Group
	for rows.Next() {
		var group authz.Group
		if err := rows.Scan(&group.ID, &group.Name, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range groups {
		roleIDs, err := s.groupRoleIDs(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].RoleIDs = roleIDs
	}
	return groups, nil
}

// CreateGroup inserts a group and its initial role assignments.
func (s *Store) CreateGroup(ctx context.Context, group authz.Group) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO groups (id, name, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())`, group.ID, group.Name)
		if err != nil {
			return mapErr(err)
		}
		for _, roleID := range group.RoleIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO group_roles (group_id, role_id) VALUES ($1, $2)`, group.ID, roleID); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}

// UpdateGroupRoles replaces a group's role assignments.
func (s *Store) UpdateGroupRoles(ctx context.Context, id uuid.UUID, roleIDs []uuid.UUID) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT true FROM groups WHERE id = $1`, id).Scan(&exists); err != nil {
			return mapErr(err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM group_roles WHERE group_id = $1`, id); err != nil {
			return err
		}
		for _, roleID := range roleIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO group_roles (group_id, role_id) VALUES ($1, $2)`, id, roleID); err != nil {
				return mapErr(err)
			}
		}
		_, err := tx.Exec(ctx, `UPDATE groups SET updated_at = NOW() WHERE id = $1`, id)
		return err
	})
}

// DeleteGroup removes a group and its assignments.
func (s *Store) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM group_roles WHERE group_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return authz.ErrNotFound
		}
		return nil
	})
}

func (s *Store) groupRoleIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT role_id FROM group_roles WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetPrincipal fetches a principal with roles, groups, and overrides.
func (s *Store) GetPrincipal(ctx context.Context, key authz.PrincipalKey) (*authz.Principal, error) {
	principal := authz.Principal{Key: key}
	err := s.pool.QueryRow(ctx, `SELECT secret_hash, created_at, updated_at FROM principals WHERE kind = $1 AND idp = $2 AND subject = $3`,
		key.Kind, key.IdentityProvider, key.Subject).
		Scan(&principal.SecretHash, &principal.CreatedAt, &principal.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}

	principal.RoleIDs, err = s.principalIDs(ctx, `SELECT role_id FROM principal_roles WHERE kind = $1 AND idp = $2 AND subject = $3`, key)
	if err != nil {
		return nil, err
	}
	principal.GroupIDs, err = s.principalIDs(ctx, `SELECT group_id FROM principal_groups WHERE kind = $1 AND idp = $2 AND subject = $3`, key)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT permission, allow FROM principal_overrides WHERE kind = $1 AND idp = $2 AND subject = $3 ORDER BY permission`,
		key.Kind, key.IdentityProvider, key.Subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var override authz.Override
		if err := rows.Scan(&override.Permission, &override.Allow); err != nil {
			return nil, err
		}
		principal.Overrides = append(principal.Overrides, override)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &principal, nil
}

// ListGroupMembers returns the principals belonging to a group.
func (s *Store) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]authz.Principal, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, idp, subject FROM principal_groups WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []authz.PrincipalKey
	for rows.Next() {
		var key authz.PrincipalKey
		if err := rows.Scan(&key.Kind, &key.IdentityProvider, &key.Subject); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	members := make([]authz.Principal, 0, len(keys))
	for _, key := range keys {
		principal, err := s.GetPrincipal(ctx, key)
		if err != nil {
			return nil, err
		}
		members = append(members, *principal)
	}
	return members, nil
}

// CreatePrincipal inserts a principal.
func (s *Store) CreatePrincipal(ctx context.Context, principal authz.Principal) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO principals (kind, idp, subject, secret_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, NOW(), NOW())`,
		principal.Key.Kind, principal.Key.IdentityProvider, principal.Key.Subject, principal.SecretHash)
	return mapErr(err)
}

// UpdatePrincipalRoles replaces a principal's direct role ids.
func (s *Store) UpdatePrincipalRoles(ctx context.Context, key authz.PrincipalKey, roleIDs []uuid.UUID) error {
	return s.replaceAssignments(ctx, key, `DELETE FROM principal_roles WHERE kind = $1 AND idp = $2 AND subject = $3`,
		`INSERT INTO principal_roles (kind, idp, subject, role_id) VALUES ($1, $2, $3, $4)`, roleIDs)
}

// UpdatePrincipalGroups replaces a principal's group memberships.
func (s *Store) UpdatePrincipalGroups(ctx context.Context, key authz.PrincipalKey, groupIDs []uuid.UUID) error {
	return s.replaceAssignments(ctx, key, `DELETE FROM principal_groups WHERE kind = $1 AND idp = $2 AND subject = $3`,
		`INSERT INTO principal_groups (kind, idp, subject, group_id) VALUES ($1, $2, $3, $4)`, groupIDs)
}

// UpdatePrincipalOverrides replaces a principal's overrides.
func (s *Store) UpdatePrincipalOverrides(ctx context.Context, key authz.PrincipalKey, overrides []authz.Override) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.requirePrincipal(ctx, tx, key); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM principal_overrides WHERE kind = $1 AND idp = $2 AND subject = $3`,
			key.Kind, key.IdentityProvider, key.Subject); err != nil {
			return err
		}
		for _, override := range overrides {
			if _, err := tx.Exec(ctx, `INSERT INTO principal_overrides (kind, idp, subject, permission, allow) VALUES ($1, $2, $3, $4, $5)`,
				key.Kind, key.IdentityProvider, key.Subject, override.Permission, override.Allow); err != nil {
				return mapErr(err)
			}
		}
		_, err := tx.Exec(ctx, `UPDATE principals SET updated_at = NOW() WHERE kind = $1 AND idp = $2 AND subject = $3`,
			key.Kind, key.IdentityProvider, key.Subject)
		return err
	})
}

// DeletePrincipal removes a principal and its assignments.
func (s *Store) DeletePrincipal(ctx context.Context, key authz.PrincipalKey) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, query := range []string{
			`DELETE FROM principal_roles WHERE kind = $1 AND idp = $2 AND subject = $3`,
			`DELETE FROM principal_groups WHERE kind = $1 AND idp = $2 AND subject = $3`,
			`DELETE FROM principal_overrides WHERE kind = $1 AND idp = $2 AND subject = $3`,
		} {
			if _, err := tx.Exec(ctx, query, key.Kind, key.IdentityProvider, key.Subject); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `DELETE FROM principals WHERE kind = $1 AND idp = $2 AND subject = $3`,
			key.Kind, key.IdentityProvider, key.Subject)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return authz.ErrNotFound
		}
		return nil
	})
}

func (s *Store) replaceAssignments(ctx context.Context, key authz.PrincipalKey, deleteQuery, insertQuery string, ids []uuid.UUID) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.requirePrincipal(ctx, tx, key); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteQuery, key.Kind, key.IdentityProvider, key.Subject); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.Exec(ctx, insertQuery, key.Kind, key.IdentityProvider, key.Subject, id); err != nil {
				return mapErr(err)
			}
		}
		_, err := tx.Exec(ctx, `UPDATE principals SET updated_at = NOW() WHERE kind = $1 AND idp = $2 AND subject = $3`,
			key.Kind, key.IdentityProvider, key.Subject)
		return err
	})
}

func (s *Store) requirePrincipal(ctx context.Context, tx pgx.Tx, key authz.PrincipalKey) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT true FROM principals WHERE kind = $1 AND idp = $2 AND subject = $3`,
		key.Kind, key.IdentityProvider, key.Subject).Scan(&exists); err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *Store) principalIDs(ctx context.Context, query string, key authz.PrincipalKey) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, query, key.Kind, key.IdentityProvider, key.Subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
