package pgstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/platform/db"
)

// GetRole fetches a role with its permission attachments.
func (s *Store) GetRole(ctx context.Context, id uuid.UUID) (*authz.Role, error) {
	var role authz.Role
	err := s.pool.QueryRow(ctx, `SELECT id, grain, securable_item_id, name, deny, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Grain, &role.SecurableItemID, &role.Name, &role.Deny, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	permIDs, err := s.rolePermissionIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	role.PermissionIDs = permIDs
	return &role, nil
}

// ListRolesByScope returns the roles bound to one (grain, item) pair.
func (s *Store) ListRolesByScope(ctx context.Context, grain string, securableItemID uuid.UUID) ([]authz.Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, grain, securable_item_id, name, deny, created_at, updated_at FROM roles WHERE grain = $1 AND securable_item_id = $2 ORDER BY name`, grain, securableItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []authz.Role
	for rows.Next() {
		var role authz.Role
		if err := rows.Scan(&role.ID, &role.Grain, &role.SecurableItemID, &role.Name, &role.Deny, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		permIDs, err := s.rolePermissionIDs(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].PermissionIDs = permIDs
	}
	return roles, nil
}

// CreateRole inserts a role and its initial permission attachments.
func (s *Store) CreateRole(ctx context.Context, role authz.Role) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO roles (id, grain, securable_item_id, name, deny, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
			role.ID, role.Grain, role.SecurableItemID, role.Name, role.Deny)
		if err != nil {
			return mapErr(err)
		}
		for _, permID := range role.PermissionIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, role.ID, permID); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}

// UpdateRolePermissions replaces a role's permission attachments.
func (s *Store) UpdateRolePermissions(ctx context.Context, id uuid.UUID, permissionIDs []uuid.UUID) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT true FROM roles WHERE id = $1`, id).Scan(&exists); err != nil {
			return mapErr(err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		for _, permID := range permissionIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, id, permID); err != nil {
				return mapErr(err)
			}
		}
		_, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, id)
		return err
	})
}

// DeleteRole removes a role and its attachments.
func (s *Store) DeleteRole(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return authz.ErrNotFound
		}
		return nil
	})
}

func (s *Store) rolePermissionIDs(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
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

// GetPermission fetches a permission by id.
func (s *Store) GetPermission(ctx context.Context, id uuid.UUID) (*authz.Permission, error) {
	var perm authz.Permission
	err := s.pool.QueryRow(ctx, `SELECT id, grain, securable_item_id, name, created_at FROM permissions WHERE id = $1`, id).
		Scan(&perm.ID, &perm.Grain, &perm.SecurableItemID, &perm.Name, &perm.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &perm, nil
}

// ListPermissionsByScope returns the permissions of one scope.
func (s *Store) ListPermissionsByScope(ctx context.Context, grain string, securableItemID uuid.UUID) ([]authz.Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, grain, securable_item_id, name, created_at FROM permissions WHERE grain = $1 AND securable_item_id = $2 ORDER BY name`, grain, securableItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []authz.Permission
	for rows.Next() {
		var perm authz.Permission
		if err := rows.Scan(&perm.ID, &perm.Grain, &perm.SecurableItemID, &perm.Name, &perm.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// CreatePermission inserts a permission.
func (s *Store) CreatePermission(ctx context.Context, perm authz.Permission) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO permissions (id, grain, securable_item_id, name, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		perm.ID, perm.Grain, perm.SecurableItemID, perm.Name)
	return mapErr(err)
}

// DeletePermission removes a permission. Attachments referencing it
// are cleaned up by the sweep job, matching the tolerant-read model.
func (s *Store) DeletePermission(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authz.ErrNotFound
	}
	return nil
}
