package pgstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/warden-authz/warden/internal/authz"
)

// GetGrain fetches a grain by name.
func (s *Store) GetGrain(ctx context.Context, name string) (*authz.Grain, error) {
	var grain authz.Grain
	err := s.pool.QueryRow(ctx, `SELECT name, created_at FROM grains WHERE name = $1`, name).
		Scan(&grain.Name, &grain.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &grain, nil
}

// ListGrains returns all grains ordered by name.
func (s *Store) ListGrains(ctx context.Context) ([]authz.Grain, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, created_at FROM grains ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grains []authz.Grain
	for rows.Next() {
		var grain authz.Grain
		if err := rows.Scan(&grain.Name, &grain.CreatedAt); err != nil {
			return nil, err
		}
		grains = append(grains, grain)
	}
	return grains, rows.Err()
}

// CreateGrain inserts a grain.
func (s *Store) CreateGrain(ctx context.Context, grain authz.Grain) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO grains (name, created_at) VALUES ($1, NOW())`, grain.Name)
	return mapErr(err)
}

// DeleteGrain removes a grain by name.
func (s *Store) DeleteGrain(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM grains WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authz.ErrNotFound
	}
	return nil
}

// GetResource fetches a securable item by grain and id.
func (s *Store) GetResource(ctx context.Context, grain string, id uuid.UUID) (*authz.SecurableItem, error) {
	var item authz.SecurableItem
	err := s.pool.QueryRow(ctx, `SELECT id, grain, name, parent_id, created_at FROM securable_items WHERE grain = $1 AND id = $2`, grain, id).
		Scan(&item.ID, &item.Grain, &item.Name, &item.ParentID, &item.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &item, nil
}

// GetResourceByName fetches a securable item by grain and name.
func (s *Store) GetResourceByName(ctx context.Context, grain, name string) (*authz.SecurableItem, error) {
	var item authz.SecurableItem
	err := s.pool.QueryRow(ctx, `SELECT id, grain, name, parent_id, created_at FROM securable_items WHERE grain = $1 AND name = $2`, grain, name).
		Scan(&item.ID, &item.Grain, &item.Name, &item.ParentID, &item.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &item, nil
}

// ListChildren returns the direct children of a securable item.
func (s *Store) ListChildren(ctx context.Context, grain string, parentID uuid.UUID) ([]authz.SecurableItem, error) {
	return s.listResources(ctx, `SELECT id, grain, name, parent_id, created_at FROM securable_items WHERE grain = $1 AND parent_id = $2 ORDER BY name`, grain, parentID)
}

// ListRoots returns the top-level securable items of a grain.
func (s *Store) ListRoots(ctx context.Context, grain string) ([]authz.SecurableItem, error) {
	return s.listResources(ctx, `SELECT id, grain, name, parent_id, created_at FROM securable_items WHERE grain = $1 AND parent_id IS NULL ORDER BY name`, grain)
}

func (s *Store) listResources(ctx context.Context, query string, args ...any) ([]authz.SecurableItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []authz.SecurableItem
	for rows.Next() {
		var item authz.SecurableItem
		if err := rows.Scan(&item.ID, &item.Grain, &item.Name, &item.ParentID, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateResource inserts a securable item.
func (s *Store) CreateResource(ctx context.Context, item authz.SecurableItem) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO securable_items (id, grain, name, parent_id, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		item.ID, item.Grain, item.Name, item.ParentID)
	return mapErr(err)
}

// DeleteResource removes a securable item.
func (s *Store) DeleteResource(ctx context.Context, grain string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM securable_items WHERE grain = $1 AND id = $2`, grain, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return authz.ErrNotFound
	}
	return nil
}
