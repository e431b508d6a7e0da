// Package pgstore provides PostgreSQL backed implementations of the
// authz store contracts.
package pgstore

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warden-authz/warden/internal/authz"
)

// Store implements every entity-family contract over one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Stores bundles the same instance as every entity family backend.
func (s *Store) Stores() authz.Stores {
	return authz.Stores{
		Grains:      s,
		Resources:   s,
		Roles:       s,
		Permissions: s,
		Groups:      s,
		Principals:  s,
	}
}

const uniqueViolation = "23505"

// mapErr translates pgx errors to the domain sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return authz.ErrDuplicate
	}
	return err
}
