// Package principals manages users, clients, their role assignments,
// and principal-scoped permission overrides.
package principals

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/warden-authz/warden/internal/authz"
	"github.com/warden-authz/warden/internal/engine"
	"github.com/warden-authz/warden/internal/shared"
)

// ErrBadSecret reports a client secret that does not match the stored
// hash.
var ErrBadSecret = errors.New("client secret mismatch")

// Service orchestrates principal operations.
type Service struct {
	principals authz.PrincipalStore
	roles      authz.RoleStore
	audit      *shared.AuditLogger
	cache      *engine.Cache
	logger     *slog.Logger
}

// NewService builds a Service instance.
func NewService(principals authz.PrincipalStore, roles authz.RoleStore, audit *shared.AuditLogger, cache *engine.Cache, logger *slog.Logger) *Service {
	return &Service{principals: principals, roles: roles, audit: audit, cache: cache, logger: logger}
}

// CreateUser registers a user principal identified by identity
// provider and subject.
func (s *Service) CreateUser(ctx context.Context, identityProvider, subject string) (authz.Principal, error) {
	identityProvider = strings.TrimSpace(identityProvider)
	subject = strings.TrimSpace(subject)
	if identityProvider == "" || subject == "" {
		return authz.Principal{}, fmt.Errorf("%w: identity provider and subject required", authz.ErrValidation)
	}
	now := time.Now().UTC()
	principal := authz.Principal{
		Key:       authz.UserKey(identityProvider, subject),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.principals.CreatePrincipal(ctx, principal); err != nil {
		return authz.Principal{}, err
	}
	s.recordMutation(ctx, "user.create", "principal", principal.Key.String(), nil)
	return principal, nil
}

// CreateClient registers a client principal and returns the generated
// secret alongside it. The plaintext secret is shown exactly once;
// only a bcrypt hash is persisted.
func (s *Service) CreateClient(ctx context.Context, clientID string) (authz.Principal, string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return authz.Principal{}, "", fmt.Errorf("%w: client id required", authz.ErrValidation)
	}
	secret, err := newClientSecret()
	if err != nil {
		return authz.Principal{}, "", fmt.Errorf("generate client secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return authz.Principal{}, "", fmt.Errorf("hash client secret: %w", err)
	}
	now := time.Now().UTC()
	principal := authz.Principal{
		Key:        authz.ClientKey(clientID),
		SecretHash: string(hash),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.principals.CreatePrincipal(ctx, principal); err != nil {
		return authz.Principal{}, "", err
	}
	s.recordMutation(ctx, "client.create", "principal", principal.Key.String(), nil)
	return principal, secret, nil
}

// VerifyClientSecret checks a client's secret against the stored
// hash.
func (s *Service) VerifyClientSecret(ctx context.Context, clientID, secret string) error {
	principal, err := s.principals.GetPrincipal(ctx, authz.ClientKey(clientID))
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(principal.SecretHash), []byte(secret)); err != nil {
		return ErrBadSecret
	}
	return nil
}

// Get fetches a principal by key.
func (s *Service) Get(ctx context.Context, key authz.PrincipalKey) (*authz.Principal, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: invalid principal key", authz.ErrValidation)
	}
	return s.principals.GetPrincipal(ctx, key)
}

// Delete removes a principal together with its assignments and
// overrides.
func (s *Service) Delete(ctx context.Context, key authz.PrincipalKey) error {
	if !key.Valid() {
		return fmt.Errorf("%w: invalid principal key", authz.ErrValidation)
	}
	if err := s.principals.DeletePrincipal(ctx, key); err != nil {
		return err
	}
	s.recordMutation(ctx, "principal.delete", "principal", key.String(), nil)
	return nil
}

// AssignRoles grants roles directly to a principal. Every role id
// must resolve.
func (s *Service) AssignRoles(ctx context.Context, key authz.PrincipalKey, roleIDs []uuid.UUID) (authz.Principal, error) {
	principal, err := s.principals.GetPrincipal(ctx, key)
	if err != nil {
		return authz.Principal{}, err
	}
	assigned := make(map[uuid.UUID]struct{}, len(principal.RoleIDs))
	for _, id := range principal.RoleIDs {
		assigned[id] = struct{}{}
	}
	for _, id := range roleIDs {
		if _, err := s.roles.GetRole(ctx, id); err != nil {
			if errors.Is(err, authz.ErrNotFound) {
				return authz.Principal{}, fmt.Errorf("%w: role %s", authz.ErrNotFound, id)
			}
			return authz.Principal{}, err
		}
		if _, ok := assigned[id]; !ok {
			assigned[id] = struct{}{}
			principal.RoleIDs = append(principal.RoleIDs, id)
		}
	}
	if err := s.principals.UpdatePrincipalRoles(ctx, key, principal.RoleIDs); err != nil {
		return authz.Principal{}, err
	}
	s.recordMutation(ctx, "principal.assign_roles", "principal", key.String(), map[string]any{"count": len(roleIDs)})
	return *principal, nil
}

// RemoveRoles revokes direct role grants. Role ids not assigned are
// ignored.
func (s *Service) RemoveRoles(ctx context.Context, key authz.PrincipalKey, roleIDs []uuid.UUID) (authz.Principal, error) {
	principal, err := s.principals.GetPrincipal(ctx, key)
	if err != nil {
		return authz.Principal{}, err
	}
	drop := make(map[uuid.UUID]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		drop[id] = struct{}{}
	}
	kept := make([]uuid.UUID, 0, len(principal.RoleIDs))
	for _, id := range principal.RoleIDs {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	principal.RoleIDs = kept
	if err := s.principals.UpdatePrincipalRoles(ctx, key, principal.RoleIDs); err != nil {
		return authz.Principal{}, err
	}
	s.recordMutation(ctx, "principal.remove_roles", "principal", key.String(), map[string]any{"count": len(roleIDs)})
	return *principal, nil
}

// SetOverride records a principal-scoped allow or deny for one
// permission name. Setting an existing permission replaces its
// direction.
func (s *Service) SetOverride(ctx context.Context, key authz.PrincipalKey, permission string, allow bool) (authz.Principal, error) {
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return authz.Principal{}, fmt.Errorf("%w: permission name required", authz.ErrValidation)
	}
	principal, err := s.principals.GetPrincipal(ctx, key)
	if err != nil {
		return authz.Principal{}, err
	}
	replaced := false
	for i, override := range principal.Overrides {
		if override.Permission == permission {
			principal.Overrides[i].Allow = allow
			replaced = true
			break
		}
	}
	if !replaced {
		principal.Overrides = append(principal.Overrides, authz.Override{Permission: permission, Allow: allow})
	}
	if err := s.principals.UpdatePrincipalOverrides(ctx, key, principal.Overrides); err != nil {
		return authz.Principal{}, err
	}
	s.recordMutation(ctx, "principal.set_override", "principal", key.String(), map[string]any{"permission": permission, "allow": allow})
	return *principal, nil
}

// ClearOverride removes a principal-scoped override. Clearing a
// permission without one is a no-op.
func (s *Service) ClearOverride(ctx context.Context, key authz.PrincipalKey, permission string) (authz.Principal, error) {
	principal, err := s.principals.GetPrincipal(ctx, key)
	if err != nil {
		return authz.Principal{}, err
	}
	kept := make([]authz.Override, 0, len(principal.Overrides))
	for _, override := range principal.Overrides {
		if override.Permission != permission {
			kept = append(kept, override)
		}
	}
	if len(kept) == len(principal.Overrides) {
		return *principal, nil
	}
	principal.Overrides = kept
	if err := s.principals.UpdatePrincipalOverrides(ctx, key, principal.Overrides); err != nil {
		return authz.Principal{}, err
	}
	s.recordMutation(ctx, "principal.clear_override", "principal", key.String(), map[string]any{"permission": permission})
	return *principal, nil
}

func newClientSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *Service) recordMutation(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.Any("error", err))
	}
	if err := s.cache.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Warn("cache bump", slog.Any("error", err))
	}
}
