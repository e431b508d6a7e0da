// Package authz defines the entity model and store contracts for the
// authorization domain: grains, securable items, roles, permissions,
// groups, and principals.
package authz

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Grain is a top-level tenancy partition, addressed by name.
type Grain struct {
	Name      string
	CreatedAt time.Time
}

// SecurableItem is a node in a per-grain resource forest. Root items
// have a nil ParentID. Children are looked up by parent id; the item
// itself never embeds them.
type SecurableItem struct {
	ID        uuid.UUID
	Grain     string
	Name      string
	ParentID  *uuid.UUID
	CreatedAt time.Time
}

// Role is a named bundle of permissions scoped to exactly one
// (grain, securable item) pair. A denying role subtracts its
// permissions instead of adding them.
type Role struct {
	ID              uuid.UUID
	Grain           string
	SecurableItemID uuid.UUID
	Name            string
	Deny            bool
	PermissionIDs   []uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Permission is a single capability token scoped like a role.
type Permission struct {
	ID              uuid.UUID
	Grain           string
	SecurableItemID uuid.UUID
	Name            string
	CreatedAt       time.Time
}

// Group is a named collection of principals carrying role assignments.
type Group struct {
	ID        uuid.UUID
	Name      string
	RoleIDs   []uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PrincipalKind discriminates users from clients.
type PrincipalKind string

const (
	KindUser   PrincipalKind = "user"
	KindClient PrincipalKind = "client"
)

// PrincipalKey identifies a principal. Users are keyed by identity
// provider plus subject; clients by client id, with Subject holding
// the client id and IdentityProvider left empty.
type PrincipalKey struct {
	Kind             PrincipalKind
	IdentityProvider string
	Subject          string
}

// UserKey builds the key for a user principal.
func UserKey(identityProvider, subject string) PrincipalKey {
	return PrincipalKey{Kind: KindUser, IdentityProvider: identityProvider, Subject: subject}
}

// ClientKey builds the key for a client principal.
func ClientKey(clientID string) PrincipalKey {
	return PrincipalKey{Kind: KindClient, Subject: clientID}
}

// String renders a stable representation suitable for cache keys.
func (k PrincipalKey) String() string {
	if k.Kind == KindClient {
		return fmt.Sprintf("client:%s", k.Subject)
	}
	return fmt.Sprintf("user:%s:%s", k.IdentityProvider, k.Subject)
}

// Valid reports whether the key carries all required fields.
func (k PrincipalKey) Valid() bool {
	switch k.Kind {
	case KindUser:
		return k.IdentityProvider != "" && k.Subject != ""
	case KindClient:
		return k.Subject != ""
	}
	return false
}

// Override is a direct, principal-scoped allow/deny exception. It
// follows the principal everywhere and bypasses role computation.
type Override struct {
	Permission string
	Allow      bool
}

// Principal is a user or client together with its direct role
// assignments, group memberships, and overrides. SecretHash is only
// populated for clients.
type Principal struct {
	Key        PrincipalKey
	RoleIDs    []uuid.UUID
	GroupIDs   []uuid.UUID
	Overrides  []Override
	SecretHash string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EffectivePermissionSet is the computed result of a resolution
// query. Permission names are unique and sorted; the set is never
// persisted.
type EffectivePermissionSet struct {
	Principal   PrincipalKey `json:"principal"`
	Grain       string       `json:"grain"`
	ResourceID  uuid.UUID    `json:"resourceId"`
	Permissions []string     `json:"permissions"`
}

// Has reports whether the set contains the named permission.
func (s EffectivePermissionSet) Has(name string) bool {
	i := sort.SearchStrings(s.Permissions, name)
	return i < len(s.Permissions) && s.Permissions[i] == name
}
