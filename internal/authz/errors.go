package authz

import "errors"

var (
	// ErrNotFound indicates the requested principal, resource, or
	// record does not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrDuplicate indicates a uniqueness violation within a scope.
	ErrDuplicate = errors.New("authz: duplicate entry")
	// ErrCycleDetected indicates resource hierarchy traversal
	// exceeded its depth bound, which means the stored forest is
	// corrupt.
	ErrCycleDetected = errors.New("authz: resource hierarchy cycle detected")
	// ErrStoreTimeout indicates an underlying store read exceeded its
	// deadline. Callers may retry a bounded number of times.
	ErrStoreTimeout = errors.New("authz: store timeout")
	// ErrScopeMismatch indicates a role referencing a permission from
	// a different grain or securable item.
	ErrScopeMismatch = errors.New("authz: role and permission scope mismatch")
	// ErrValidation indicates rejected input.
	ErrValidation = errors.New("authz: validation failed")
)
