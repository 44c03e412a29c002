// Package personerr defines the typed error taxonomy surfaced by the Person
// Data Store (spec.md §7). Each kind is its own struct implementing error so
// callers can use errors.As to branch on the kind without string matching,
// mirroring the teacher's EntityNotFoundError/EntityConflictError family in
// common/errors.go.
package personerr

import (
	"fmt"

	"github.com/google/uuid"
)

// NotFound indicates the requested primary key has no row.
type NotFound struct {
	EntityType string
	ID         uuid.UUID
}

func (e NotFound) Error() string {
	return fmt.Sprintf("%s %s: not found", e.EntityType, e.ID)
}

// Duplicate indicates a unique-constraint violation on a named field tuple.
type Duplicate struct {
	EntityType string
	Field      string
	Value      string
}

func (e Duplicate) Error() string {
	return fmt.Sprintf("%s: duplicate %s %q", e.EntityType, e.Field, e.Value)
}

// ReferencedParentMissing indicates a foreign-key target does not exist at write time.
type ReferencedParentMissing struct {
	EntityType string
	Field      string
	ParentID   uuid.UUID
}

func (e ReferencedParentMissing) Error() string {
	return fmt.Sprintf("%s.%s: parent %s does not exist", e.EntityType, e.Field, e.ParentID)
}

// HasDependents indicates a delete was blocked because dependent rows exist.
type HasDependents struct {
	EntityType string
	IDs        []uuid.UUID
}

func (e HasDependents) Error() string {
	return fmt.Sprintf("%s: %d id(s) have dependents", e.EntityType, len(e.IDs))
}

// InvalidInput indicates a bounded-string overflow, malformed enum, or
// otherwise malformed field value.
type InvalidInput struct {
	Field  string
	Reason string
}

func (e InvalidInput) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// VersionMismatch indicates an optimistic-lock failure on update: the
// caller's expected version does not match the stored version.
type VersionMismatch struct {
	EntityType string
	ID         uuid.UUID
	Expected   int64
	Actual     int64
}

func (e VersionMismatch) Error() string {
	return fmt.Sprintf("%s %s: version mismatch, expected %d got %d", e.EntityType, e.ID, e.Expected, e.Actual)
}

// HashMismatch indicates the recomputed content hash of an audit payload
// does not equal the stored hash — tamper detection (spec.md §8).
type HashMismatch struct {
	EntityType string
	ID         uuid.UUID
	Version    int64
	Expected   uint64
	Actual     uint64
}

func (e HashMismatch) Error() string {
	return fmt.Sprintf("%s %s v%d: hash mismatch, stored %x recomputed %x", e.EntityType, e.ID, e.Version, e.Expected, e.Actual)
}

// RepositoryError wraps an unexpected storage-layer failure.
type RepositoryError struct {
	EntityType string
	Err        error
}

func (e RepositoryError) Error() string {
	return fmt.Sprintf("%s: repository error: %v", e.EntityType, e.Err)
}

func (e RepositoryError) Unwrap() error { return e.Err }

// CacheCoherenceError indicates an observer-notification failure during
// commit/rollback promotion of a transaction-aware cache overlay.
type CacheCoherenceError struct {
	EntityType string
	Err        error
}

func (e CacheCoherenceError) Error() string {
	return fmt.Sprintf("%s: cache coherence error: %v", e.EntityType, e.Err)
}

func (e CacheCoherenceError) Unwrap() error { return e.Err }

// AuditLogImmutable is returned by any attempt to update or delete an
// existing audit_log row (spec.md §4.5).
type AuditLogImmutable struct{}

func (AuditLogImmutable) Error() string { return "audit logs are immutable" }
