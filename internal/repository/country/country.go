// Package country implements spec.md §4.3's repository contract for
// Country: save/load/find_by_id/find_by_ids/exists_by_id/exist_by_ids,
// the find_by_iso2 domain finder, and the four batch operations, all
// wired to the shared Executor, the Country secondary-index cache, and
// the append-only audit log.
//
// Grounded on the query-building style of
// components/ledger/internal/adapters/database/postgres/asset.postgresql.go
// (squirrel + pgconn error translation), adapted from create/find-style
// CRUD into this module's save/load/find/exists/batch contract, and on
// original_source/banking-db-postgres/src/repository/person/country_repository/save.rs
// for the cache-check-then-insert-then-cache-stage sequencing.
package country

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/dbexec"
	"github.com/LerianStudio/person-data-store/internal/domain"
	"github.com/LerianStudio/person-data-store/internal/hashing"
	"github.com/LerianStudio/person-data-store/internal/obs/log"
	"github.com/LerianStudio/person-data-store/internal/personerr"
)

const entityType = "Country"

// Repository is the Country repository (spec.md §4.3).
type Repository struct {
	exec      *dbexec.Executor
	cache     *cache.CountryCache
	tok       *cache.Token // nil in pool mode; set when built over a session
	cacheSeed uint64
	logger    log.Logger
}

// New constructs a Repository over exec. tok is the session's cache token,
// or nil for a pool-mode (autocommit) repository — pool-mode writes commit
// directly to the cache's committed map instead of staging.
func New(exec *dbexec.Executor, caches *cache.CountryCache, tok *cache.Token, cacheSeed uint64, logger log.Logger) *Repository {
	return &Repository{exec: exec, cache: caches, tok: tok, cacheSeed: cacheSeed, logger: logger}
}

// Save validates uniqueness against the cache, then inserts the main row,
// the _idx row and a version-0 _audit row, staging the index addition into
// the cache (spec.md §4.3).
func (r *Repository) Save(ctx context.Context, c domain.Country, auditLogID uuid.UUID) (domain.CountryIndex, error) {
	if _, exists := r.cache.GetByISO2(r.tok, c.ISO2.String()); exists {
		return domain.CountryIndex{}, personerr.Duplicate{EntityType: entityType, Field: "iso2", Value: c.ISO2.String()}
	}

	payload := encodePayload(c)
	contentHash := hashing.ContentHash(r.cacheSeed, payload)

	insertMain, args, err := sqrl.Insert("country").
		Columns("id", "iso2", "name_l1", "name_l2", "name_l3").
		Values(c.ID, c.ISO2.String(), nullableOptional(c.NameL1), optionalStr(c.NameL2), optionalStr(c.NameL3)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.CountryIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertMain, args...); err != nil {
		return domain.CountryIndex{}, personerr.TranslatePGError(err, entityType)
	}

	idx := domain.CountryIndex{ID: c.ID, ISO2: c.ISO2.String(), Version: 0, Hash: contentHash, IsActive: true}

	insertIdx, idxArgs, err := sqrl.Insert("country_idx").
		Columns("id", "iso2", "version", "hash", "is_active").
		Values(idx.ID, idx.ISO2, idx.Version, hashing.ToSigned(idx.Hash), idx.IsActive).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.CountryIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertIdx, idxArgs...); err != nil {
		return domain.CountryIndex{}, personerr.TranslatePGError(err, entityType)
	}

	if err := r.appendAudit(ctx, c.ID, 0, contentHash, payload, auditLogID, "insert"); err != nil {
		return domain.CountryIndex{}, err
	}

	r.stageOrCommitAdd(idx)

	return idx, nil
}

// Load reads the full current payload from the main table, bypassing the
// cache (spec.md §4.2: "load always reads the main table").
func (r *Repository) Load(ctx context.Context, id uuid.UUID) (domain.Country, error) {
	query, args, err := sqrl.Select("id", "iso2", "name_l1", "name_l2", "name_l3").
		From("country").
		Where(sqrl.Eq{"id": id}).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.Country{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	row := r.exec.QueryRowContext(ctx, query, args...)

	var (
		c              domain.Country
		iso2, nameL1   string
		nameL2, nameL3 sql.NullString
	)

	if err := row.Scan(&c.ID, &iso2, &nameL1, &nameL2, &nameL3); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Country{}, personerr.WrapNotFound(entityType, id)
		}

		return domain.Country{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	c.ISO2, _ = domain.NewRequiredBoundedString("iso2", iso2, domain.MaxISO2Len)
	c.NameL1, _ = domain.NewRequiredBoundedString("name_l1", nameL1, domain.MaxCountryNameLen)
	c.NameL2 = fromNullString("name_l2", nameL2, domain.MaxCountryNameLen)
	c.NameL3 = fromNullString("name_l3", nameL3, domain.MaxCountryNameLen)

	return c, nil
}

// FindByID returns the index row only, served from the cache.
func (r *Repository) FindByID(id uuid.UUID) (domain.CountryIndex, bool) {
	return r.cache.GetByPrimary(r.tok, id)
}

// FindByIDs returns the index rows found for ids, in no particular order.
func (r *Repository) FindByIDs(ids []uuid.UUID) []domain.CountryIndex {
	out := make([]domain.CountryIndex, 0, len(ids))

	for _, id := range ids {
		if idx, ok := r.cache.GetByPrimary(r.tok, id); ok {
			out = append(out, idx)
		}
	}

	return out
}

// ExistsByID reports whether id is present in the cache.
func (r *Repository) ExistsByID(id uuid.UUID) bool {
	return r.cache.ContainsPrimary(r.tok, id)
}

// ExistByIDs reports, per id in order, whether each is present.
func (r *Repository) ExistByIDs(ids []uuid.UUID) []bool {
	out := make([]bool, len(ids))
	for i, id := range ids {
		out[i] = r.cache.ContainsPrimary(r.tok, id)
	}

	return out
}

// FindByISO2 implements the domain-specific finder spec.md §4.3 names.
func (r *Repository) FindByISO2(iso2 string) (uuid.UUID, bool) {
	return r.cache.GetByISO2(r.tok, iso2)
}

// stageOrCommitAdd stages the index addition within a session, or commits
// it directly to the cache's global map in pool mode.
func (r *Repository) stageOrCommitAdd(idx domain.CountryIndex) {
	if r.tok != nil {
		r.cache.StageAdd(r.tok, idx)
		return
	}

	r.cache.Add(idx)
}

func (r *Repository) stageOrCommitRemove(id uuid.UUID) {
	if r.tok != nil {
		r.cache.StageRemove(r.tok, id)
		return
	}

	r.cache.Remove(id)
}

// appendAudit inserts a country_audit row tagged with reason so a consumer
// reading the audit trail can tell an ordinary update from a fix
// (SPEC_FULL.md §C, resolving spec.md §9's "fix vs update" open question:
// fix is an alias for update at the storage layer, distinguished only by
// this tag).
func (r *Repository) appendAudit(ctx context.Context, id uuid.UUID, version int64, hash uint64, payload []byte, auditLogID uuid.UUID, reason string) error {
	query, args, err := sqrl.Insert("country_audit").
		Columns("primary_id", "version", "hash", "payload", "audit_log_id", "recorded_at", "reason").
		Values(id, version, hashing.ToSigned(hash), payload, auditLogID, time.Now().UTC(), reason).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, query, args...); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	return nil
}

func encodePayload(c domain.Country) []byte {
	return []byte(fmt.Sprintf("iso2=%s;name_l1=%s;name_l2=%s;name_l3=%s",
		c.ISO2.String(), c.NameL1.String(), optionalStr(c.NameL2), optionalStr(c.NameL3)))
}

func optionalStr(b *domain.BoundedString) string {
	if b == nil {
		return ""
	}

	return b.String()
}

func nullableOptional(b domain.BoundedString) string { return b.String() }

func fromNullString(field string, ns sql.NullString, max int) *domain.BoundedString {
	if !ns.Valid {
		return nil
	}

	bs, _ := domain.NewBoundedString(field, ns.String, max)

	return &bs
}
