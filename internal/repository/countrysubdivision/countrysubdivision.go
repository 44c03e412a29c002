// Package countrysubdivision implements spec.md §4.3's repository contract
// for CountrySubdivision, including the "reject deletion while any
// Locality references it" dependents check. Structurally grounded on
// internal/repository/country — the same save/load/find/batch shape,
// generalized for a parent foreign key and a locality dependents check.
package countrysubdivision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/LerianStudio/person-data-store/internal/batch"
	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/dbexec"
	"github.com/LerianStudio/person-data-store/internal/domain"
	"github.com/LerianStudio/person-data-store/internal/hashing"
	"github.com/LerianStudio/person-data-store/internal/obs/log"
	"github.com/LerianStudio/person-data-store/internal/personerr"
)

const entityType = "CountrySubdivision"

// Repository is the CountrySubdivision repository (spec.md §4.3).
type Repository struct {
	exec         *dbexec.Executor
	cache        *cache.CountrySubdivisionCache
	localityDeps *cache.LocalityCache // used only to check dependents before delete
	tok          *cache.Token
	cacheSeed    uint64
	logger       log.Logger
}

// New constructs a Repository. localityDeps is the Locality cache this
// repository consults to enforce "must reject deletion while any Locality
// references it" (spec.md §3).
func New(exec *dbexec.Executor, caches *cache.CountrySubdivisionCache, localityDeps *cache.LocalityCache, tok *cache.Token, cacheSeed uint64, logger log.Logger) *Repository {
	return &Repository{exec: exec, cache: caches, localityDeps: localityDeps, tok: tok, cacheSeed: cacheSeed, logger: logger}
}

func (r *Repository) codeHash(code string) uint64 { return hashing.SecondaryKey(r.cacheSeed, code) }

// Save validates uniqueness of (country_id, code) against the cache before
// inserting main/_idx/_audit rows and staging the cache addition.
func (r *Repository) Save(ctx context.Context, cs domain.CountrySubdivision, auditLogID uuid.UUID) (domain.CountrySubdivisionIndex, error) {
	codeHash := r.codeHash(cs.Code.String())

	if _, exists := r.cache.GetByCode(r.tok, cs.CountryID, codeHash); exists {
		return domain.CountrySubdivisionIndex{}, personerr.Duplicate{EntityType: entityType, Field: "code", Value: cs.Code.String()}
	}

	payload := encodePayload(cs)
	contentHash := hashing.ContentHash(r.cacheSeed, payload)

	insertMain, args, err := sqrl.Insert("country_subdivision").
		Columns("id", "country_id", "code", "name_l1", "name_l2", "name_l3").
		Values(cs.ID, cs.CountryID, cs.Code.String(), cs.NameL1.String(), optionalStr(cs.NameL2), optionalStr(cs.NameL3)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.CountrySubdivisionIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertMain, args...); err != nil {
		return domain.CountrySubdivisionIndex{}, personerr.TranslatePGError(err, entityType)
	}

	idx := domain.CountrySubdivisionIndex{ID: cs.ID, CountryID: cs.CountryID, CodeHash: codeHash, Version: 0, Hash: contentHash}

	insertIdx, idxArgs, err := sqrl.Insert("country_subdivision_idx").
		Columns("id", "country_id", "code_hash", "version", "hash").
		Values(idx.ID, idx.CountryID, hashing.ToSigned(idx.CodeHash), idx.Version, hashing.ToSigned(idx.Hash)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.CountrySubdivisionIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertIdx, idxArgs...); err != nil {
		return domain.CountrySubdivisionIndex{}, personerr.TranslatePGError(err, entityType)
	}

	if err := r.appendAudit(ctx, cs.ID, 0, contentHash, payload, auditLogID); err != nil {
		return domain.CountrySubdivisionIndex{}, err
	}

	r.stageOrCommitAdd(idx)

	return idx, nil
}

// Load reads the full current payload from the main table.
func (r *Repository) Load(ctx context.Context, id uuid.UUID) (domain.CountrySubdivision, error) {
	query, args, err := sqrl.Select("id", "country_id", "code", "name_l1", "name_l2", "name_l3").
		From("country_subdivision").
		Where(sqrl.Eq{"id": id}).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.CountrySubdivision{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	row := r.exec.QueryRowContext(ctx, query, args...)

	var (
		cs             domain.CountrySubdivision
		code, nameL1   string
		nameL2, nameL3 sql.NullString
	)

	if err := row.Scan(&cs.ID, &cs.CountryID, &code, &nameL1, &nameL2, &nameL3); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CountrySubdivision{}, personerr.WrapNotFound(entityType, id)
		}

		return domain.CountrySubdivision{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	cs.Code, _ = domain.NewRequiredBoundedString("code", code, domain.MaxSubdivisionCodeLen)
	cs.NameL1, _ = domain.NewRequiredBoundedString("name_l1", nameL1, domain.MaxSubdivisionNameLen)
	cs.NameL2 = fromNullString("name_l2", nameL2, domain.MaxSubdivisionNameLen)
	cs.NameL3 = fromNullString("name_l3", nameL3, domain.MaxSubdivisionNameLen)

	return cs, nil
}

// FindByID returns the index row only, served from the cache.
func (r *Repository) FindByID(id uuid.UUID) (domain.CountrySubdivisionIndex, bool) {
	return r.cache.GetByPrimary(r.tok, id)
}

// FindByIDs returns the index rows found for ids.
func (r *Repository) FindByIDs(ids []uuid.UUID) []domain.CountrySubdivisionIndex {
	out := make([]domain.CountrySubdivisionIndex, 0, len(ids))

	for _, id := range ids {
		if idx, ok := r.cache.GetByPrimary(r.tok, id); ok {
			out = append(out, idx)
		}
	}

	return out
}

// ExistsByID reports whether id is present in the cache.
func (r *Repository) ExistsByID(id uuid.UUID) bool { return r.cache.ContainsPrimary(r.tok, id) }

// ExistByIDs reports, per id in order, whether each is present.
func (r *Repository) ExistByIDs(ids []uuid.UUID) []bool {
	out := make([]bool, len(ids))
	for i, id := range ids {
		out[i] = r.cache.ContainsPrimary(r.tok, id)
	}

	return out
}

// FindByCode implements find_by_code (unique within a country).
func (r *Repository) FindByCode(countryID uuid.UUID, code string) (uuid.UUID, bool) {
	return r.cache.GetByCode(r.tok, countryID, r.codeHash(code))
}

// FindIDsByCountryID implements the hierarchical find_ids_by_country_id finder.
func (r *Repository) FindIDsByCountryID(countryID uuid.UUID) []uuid.UUID {
	return r.cache.GetByCountryID(r.tok, countryID)
}

func (r *Repository) stageOrCommitAdd(idx domain.CountrySubdivisionIndex) {
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

func (r *Repository) appendAudit(ctx context.Context, id uuid.UUID, version int64, hash uint64, payload []byte, auditLogID uuid.UUID) error {
	query, args, err := sqrl.Insert("country_subdivision_audit").
		Columns("primary_id", "version", "hash", "payload", "audit_log_id", "recorded_at").
		Values(id, version, hashing.ToSigned(hash), payload, auditLogID, time.Now().UTC()).
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

func encodePayload(cs domain.CountrySubdivision) []byte {
	return []byte(fmt.Sprintf("country_id=%s;code=%s;name_l1=%s;name_l2=%s;name_l3=%s",
		cs.CountryID, cs.Code.String(), cs.NameL1.String(), optionalStr(cs.NameL2), optionalStr(cs.NameL3)))
}

func optionalStr(b *domain.BoundedString) string {
	if b == nil {
		return ""
	}

	return b.String()
}

func fromNullString(field string, ns sql.NullString, max int) *domain.BoundedString {
	if !ns.Valid {
		return nil
	}

	bs, _ := domain.NewBoundedString(field, ns.String, max)

	return &bs
}
