// Package locality implements spec.md §4.3's repository contract for
// Locality, structurally identical to internal/repository/countrysubdivision
// one level down the hierarchy (country_subdivision_id parent, code unique
// within that parent, dependents check against Location before delete).
package locality

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

const entityType = "Locality"

// Repository is the Locality repository (spec.md §4.3).
type Repository struct {
	exec         *dbexec.Executor
	cache        *cache.LocalityCache
	locationDeps *cache.LocationCache
	tok          *cache.Token
	cacheSeed    uint64
	logger       log.Logger
}

// New constructs a Repository. locationDeps lets this repository enforce a
// dependents check before deletion, mirroring CountrySubdivision's
// Locality check one level up the hierarchy.
func New(exec *dbexec.Executor, caches *cache.LocalityCache, locationDeps *cache.LocationCache, tok *cache.Token, cacheSeed uint64, logger log.Logger) *Repository {
	return &Repository{exec: exec, cache: caches, locationDeps: locationDeps, tok: tok, cacheSeed: cacheSeed, logger: logger}
}

func (r *Repository) codeHash(code string) uint64 { return hashing.SecondaryKey(r.cacheSeed, code) }

func (r *Repository) Save(ctx context.Context, l domain.Locality, auditLogID uuid.UUID) (domain.LocalityIndex, error) {
	codeHash := r.codeHash(l.Code.String())

	if _, exists := r.cache.GetByCode(r.tok, l.CountrySubdivisionID, codeHash); exists {
		return domain.LocalityIndex{}, personerr.Duplicate{EntityType: entityType, Field: "code", Value: l.Code.String()}
	}

	payload := encodePayload(l)
	contentHash := hashing.ContentHash(r.cacheSeed, payload)

	insertMain, args, err := sqrl.Insert("locality").
		Columns("id", "country_subdivision_id", "code", "name_l1", "name_l2", "name_l3").
		Values(l.ID, l.CountrySubdivisionID, l.Code.String(), l.NameL1.String(), optionalStr(l.NameL2), optionalStr(l.NameL3)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.LocalityIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertMain, args...); err != nil {
		return domain.LocalityIndex{}, personerr.TranslatePGError(err, entityType)
	}

	idx := domain.LocalityIndex{ID: l.ID, CountrySubdivisionID: l.CountrySubdivisionID, CodeHash: codeHash, Version: 0, Hash: contentHash}

	insertIdx, idxArgs, err := sqrl.Insert("locality_idx").
		Columns("id", "country_subdivision_id", "code_hash", "version", "hash").
		Values(idx.ID, idx.CountrySubdivisionID, hashing.ToSigned(idx.CodeHash), idx.Version, hashing.ToSigned(idx.Hash)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.LocalityIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertIdx, idxArgs...); err != nil {
		return domain.LocalityIndex{}, personerr.TranslatePGError(err, entityType)
	}

	if err := r.appendAudit(ctx, l.ID, 0, contentHash, payload, auditLogID); err != nil {
		return domain.LocalityIndex{}, err
	}

	r.stageOrCommitAdd(idx)

	return idx, nil
}

func (r *Repository) Load(ctx context.Context, id uuid.UUID) (domain.Locality, error) {
	query, args, err := sqrl.Select("id", "country_subdivision_id", "code", "name_l1", "name_l2", "name_l3").
		From("locality").
		Where(sqrl.Eq{"id": id}).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.Locality{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	row := r.exec.QueryRowContext(ctx, query, args...)

	var (
		l              domain.Locality
		code, nameL1   string
		nameL2, nameL3 sql.NullString
	)

	if err := row.Scan(&l.ID, &l.CountrySubdivisionID, &code, &nameL1, &nameL2, &nameL3); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Locality{}, personerr.WrapNotFound(entityType, id)
		}

		return domain.Locality{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	l.Code, _ = domain.NewRequiredBoundedString("code", code, domain.MaxLocalityCodeLen)
	l.NameL1, _ = domain.NewRequiredBoundedString("name_l1", nameL1, domain.MaxLocalityNameLen)
	l.NameL2 = fromNullString("name_l2", nameL2, domain.MaxLocalityNameLen)
	l.NameL3 = fromNullString("name_l3", nameL3, domain.MaxLocalityNameLen)

	return l, nil
}

func (r *Repository) FindByID(id uuid.UUID) (domain.LocalityIndex, bool) {
	return r.cache.GetByPrimary(r.tok, id)
}

func (r *Repository) FindByIDs(ids []uuid.UUID) []domain.LocalityIndex {
	out := make([]domain.LocalityIndex, 0, len(ids))

	for _, id := range ids {
		if idx, ok := r.cache.GetByPrimary(r.tok, id); ok {
			out = append(out, idx)
		}
	}

	return out
}

func (r *Repository) ExistsByID(id uuid.UUID) bool { return r.cache.ContainsPrimary(r.tok, id) }

func (r *Repository) ExistByIDs(ids []uuid.UUID) []bool {
	out := make([]bool, len(ids))
	for i, id := range ids {
		out[i] = r.cache.ContainsPrimary(r.tok, id)
	}

	return out
}

// FindByCode implements find_by_code (unique within a subdivision).
func (r *Repository) FindByCode(subdivisionID uuid.UUID, code string) (uuid.UUID, bool) {
	return r.cache.GetByCode(r.tok, subdivisionID, r.codeHash(code))
}

// FindIDsByCountrySubdivisionID implements the hierarchical child finder.
func (r *Repository) FindIDsByCountrySubdivisionID(subdivisionID uuid.UUID) []uuid.UUID {
	return r.cache.GetByCountrySubdivisionID(r.tok, subdivisionID)
}

func (r *Repository) stageOrCommitAdd(idx domain.LocalityIndex) {
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
	query, args, err := sqrl.Insert("locality_audit").
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

func encodePayload(l domain.Locality) []byte {
	return []byte(fmt.Sprintf("country_subdivision_id=%s;code=%s;name_l1=%s;name_l2=%s;name_l3=%s",
		l.CountrySubdivisionID, l.Code.String(), l.NameL1.String(), optionalStr(l.NameL2), optionalStr(l.NameL3)))
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
