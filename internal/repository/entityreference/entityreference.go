// Package entityreference implements spec.md §4.3's repository contract
// for EntityReference, the only entity keyed by a three-part unique tuple
// (person_id, entity_role, reference_external_id) rather than a single
// secondary field. Structurally grounded on internal/repository/locality's
// parent-scoped uniqueness check, generalized to a role-qualified key.
package entityreference

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

const entityType = "EntityReference"

// Repository is the EntityReference repository (spec.md §4.3).
type Repository struct {
	exec       *dbexec.Executor
	cache      *cache.EntityReferenceCache
	personDeps *cache.PersonCache // used only to check person_id exists at write time
	tok        *cache.Token
	cacheSeed  uint64
	logger     log.Logger
}

// New constructs a Repository. personDeps lets Save verify person_id
// resolves to a live Person (spec.md §3, "every foreign key resolves to a
// live record at commit time").
func New(exec *dbexec.Executor, caches *cache.EntityReferenceCache, personDeps *cache.PersonCache, tok *cache.Token, cacheSeed uint64, logger log.Logger) *Repository {
	return &Repository{exec: exec, cache: caches, personDeps: personDeps, tok: tok, cacheSeed: cacheSeed, logger: logger}
}

func (r *Repository) extIDHash(extID string) uint64 { return hashing.SecondaryKey(r.cacheSeed, extID) }

// Save validates person_id exists and the (person_id, entity_role,
// reference_external_id) triple is unique before inserting.
func (r *Repository) Save(ctx context.Context, er domain.EntityReference, auditLogID uuid.UUID) (domain.EntityReferenceIndex, error) {
	if !r.personDeps.ContainsPrimary(r.tok, er.PersonID) {
		return domain.EntityReferenceIndex{}, personerr.ReferencedParentMissing{EntityType: entityType, Field: "person_id", ParentID: er.PersonID}
	}

	extHash := r.extIDHash(er.ReferenceExternalID.String())

	if _, exists := r.cache.GetByTriple(r.tok, er.PersonID, er.EntityRole, extHash); exists {
		return domain.EntityReferenceIndex{}, personerr.Duplicate{
			EntityType: entityType,
			Field:      "(person_id, entity_role, reference_external_id)",
			Value:      fmt.Sprintf("%s/%s/%s", er.PersonID, er.EntityRole, er.ReferenceExternalID.String()),
		}
	}

	payload := encodePayload(er)
	contentHash := hashing.ContentHash(r.cacheSeed, payload)

	insertMain, args, err := sqrl.Insert("entity_reference").
		Columns("id", "person_id", "entity_role", "reference_external_id", "detail_line1", "detail_line2", "detail_line3").
		Values(er.ID, er.PersonID, string(er.EntityRole), er.ReferenceExternalID.String(),
			optionalStr(er.DetailLine1), optionalStr(er.DetailLine2), optionalStr(er.DetailLine3)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.EntityReferenceIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertMain, args...); err != nil {
		return domain.EntityReferenceIndex{}, personerr.TranslatePGError(err, entityType)
	}

	idx := domain.EntityReferenceIndex{
		ID: er.ID, PersonID: er.PersonID, EntityRole: er.EntityRole,
		ReferenceExternalIDHash: extHash, Version: 0, Hash: contentHash,
	}

	insertIdx, idxArgs, err := sqrl.Insert("entity_reference_idx").
		Columns("id", "person_id", "entity_role", "reference_external_id_hash", "version", "hash").
		Values(idx.ID, idx.PersonID, string(idx.EntityRole), hashing.ToSigned(idx.ReferenceExternalIDHash), idx.Version, hashing.ToSigned(idx.Hash)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.EntityReferenceIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertIdx, idxArgs...); err != nil {
		return domain.EntityReferenceIndex{}, personerr.TranslatePGError(err, entityType)
	}

	if err := r.appendAudit(ctx, er.ID, 0, contentHash, payload, auditLogID); err != nil {
		return domain.EntityReferenceIndex{}, err
	}

	r.stageOrCommitAdd(idx)

	return idx, nil
}

func (r *Repository) Load(ctx context.Context, id uuid.UUID) (domain.EntityReference, error) {
	query, args, err := sqrl.Select("id", "person_id", "entity_role", "reference_external_id", "detail_line1", "detail_line2", "detail_line3").
		From("entity_reference").
		Where(sqrl.Eq{"id": id}).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.EntityReference{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	row := r.exec.QueryRowContext(ctx, query, args...)

	var (
		er                                        domain.EntityReference
		entityRole, referenceExternalID            string
		detailLine1, detailLine2, detailLine3      sql.NullString
	)

	if err := row.Scan(&er.ID, &er.PersonID, &entityRole, &referenceExternalID, &detailLine1, &detailLine2, &detailLine3); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EntityReference{}, personerr.WrapNotFound(entityType, id)
		}

		return domain.EntityReference{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	er.EntityRole = domain.EntityRole(entityRole)
	er.ReferenceExternalID, _ = domain.NewRequiredBoundedString("reference_external_id", referenceExternalID, domain.MaxEntityReferenceExtLen)
	er.DetailLine1 = fromNullString("detail_line1", detailLine1, domain.MaxEntityReferenceLineLen)
	er.DetailLine2 = fromNullString("detail_line2", detailLine2, domain.MaxEntityReferenceLineLen)
	er.DetailLine3 = fromNullString("detail_line3", detailLine3, domain.MaxEntityReferenceLineLen)

	return er, nil
}

func (r *Repository) FindByID(id uuid.UUID) (domain.EntityReferenceIndex, bool) {
	return r.cache.GetByPrimary(r.tok, id)
}

func (r *Repository) FindByIDs(ids []uuid.UUID) []domain.EntityReferenceIndex {
	out := make([]domain.EntityReferenceIndex, 0, len(ids))

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

// FindByTriple implements find_by_reference_external_id (unique per
// person_id/entity_role).
func (r *Repository) FindByTriple(personID uuid.UUID, role domain.EntityRole, referenceExternalID string) (uuid.UUID, bool) {
	return r.cache.GetByTriple(r.tok, personID, role, r.extIDHash(referenceExternalID))
}

// FindIDsByPersonID implements get_by_person_id.
func (r *Repository) FindIDsByPersonID(personID uuid.UUID) []uuid.UUID {
	return r.cache.GetByPersonID(r.tok, personID)
}

func (r *Repository) stageOrCommitAdd(idx domain.EntityReferenceIndex) {
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
	query, args, err := sqrl.Insert("entity_reference_audit").
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

func encodePayload(er domain.EntityReference) []byte {
	return []byte(fmt.Sprintf("person_id=%s;entity_role=%s;reference_external_id=%s;detail_line1=%s;detail_line2=%s;detail_line3=%s",
		er.PersonID, er.EntityRole, er.ReferenceExternalID.String(), optionalStr(er.DetailLine1), optionalStr(er.DetailLine2), optionalStr(er.DetailLine3)))
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
