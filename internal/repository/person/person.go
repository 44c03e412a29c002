// Package person implements spec.md §4.3's repository contract for Person.
// Person is the one mutable entity in the store and the only one with two
// self-reference invariants: organization_person_id is checked by a cache
// walk bounded by domain.MaxOrganizationChainDepth, and
// duplicate_of_person_id by a single-hop check that its target is not
// itself a duplicate.
package person

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/dbexec"
	"github.com/LerianStudio/person-data-store/internal/domain"
	"github.com/LerianStudio/person-data-store/internal/hashing"
	"github.com/LerianStudio/person-data-store/internal/obs/log"
	"github.com/LerianStudio/person-data-store/internal/personerr"
)

const entityType = "Person"

// Repository is the Person repository (spec.md §4.3).
type Repository struct {
	exec      *dbexec.Executor
	cache     *cache.PersonCache
	tok       *cache.Token
	cacheSeed uint64
	logger    log.Logger
}

// New constructs a Repository.
func New(exec *dbexec.Executor, caches *cache.PersonCache, tok *cache.Token, cacheSeed uint64, logger log.Logger) *Repository {
	return &Repository{exec: exec, cache: caches, tok: tok, cacheSeed: cacheSeed, logger: logger}
}

// Save validates spec.md §3's Person invariants — messaging slot cap,
// external-identifier uniqueness, organization acyclicity, duplicate_of
// pointing only at non-duplicates — before inserting.
func (r *Repository) Save(ctx context.Context, p domain.Person, auditLogID uuid.UUID) (domain.PersonIndex, error) {
	if err := r.validate(ctx, p, uuid.Nil); err != nil {
		return domain.PersonIndex{}, err
	}

	var externalHash *uint64

	if p.ExternalIdentifier != nil {
		h := hashing.SecondaryKey(r.cacheSeed, p.ExternalIdentifier.String())

		if _, exists := r.cache.GetByExternalIdentifierHash(r.tok, h); exists {
			return domain.PersonIndex{}, personerr.Duplicate{EntityType: entityType, Field: "external_identifier", Value: p.ExternalIdentifier.String()}
		}

		externalHash = &h
	}

	payload := encodePayload(p)
	contentHash := hashing.ContentHash(r.cacheSeed, payload)

	messagingIDs, messagingTypes := splitSlots(p.MessagingSlots)

	insertMain, args, err := sqrl.Insert("person").
		Columns("id", "person_type", "display_name", "external_identifier", "entity_reference_count",
			"organization_person_id", "messaging_ids", "messaging_types", "department", "location_id", "duplicate_of_person_id").
		Values(p.ID, string(p.PersonType), p.DisplayName.String(), optionalStr(p.ExternalIdentifier), p.EntityReferenceCount,
			p.OrganizationPersonID, pq.Array(messagingIDs), pq.Array(messagingTypes), optionalStr(p.Department), p.LocationID, p.DuplicateOfPersonID).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.PersonIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertMain, args...); err != nil {
		return domain.PersonIndex{}, personerr.TranslatePGError(err, entityType)
	}

	idx := domain.PersonIndex{ID: p.ID, ExternalIdentifierHash: externalHash, OrganizationPersonID: p.OrganizationPersonID, Version: 0, Hash: contentHash}

	insertIdx, idxArgs, err := sqrl.Insert("person_idx").
		Columns("id", "external_identifier_hash", "organization_person_id", "version", "hash").
		Values(idx.ID, signedPtr(idx.ExternalIdentifierHash), idx.OrganizationPersonID, idx.Version, hashing.ToSigned(idx.Hash)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.PersonIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertIdx, idxArgs...); err != nil {
		return domain.PersonIndex{}, personerr.TranslatePGError(err, entityType)
	}

	if err := r.appendAudit(ctx, p.ID, 0, contentHash, payload, auditLogID); err != nil {
		return domain.PersonIndex{}, err
	}

	r.stageOrCommitAdd(idx)

	return idx, nil
}

// validate enforces the messaging-slot cap, organization acyclicity, and
// duplicate_of_person_id's "points only at non-duplicates" rule. selfID is
// uuid.Nil on insert (the candidate id cannot yet appear in any chain) and
// the updated row's own id on update (so it can detect a chain that loops
// back to itself).
func (r *Repository) validate(ctx context.Context, p domain.Person, selfID uuid.UUID) error {
	if len(p.MessagingSlots) > domain.MaxPersonMessagingSlots {
		return personerr.InvalidInput{Field: "messaging_slots", Reason: fmt.Sprintf("at most %d slots", domain.MaxPersonMessagingSlots)}
	}

	if p.OrganizationPersonID != nil {
		if *p.OrganizationPersonID == p.ID {
			return personerr.InvalidInput{Field: "organization_person_id", Reason: "cycle"}
		}

		if !r.cache.ContainsPrimary(r.tok, *p.OrganizationPersonID) {
			return personerr.ReferencedParentMissing{EntityType: entityType, Field: "organization_person_id", ParentID: *p.OrganizationPersonID}
		}

		if err := r.walkOrganizationChain(p.ID, *p.OrganizationPersonID); err != nil {
			return err
		}
	}

	if p.DuplicateOfPersonID != nil {
		if *p.DuplicateOfPersonID == p.ID {
			return personerr.InvalidInput{Field: "duplicate_of_person_id", Reason: "cycle"}
		}

		target, err := r.Load(ctx, *p.DuplicateOfPersonID)
		if err != nil {
			if _, ok := err.(personerr.NotFound); ok {
				return personerr.ReferencedParentMissing{EntityType: entityType, Field: "duplicate_of_person_id", ParentID: *p.DuplicateOfPersonID}
			}

			return err
		}

		if target.DuplicateOfPersonID != nil {
			return personerr.InvalidInput{Field: "duplicate_of_person_id", Reason: "target is itself a duplicate"}
		}
	}

	return nil
}

// walkOrganizationChain follows organization_person_id up from start,
// failing if selfID is encountered (a cycle) within
// domain.MaxOrganizationChainDepth hops.
func (r *Repository) walkOrganizationChain(selfID, start uuid.UUID) error {
	current := start

	for depth := 0; depth < domain.MaxOrganizationChainDepth; depth++ {
		if current == selfID {
			return personerr.InvalidInput{Field: "organization_person_id", Reason: "cycle"}
		}

		idx, ok := r.cache.GetByPrimary(r.tok, current)
		if !ok || idx.OrganizationPersonID == nil {
			return nil
		}

		current = *idx.OrganizationPersonID
	}

	return personerr.InvalidInput{Field: "organization_person_id", Reason: "chain exceeds maximum depth"}
}

func (r *Repository) Load(ctx context.Context, id uuid.UUID) (domain.Person, error) {
	query, args, err := sqrl.Select("id", "person_type", "display_name", "external_identifier", "entity_reference_count",
		"organization_person_id", "messaging_ids", "messaging_types", "department", "location_id", "duplicate_of_person_id").
		From("person").
		Where(sqrl.Eq{"id": id}).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.Person{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	row := r.exec.QueryRowContext(ctx, query, args...)

	var (
		p                                         domain.Person
		personType, displayName                   string
		externalIdentifier, department             sql.NullString
		orgID, locationID, duplicateOfID          uuid.NullUUID
		messagingIDs                              []uuid.UUID
		messagingTypes                             []string
	)

	if err := row.Scan(&p.ID, &personType, &displayName, &externalIdentifier, &p.EntityReferenceCount,
		&orgID, pq.Array(&messagingIDs), pq.Array(&messagingTypes), &department, &locationID, &duplicateOfID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Person{}, personerr.WrapNotFound(entityType, id)
		}

		return domain.Person{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	p.PersonType = domain.PersonType(personType)
	p.DisplayName, _ = domain.NewRequiredBoundedString("display_name", displayName, domain.MaxPersonDisplayNameLen)
	p.ExternalIdentifier = fromNullString("external_identifier", externalIdentifier, domain.MaxExternalIdentifierLen)
	p.Department = fromNullString("department", department, domain.MaxDepartmentLen)
	p.MessagingSlots = joinSlots(messagingIDs, messagingTypes)

	if orgID.Valid {
		id := orgID.UUID
		p.OrganizationPersonID = &id
	}

	if locationID.Valid {
		id := locationID.UUID
		p.LocationID = &id
	}

	if duplicateOfID.Valid {
		id := duplicateOfID.UUID
		p.DuplicateOfPersonID = &id
	}

	return p, nil
}

func (r *Repository) FindByID(id uuid.UUID) (domain.PersonIndex, bool) {
	return r.cache.GetByPrimary(r.tok, id)
}

func (r *Repository) FindByIDs(ids []uuid.UUID) []domain.PersonIndex {
	out := make([]domain.PersonIndex, 0, len(ids))

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

// FindByExternalIdentifier implements get_by_external_identifier.
func (r *Repository) FindByExternalIdentifier(externalIdentifier string) (uuid.UUID, bool) {
	return r.cache.GetByExternalIdentifierHash(r.tok, hashing.SecondaryKey(r.cacheSeed, externalIdentifier))
}

// FindIDsByOrganizationPersonID implements the hierarchical child finder
// used to enumerate an organization's direct members.
func (r *Repository) FindIDsByOrganizationPersonID(orgID uuid.UUID) []uuid.UUID {
	return r.cache.GetByOrganizationPersonID(r.tok, orgID)
}

func (r *Repository) stageOrCommitAdd(idx domain.PersonIndex) {
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
	query, args, err := sqrl.Insert("person_audit").
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

func encodePayload(p domain.Person) []byte {
	return []byte(fmt.Sprintf(
		"person_type=%s;display_name=%s;external_identifier=%s;entity_reference_count=%d;organization_person_id=%s;messaging_slots=%s;department=%s;location_id=%s;duplicate_of_person_id=%s",
		p.PersonType, p.DisplayName.String(), optionalStr(p.ExternalIdentifier), p.EntityReferenceCount,
		optionalUUID(p.OrganizationPersonID), encodeSlots(p.MessagingSlots), optionalStr(p.Department),
		optionalUUID(p.LocationID), optionalUUID(p.DuplicateOfPersonID)))
}

func encodeSlots(slots []domain.MessagingSlot) string {
	out := ""
	for i, s := range slots {
		if i > 0 {
			out += ","
		}

		out += fmt.Sprintf("%s:%s", s.MessagingID, s.MessagingType)
	}

	return out
}

func splitSlots(slots []domain.MessagingSlot) ([]uuid.UUID, []string) {
	ids := make([]uuid.UUID, len(slots))
	types := make([]string, len(slots))

	for i, s := range slots {
		ids[i] = s.MessagingID
		types[i] = string(s.MessagingType)
	}

	return ids, types
}

func joinSlots(ids []uuid.UUID, types []string) []domain.MessagingSlot {
	n := len(ids)
	if len(types) < n {
		n = len(types)
	}

	slots := make([]domain.MessagingSlot, n)
	for i := 0; i < n; i++ {
		slots[i] = domain.MessagingSlot{MessagingID: ids[i], MessagingType: domain.MessagingType(types[i])}
	}

	return slots
}

func optionalStr(b *domain.BoundedString) string {
	if b == nil {
		return ""
	}

	return b.String()
}

func optionalUUID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}

	return id.String()
}

func signedPtr(h *uint64) *int64 {
	if h == nil {
		return nil
	}

	s := hashing.ToSigned(*h)

	return &s
}

func fromNullString(field string, ns sql.NullString, max int) *domain.BoundedString {
	if !ns.Valid {
		return nil
	}

	bs, _ := domain.NewBoundedString(field, ns.String, max)

	return &bs
}
