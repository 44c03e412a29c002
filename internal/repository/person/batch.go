package person

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/LerianStudio/person-data-store/internal/batch"
	"github.com/LerianStudio/person-data-store/internal/domain"
	"github.com/LerianStudio/person-data-store/internal/hashing"
	"github.com/LerianStudio/person-data-store/internal/personerr"
)

// Person's messaging_ids/messaging_types columns are themselves per-row
// arrays (spec.md §3's messaging slot list), and rows carry different
// numbers of slots — a jagged structure Postgres's native multi-dimensional
// arrays can't represent (they require equal-length sub-arrays). The bulk
// statements below work around this the way a text-encode-then-cast bulk
// load does: each row's slot list is rendered as a Postgres array literal
// string ("{id1,id2}"), the literals travel as one text[] bulk argument via
// unnest($k::text[]), and the per-row literal is cast back to uuid[]/text[]
// after unnesting. Every other column is a true per-row scalar and uses the
// same unnest($k::type[]) idiom as the internal/batch bulk.go helpers the
// other repositories use.
const (
	personBulkInsertMain = "INSERT INTO person (id, person_type, display_name, external_identifier, entity_reference_count, " +
		"organization_person_id, messaging_ids, messaging_types, department, location_id, duplicate_of_person_id) " +
		"SELECT unnest($1::uuid[]), unnest($2::text[]), unnest($3::text[]), unnest($4::text[]), unnest($5::bigint[]), " +
		"unnest($6::uuid[]), unnest($7::text[])::uuid[], unnest($8::text[])::text[], unnest($9::text[]), unnest($10::uuid[]), unnest($11::uuid[])"

	personBulkUpdateMain = "UPDATE person SET person_type = src.v_person_type, display_name = src.v_display_name, " +
		"external_identifier = src.v_external_identifier, entity_reference_count = src.v_entity_reference_count, " +
		"organization_person_id = src.v_organization_person_id, messaging_ids = src.v_messaging_ids, messaging_types = src.v_messaging_types, " +
		"department = src.v_department, location_id = src.v_location_id, duplicate_of_person_id = src.v_duplicate_of_person_id " +
		"FROM (SELECT unnest($1::uuid[]) AS v_id, unnest($2::text[]) AS v_person_type, unnest($3::text[]) AS v_display_name, " +
		"unnest($4::text[]) AS v_external_identifier, unnest($5::bigint[]) AS v_entity_reference_count, unnest($6::uuid[]) AS v_organization_person_id, " +
		"unnest($7::text[])::uuid[] AS v_messaging_ids, unnest($8::text[])::text[] AS v_messaging_types, unnest($9::text[]) AS v_department, " +
		"unnest($10::uuid[]) AS v_location_id, unnest($11::uuid[]) AS v_duplicate_of_person_id) AS src WHERE person.id = src.v_id"
)

var (
	personIdxInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "external_identifier_hash", SQLType: "bigint"},
		{Name: "organization_person_id", SQLType: "uuid"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
	}
	personAuditInsertCols = []batch.UnnestColumn{
		{Name: "primary_id", SQLType: "uuid"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
		{Name: "payload", SQLType: "bytea"},
		{Name: "audit_log_id", SQLType: "uuid"},
		{Name: "recorded_at", SQLType: "timestamptz"},
	}

	personBulkInsertIdx   = batch.BuildBulkInsert("person_idx", personIdxInsertCols)
	personBulkInsertAudit = batch.BuildBulkInsert("person_audit", personAuditInsertCols)

	personBulkUpdateIdx = batch.BuildBulkUpdate("person_idx",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "external_identifier_hash", SQLType: "bigint"},
			{Name: "organization_person_id", SQLType: "uuid"},
			{Name: "version", SQLType: "bigint"},
			{Name: "hash", SQLType: "bigint"},
		})

	personBulkDeleteIdx  = batch.BuildBulkDelete("person_idx", "id")
	personBulkDeleteMain = batch.BuildBulkDelete("person", "id")
)

type preparedPerson struct {
	index   int
	p       domain.Person
	payload []byte
	hash    uint64
}

func uuidArrayLiteral(ids []uuid.UUID) string {
	if len(ids) == 0 {
		return "{}"
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}

	return "{" + strings.Join(parts, ",") + "}"
}

func textArrayLiteral(vals []string) string {
	if len(vals) == 0 {
		return "{}"
	}

	parts := make([]string, len(vals))
	for i, v := range vals {
		escaped := strings.ReplaceAll(v, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		parts[i] = `"` + escaped + `"`
	}

	return "{" + strings.Join(parts, ",") + "}"
}

// SaveBatch inserts items in chunks, writing each chunk with one
// array-expansion bulk insert per table instead of one round trip per row
// (spec.md §4.4), re-validating every invariant Save checks per item before
// building the bulk statement.
func (r *Repository) SaveBatch(ctx context.Context, items []domain.Person, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	dupErrs := batch.FindDuplicateIndices(items, func(p domain.Person) uuid.UUID { return p.ID })

	result := batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.Person, offset int) []batch.ItemError {
		var errs []batch.ItemError

		kept := make([]preparedPerson, 0, len(chunk))
		externalHashes := make(map[uuid.UUID]*uint64, len(chunk))
		indices := make([]int, 0, len(chunk))

		for i, p := range chunk {
			if err := r.validate(ctx, p, uuid.Nil); err != nil {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: err})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			var externalHash *uint64

			if p.ExternalIdentifier != nil {
				h := hashing.SecondaryKey(r.cacheSeed, p.ExternalIdentifier.String())

				if _, exists := r.cache.GetByExternalIdentifierHash(r.tok, h); exists {
					errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.Duplicate{EntityType: entityType, Field: "external_identifier", Value: p.ExternalIdentifier.String()}})

					if !opts.ContinueOnError {
						return errs
					}

					continue
				}

				externalHash = &h
			}

			payload := encodePayload(p)
			kept = append(kept, preparedPerson{index: offset + i, p: p, payload: payload, hash: hashing.ContentHash(r.cacheSeed, payload)})
			externalHashes[p.ID] = externalHash
			indices = append(indices, offset+i)
		}

		if len(kept) == 0 {
			return errs
		}

		ids := make([]uuid.UUID, len(kept))
		personTypes := make([]string, len(kept))
		displayNames := make([]string, len(kept))
		externalIdentifiers := make([]string, len(kept))
		entityRefCounts := make([]int64, len(kept))
		orgIDs := make([]*uuid.UUID, len(kept))
		messagingIDLiterals := make([]string, len(kept))
		messagingTypeLiterals := make([]string, len(kept))
		departments := make([]string, len(kept))
		locationIDs := make([]*uuid.UUID, len(kept))
		duplicateOfIDs := make([]*uuid.UUID, len(kept))
		externalHashArgs := make([]*int64, len(kept))
		versions := make([]int64, len(kept))
		hashes := make([]int64, len(kept))

		for i, p := range kept {
			messagingIDs, messagingTypes := splitSlots(p.p.MessagingSlots)

			ids[i] = p.p.ID
			personTypes[i] = string(p.p.PersonType)
			displayNames[i] = p.p.DisplayName.String()
			externalIdentifiers[i] = optionalStr(p.p.ExternalIdentifier)
			entityRefCounts[i] = p.p.EntityReferenceCount
			orgIDs[i] = p.p.OrganizationPersonID
			messagingIDLiterals[i] = uuidArrayLiteral(messagingIDs)
			messagingTypeLiterals[i] = textArrayLiteral(messagingTypes)
			departments[i] = optionalStr(p.p.Department)
			locationIDs[i] = p.p.LocationID
			duplicateOfIDs[i] = p.p.DuplicateOfPersonID
			externalHashArgs[i] = signedPtr(externalHashes[p.p.ID])
			hashes[i] = hashing.ToSigned(p.hash)
		}

		if _, err := r.exec.ExecContext(ctx, personBulkInsertMain,
			pq.Array(ids), pq.Array(personTypes), pq.Array(displayNames), pq.Array(externalIdentifiers), pq.Array(entityRefCounts),
			pq.Array(orgIDs), pq.Array(messagingIDLiterals), pq.Array(messagingTypeLiterals), pq.Array(departments), pq.Array(locationIDs), pq.Array(duplicateOfIDs)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if _, err := r.exec.ExecContext(ctx, personBulkInsertIdx, pq.Array(ids), pq.Array(externalHashArgs), pq.Array(orgIDs), pq.Array(versions), pq.Array(hashes)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if err := r.bulkAppendAudit(ctx, ids, versions, hashes, kept, auditLogID); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		}

		for _, p := range kept {
			r.stageOrCommitAdd(domain.PersonIndex{ID: p.p.ID, ExternalIdentifierHash: externalHashes[p.p.ID], OrganizationPersonID: p.p.OrganizationPersonID, Version: 0, Hash: p.hash})
		}

		return errs
	})

	result.Errors = append(dupErrs, result.Errors...)

	return result
}

func (r *Repository) bulkAppendAudit(ctx context.Context, ids []uuid.UUID, versions, hashes []int64, kept []preparedPerson, auditLogID uuid.UUID) error {
	payloads := make([][]byte, len(kept))
	auditLogIDs := make([]uuid.UUID, len(kept))
	recordedAt := make([]time.Time, len(kept))

	now := time.Now().UTC()

	for i, p := range kept {
		payloads[i] = p.payload
		auditLogIDs[i] = auditLogID
		recordedAt[i] = now
	}

	if _, err := r.exec.ExecContext(ctx, personBulkInsertAudit, pq.Array(ids), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	return nil
}

func (r *Repository) LoadBatch(ctx context.Context, ids []uuid.UUID) ([]*domain.Person, batch.Result) {
	out := make([]*domain.Person, len(ids))

	var errs []batch.ItemError

	for i, id := range ids {
		p, err := r.Load(ctx, id)
		if err != nil {
			if _, ok := err.(personerr.NotFound); ok {
				continue
			}

			errs = append(errs, batch.ItemError{Index: i, Err: err})

			continue
		}

		out[i] = &p
	}

	return out, batch.Result{Errors: errs}
}

// UpdateBatch recomputes hashes, drops unchanged items, re-validates the
// acyclicity and duplicate-of invariants the same way Save does, and writes
// the surviving set with one array-expansion bulk UPDATE per table per
// chunk.
func (r *Repository) UpdateBatch(ctx context.Context, items []domain.Person, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	return batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.Person, offset int) []batch.ItemError {
		var errs []batch.ItemError

		kept := make([]preparedPerson, 0, len(chunk))
		priorVersions := make(map[uuid.UUID]int64, len(chunk))
		externalHashes := make(map[uuid.UUID]*uint64, len(chunk))
		indices := make([]int, 0, len(chunk))

		for i, p := range chunk {
			idx, ok := r.cache.GetByPrimary(r.tok, p.ID)
			if !ok {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.WrapNotFound(entityType, p.ID)})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			if err := r.validate(ctx, p, p.ID); err != nil {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: err})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			payload := encodePayload(p)
			newHash := hashing.ContentHash(r.cacheSeed, payload)

			if newHash == idx.Hash {
				continue
			}

			var externalHash *uint64
			if p.ExternalIdentifier != nil {
				h := hashing.SecondaryKey(r.cacheSeed, p.ExternalIdentifier.String())
				externalHash = &h
			}

			kept = append(kept, preparedPerson{index: offset + i, p: p, payload: payload, hash: newHash})
			priorVersions[p.ID] = idx.Version
			externalHashes[p.ID] = externalHash
			indices = append(indices, offset+i)
		}

		if err := r.bulkUpdate(ctx, kept, priorVersions, externalHashes, auditLogID); err != nil {
			errs = append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		}

		return errs
	})
}

func (r *Repository) bulkUpdate(ctx context.Context, kept []preparedPerson, priorVersions map[uuid.UUID]int64, externalHashes map[uuid.UUID]*uint64, auditLogID uuid.UUID) error {
	if len(kept) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(kept))
	personTypes := make([]string, len(kept))
	displayNames := make([]string, len(kept))
	externalIdentifiers := make([]string, len(kept))
	entityRefCounts := make([]int64, len(kept))
	orgIDs := make([]*uuid.UUID, len(kept))
	messagingIDLiterals := make([]string, len(kept))
	messagingTypeLiterals := make([]string, len(kept))
	departments := make([]string, len(kept))
	locationIDs := make([]*uuid.UUID, len(kept))
	duplicateOfIDs := make([]*uuid.UUID, len(kept))
	externalHashArgs := make([]*int64, len(kept))
	versions := make([]int64, len(kept))
	hashes := make([]int64, len(kept))

	for i, p := range kept {
		messagingIDs, messagingTypes := splitSlots(p.p.MessagingSlots)

		ids[i] = p.p.ID
		personTypes[i] = string(p.p.PersonType)
		displayNames[i] = p.p.DisplayName.String()
		externalIdentifiers[i] = optionalStr(p.p.ExternalIdentifier)
		entityRefCounts[i] = p.p.EntityReferenceCount
		orgIDs[i] = p.p.OrganizationPersonID
		messagingIDLiterals[i] = uuidArrayLiteral(messagingIDs)
		messagingTypeLiterals[i] = textArrayLiteral(messagingTypes)
		departments[i] = optionalStr(p.p.Department)
		locationIDs[i] = p.p.LocationID
		duplicateOfIDs[i] = p.p.DuplicateOfPersonID
		externalHashArgs[i] = signedPtr(externalHashes[p.p.ID])
		versions[i] = priorVersions[p.p.ID] + 1
		hashes[i] = hashing.ToSigned(p.hash)
	}

	if _, err := r.exec.ExecContext(ctx, personBulkUpdateMain,
		pq.Array(ids), pq.Array(personTypes), pq.Array(displayNames), pq.Array(externalIdentifiers), pq.Array(entityRefCounts),
		pq.Array(orgIDs), pq.Array(messagingIDLiterals), pq.Array(messagingTypeLiterals), pq.Array(departments), pq.Array(locationIDs), pq.Array(duplicateOfIDs)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	if _, err := r.exec.ExecContext(ctx, personBulkUpdateIdx, pq.Array(ids), pq.Array(externalHashArgs), pq.Array(orgIDs), pq.Array(versions), pq.Array(hashes)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	if err := r.bulkAppendAudit(ctx, ids, versions, hashes, kept, auditLogID); err != nil {
		return err
	}

	for _, p := range kept {
		r.stageOrCommitAdd(domain.PersonIndex{ID: p.p.ID, ExternalIdentifierHash: externalHashes[p.p.ID], OrganizationPersonID: p.p.OrganizationPersonID, Version: priorVersions[p.p.ID] + 1, Hash: p.hash})
	}

	return nil
}

// DeleteBatch removes _idx and main rows with one array-expansion bulk
// DELETE each per chunk, then appends one bulk tombstone audit INSERT.
// No dependents check runs here, unlike CountrySubdivision/Locality: a
// Person still referenced by an EntityReference, or by another Person's
// organization_person_id or duplicate_of_person_id, is not reported as
// HasDependents, and the bulk delete fails on that foreign key instead.
func (r *Repository) DeleteBatch(ctx context.Context, ids []uuid.UUID, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	return batch.Run(ctx, ids, opts, func(ctx context.Context, chunk []uuid.UUID, offset int) []batch.ItemError {
		type deletion struct {
			index        int
			id           uuid.UUID
			priorVersion int64
		}

		var errs []batch.ItemError

		kept := make([]deletion, 0, len(chunk))

		for i, id := range chunk {
			idx, ok := r.cache.GetByPrimary(r.tok, id)
			if !ok {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.WrapNotFound(entityType, id)})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			kept = append(kept, deletion{index: offset + i, id: id, priorVersion: idx.Version})
		}

		if len(kept) == 0 {
			return errs
		}

		indices := make([]int, len(kept))
		delIDs := make([]uuid.UUID, len(kept))

		for i, d := range kept {
			indices[i] = d.index
			delIDs[i] = d.id
		}

		if _, err := r.exec.ExecContext(ctx, personBulkDeleteIdx, pq.Array(delIDs)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if _, err := r.exec.ExecContext(ctx, personBulkDeleteMain, pq.Array(delIDs)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		versions := make([]int64, len(kept))
		hashes := make([]int64, len(kept))
		payloads := make([][]byte, len(kept))
		auditLogIDs := make([]uuid.UUID, len(kept))
		recordedAt := make([]time.Time, len(kept))

		now := time.Now().UTC()

		for i, d := range kept {
			versions[i] = d.priorVersion + 1
			auditLogIDs[i] = auditLogID
			recordedAt[i] = now
		}

		if _, err := r.exec.ExecContext(ctx, personBulkInsertAudit, pq.Array(delIDs), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt)); err != nil {
			errs = append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)

			return errs
		}

		for _, d := range kept {
			r.stageOrCommitRemove(d.id)
		}

		return errs
	})
}
