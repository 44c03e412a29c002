package entityreference

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/LerianStudio/person-data-store/internal/batch"
	"github.com/LerianStudio/person-data-store/internal/domain"
	"github.com/LerianStudio/person-data-store/internal/hashing"
	"github.com/LerianStudio/person-data-store/internal/personerr"
)

var (
	entityReferenceInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "person_id", SQLType: "uuid"},
		{Name: "entity_role", SQLType: "text"},
		{Name: "reference_external_id", SQLType: "text"},
		{Name: "detail_line1", SQLType: "text"},
		{Name: "detail_line2", SQLType: "text"},
		{Name: "detail_line3", SQLType: "text"},
	}
	entityReferenceIdxInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "person_id", SQLType: "uuid"},
		{Name: "entity_role", SQLType: "text"},
		{Name: "reference_external_id_hash", SQLType: "bigint"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
	}
	entityReferenceAuditInsertCols = []batch.UnnestColumn{
		{Name: "primary_id", SQLType: "uuid"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
		{Name: "payload", SQLType: "bytea"},
		{Name: "audit_log_id", SQLType: "uuid"},
		{Name: "recorded_at", SQLType: "timestamptz"},
	}

	entityReferenceBulkInsertMain  = batch.BuildBulkInsert("entity_reference", entityReferenceInsertCols)
	entityReferenceBulkInsertIdx   = batch.BuildBulkInsert("entity_reference_idx", entityReferenceIdxInsertCols)
	entityReferenceBulkInsertAudit = batch.BuildBulkInsert("entity_reference_audit", entityReferenceAuditInsertCols)

	entityReferenceBulkUpdateMain = batch.BuildBulkUpdate("entity_reference",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "detail_line1", SQLType: "text"},
			{Name: "detail_line2", SQLType: "text"},
			{Name: "detail_line3", SQLType: "text"},
		})
	entityReferenceBulkUpdateIdx = batch.BuildBulkUpdate("entity_reference_idx",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "version", SQLType: "bigint"},
			{Name: "hash", SQLType: "bigint"},
		})

	entityReferenceBulkDeleteIdx  = batch.BuildBulkDelete("entity_reference_idx", "id")
	entityReferenceBulkDeleteMain = batch.BuildBulkDelete("entity_reference", "id")
)

type preparedEntityReference struct {
	index   int
	er      domain.EntityReference
	payload []byte
	hash    uint64
}

// SaveBatch inserts items in chunks, writing each chunk with one
// array-expansion bulk insert per table instead of one round trip per row
// (spec.md §4.4), preserving Save's person_id existence check and
// (person_id, entity_role, reference_external_id) uniqueness check per item.
func (r *Repository) SaveBatch(ctx context.Context, items []domain.EntityReference, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	dupErrs := batch.FindDuplicateIndices(items, func(er domain.EntityReference) uuid.UUID { return er.ID })

	result := batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.EntityReference, offset int) []batch.ItemError {
		var errs []batch.ItemError

		kept := make([]preparedEntityReference, 0, len(chunk))
		extHashes := make(map[uuid.UUID]uint64, len(chunk))
		indices := make([]int, 0, len(chunk))

		for i, er := range chunk {
			if !r.personDeps.ContainsPrimary(r.tok, er.PersonID) {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.ReferencedParentMissing{EntityType: entityType, Field: "person_id", ParentID: er.PersonID}})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			extHash := r.extIDHash(er.ReferenceExternalID.String())

			if _, exists := r.cache.GetByTriple(r.tok, er.PersonID, er.EntityRole, extHash); exists {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.Duplicate{
					EntityType: entityType,
					Field:      "(person_id, entity_role, reference_external_id)",
					Value:      er.PersonID.String() + "/" + string(er.EntityRole) + "/" + er.ReferenceExternalID.String(),
				}})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			payload := encodePayload(er)
			kept = append(kept, preparedEntityReference{index: offset + i, er: er, payload: payload, hash: hashing.ContentHash(r.cacheSeed, payload)})
			extHashes[er.ID] = extHash
			indices = append(indices, offset+i)
		}

		if len(kept) == 0 {
			return errs
		}

		ids := make([]uuid.UUID, len(kept))
		personIDs := make([]uuid.UUID, len(kept))
		roles := make([]string, len(kept))
		extIDs := make([]string, len(kept))
		line1s := make([]string, len(kept))
		line2s := make([]string, len(kept))
		line3s := make([]string, len(kept))
		extHashArgs := make([]int64, len(kept))
		versions := make([]int64, len(kept))
		hashes := make([]int64, len(kept))

		for i, p := range kept {
			ids[i] = p.er.ID
			personIDs[i] = p.er.PersonID
			roles[i] = string(p.er.EntityRole)
			extIDs[i] = p.er.ReferenceExternalID.String()
			line1s[i] = optionalStr(p.er.DetailLine1)
			line2s[i] = optionalStr(p.er.DetailLine2)
			line3s[i] = optionalStr(p.er.DetailLine3)
			extHashArgs[i] = hashing.ToSigned(extHashes[p.er.ID])
			hashes[i] = hashing.ToSigned(p.hash)
		}

		if _, err := r.exec.ExecContext(ctx, entityReferenceBulkInsertMain,
			pq.Array(ids), pq.Array(personIDs), pq.Array(roles), pq.Array(extIDs), pq.Array(line1s), pq.Array(line2s), pq.Array(line3s)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if _, err := r.exec.ExecContext(ctx, entityReferenceBulkInsertIdx, pq.Array(ids), pq.Array(personIDs), pq.Array(roles), pq.Array(extHashArgs), pq.Array(versions), pq.Array(hashes)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if err := r.bulkAppendAudit(ctx, ids, versions, hashes, kept, auditLogID); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		}

		for _, p := range kept {
			r.stageOrCommitAdd(domain.EntityReferenceIndex{
				ID: p.er.ID, PersonID: p.er.PersonID, EntityRole: p.er.EntityRole,
				ReferenceExternalIDHash: extHashes[p.er.ID], Version: 0, Hash: p.hash,
			})
		}

		return errs
	})

	result.Errors = append(dupErrs, result.Errors...)

	return result
}

func (r *Repository) bulkAppendAudit(ctx context.Context, ids []uuid.UUID, versions, hashes []int64, kept []preparedEntityReference, auditLogID uuid.UUID) error {
	payloads := make([][]byte, len(kept))
	auditLogIDs := make([]uuid.UUID, len(kept))
	recordedAt := make([]time.Time, len(kept))

	now := time.Now().UTC()

	for i, p := range kept {
		payloads[i] = p.payload
		auditLogIDs[i] = auditLogID
		recordedAt[i] = now
	}

	if _, err := r.exec.ExecContext(ctx, entityReferenceBulkInsertAudit, pq.Array(ids), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	return nil
}

func (r *Repository) LoadBatch(ctx context.Context, ids []uuid.UUID) ([]*domain.EntityReference, batch.Result) {
	out := make([]*domain.EntityReference, len(ids))

	var errs []batch.ItemError

	for i, id := range ids {
		er, err := r.Load(ctx, id)
		if err != nil {
			if _, ok := err.(personerr.NotFound); ok {
				continue
			}

			errs = append(errs, batch.ItemError{Index: i, Err: err})

			continue
		}

		out[i] = &er
	}

	return out, batch.Result{Errors: errs}
}

// UpdateBatch recomputes hashes, drops unchanged items, and writes the
// surviving set with one array-expansion bulk UPDATE per table per chunk.
// Only detail_line1/2/3 are mutable (spec.md §3: the unique triple is
// immutable once set).
func (r *Repository) UpdateBatch(ctx context.Context, items []domain.EntityReference, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	return batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.EntityReference, offset int) []batch.ItemError {
		var errs []batch.ItemError

		kept := make([]preparedEntityReference, 0, len(chunk))
		priorVersions := make(map[uuid.UUID]int64, len(chunk))
		priors := make(map[uuid.UUID]domain.EntityReferenceIndex, len(chunk))
		indices := make([]int, 0, len(chunk))

		for i, er := range chunk {
			idx, ok := r.cache.GetByPrimary(r.tok, er.ID)
			if !ok {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.WrapNotFound(entityType, er.ID)})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			payload := encodePayload(er)
			newHash := hashing.ContentHash(r.cacheSeed, payload)

			if newHash == idx.Hash {
				continue
			}

			kept = append(kept, preparedEntityReference{index: offset + i, er: er, payload: payload, hash: newHash})
			priorVersions[er.ID] = idx.Version
			priors[er.ID] = idx
			indices = append(indices, offset+i)
		}

		if err := r.bulkUpdate(ctx, kept, priorVersions, priors, auditLogID); err != nil {
			errs = append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		}

		return errs
	})
}

func (r *Repository) bulkUpdate(ctx context.Context, kept []preparedEntityReference, priorVersions map[uuid.UUID]int64, priors map[uuid.UUID]domain.EntityReferenceIndex, auditLogID uuid.UUID) error {
	if len(kept) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(kept))
	line1s := make([]string, len(kept))
	line2s := make([]string, len(kept))
	line3s := make([]string, len(kept))
	versions := make([]int64, len(kept))
	hashes := make([]int64, len(kept))

	for i, p := range kept {
		ids[i] = p.er.ID
		line1s[i] = optionalStr(p.er.DetailLine1)
		line2s[i] = optionalStr(p.er.DetailLine2)
		line3s[i] = optionalStr(p.er.DetailLine3)
		versions[i] = priorVersions[p.er.ID] + 1
		hashes[i] = hashing.ToSigned(p.hash)
	}

	if _, err := r.exec.ExecContext(ctx, entityReferenceBulkUpdateMain, pq.Array(ids), pq.Array(line1s), pq.Array(line2s), pq.Array(line3s)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	if _, err := r.exec.ExecContext(ctx, entityReferenceBulkUpdateIdx, pq.Array(ids), pq.Array(versions), pq.Array(hashes)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	if err := r.bulkAppendAudit(ctx, ids, versions, hashes, kept, auditLogID); err != nil {
		return err
	}

	for _, p := range kept {
		prior := priors[p.er.ID]
		r.stageOrCommitAdd(domain.EntityReferenceIndex{
			ID: p.er.ID, PersonID: prior.PersonID, EntityRole: prior.EntityRole,
			ReferenceExternalIDHash: prior.ReferenceExternalIDHash, Version: priorVersions[p.er.ID] + 1, Hash: p.hash,
		})
	}

	return nil
}

// DeleteBatch removes _idx and main rows with one array-expansion bulk
// DELETE each per chunk, then appends one bulk tombstone audit INSERT.
// EntityReference has no dependents of its own.
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

		if _, err := r.exec.ExecContext(ctx, entityReferenceBulkDeleteIdx, pq.Array(delIDs)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if _, err := r.exec.ExecContext(ctx, entityReferenceBulkDeleteMain, pq.Array(delIDs)); err != nil {
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

		if _, err := r.exec.ExecContext(ctx, entityReferenceBulkInsertAudit, pq.Array(delIDs), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt)); err != nil {
			errs = append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)

			return errs
		}

		for _, d := range kept {
			r.stageOrCommitRemove(d.id)
		}

		return errs
	})
}
