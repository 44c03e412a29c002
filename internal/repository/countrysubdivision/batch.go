package countrysubdivision

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
	subdivisionInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "country_id", SQLType: "uuid"},
		{Name: "code", SQLType: "text"},
		{Name: "name_l1", SQLType: "text"},
		{Name: "name_l2", SQLType: "text"},
		{Name: "name_l3", SQLType: "text"},
	}
	subdivisionIdxInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "country_id", SQLType: "uuid"},
		{Name: "code_hash", SQLType: "bigint"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
	}
	subdivisionAuditInsertCols = []batch.UnnestColumn{
		{Name: "primary_id", SQLType: "uuid"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
		{Name: "payload", SQLType: "bytea"},
		{Name: "audit_log_id", SQLType: "uuid"},
		{Name: "recorded_at", SQLType: "timestamptz"},
	}

	subdivisionBulkInsertMain  = batch.BuildBulkInsert("country_subdivision", subdivisionInsertCols)
	subdivisionBulkInsertIdx   = batch.BuildBulkInsert("country_subdivision_idx", subdivisionIdxInsertCols)
	subdivisionBulkInsertAudit = batch.BuildBulkInsert("country_subdivision_audit", subdivisionAuditInsertCols)

	subdivisionBulkUpdateMain = batch.BuildBulkUpdate("country_subdivision",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "name_l1", SQLType: "text"},
			{Name: "name_l2", SQLType: "text"},
			{Name: "name_l3", SQLType: "text"},
		})
	subdivisionBulkUpdateIdx = batch.BuildBulkUpdate("country_subdivision_idx",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "version", SQLType: "bigint"},
			{Name: "hash", SQLType: "bigint"},
		})

	subdivisionBulkDeleteIdx  = batch.BuildBulkDelete("country_subdivision_idx", "id")
	subdivisionBulkDeleteMain = batch.BuildBulkDelete("country_subdivision", "id")
)

type preparedSubdivision struct {
	index   int
	cs      domain.CountrySubdivision
	payload []byte
	hash    uint64
}

// SaveBatch inserts items in chunks, writing each chunk's accepted rows
// with one array-expansion bulk insert per table instead of one round trip
// per row (spec.md §4.4).
func (r *Repository) SaveBatch(ctx context.Context, items []domain.CountrySubdivision, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	dupErrs := batch.FindDuplicateIndices(items, func(cs domain.CountrySubdivision) uuid.UUID { return cs.ID })

	result := batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.CountrySubdivision, offset int) []batch.ItemError {
		kept := make([]preparedSubdivision, 0, len(chunk))

		var errs []batch.ItemError

		for i, cs := range chunk {
			codeHash := r.codeHash(cs.Code.String())

			if _, exists := r.cache.GetByCode(r.tok, cs.CountryID, codeHash); exists {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.Duplicate{EntityType: entityType, Field: "code", Value: cs.Code.String()}})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			payload := encodePayload(cs)
			kept = append(kept, preparedSubdivision{index: offset + i, cs: cs, payload: payload, hash: hashing.ContentHash(r.cacheSeed, payload)})
		}

		if len(kept) == 0 {
			return errs
		}

		indices := make([]int, len(kept))
		ids := make([]uuid.UUID, len(kept))
		countryIDs := make([]uuid.UUID, len(kept))
		codes := make([]string, len(kept))
		nameL1s := make([]string, len(kept))
		nameL2s := make([]string, len(kept))
		nameL3s := make([]string, len(kept))

		for i, p := range kept {
			indices[i] = p.index
			ids[i] = p.cs.ID
			countryIDs[i] = p.cs.CountryID
			codes[i] = p.cs.Code.String()
			nameL1s[i] = p.cs.NameL1.String()
			nameL2s[i] = optionalStr(p.cs.NameL2)
			nameL3s[i] = optionalStr(p.cs.NameL3)
		}

		if _, err := r.exec.ExecContext(ctx, subdivisionBulkInsertMain, pq.Array(ids), pq.Array(countryIDs), pq.Array(codes), pq.Array(nameL1s), pq.Array(nameL2s), pq.Array(nameL3s)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		codeHashes := make([]int64, len(kept))
		versions := make([]int64, len(kept))
		hashes := make([]int64, len(kept))

		for i, p := range kept {
			codeHashes[i] = hashing.ToSigned(r.codeHash(p.cs.Code.String()))
			hashes[i] = hashing.ToSigned(p.hash)
		}

		if _, err := r.exec.ExecContext(ctx, subdivisionBulkInsertIdx, pq.Array(ids), pq.Array(countryIDs), pq.Array(codeHashes), pq.Array(versions), pq.Array(hashes)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if err := r.bulkAppendAudit(ctx, ids, versions, hashes, kept, auditLogID); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		}

		for _, p := range kept {
			r.stageOrCommitAdd(domain.CountrySubdivisionIndex{ID: p.cs.ID, CountryID: p.cs.CountryID, CodeHash: r.codeHash(p.cs.Code.String()), Version: 0, Hash: p.hash})
		}

		return errs
	})

	result.Errors = append(dupErrs, result.Errors...)

	return result
}

func (r *Repository) bulkAppendAudit(ctx context.Context, ids []uuid.UUID, versions, hashes []int64, kept []preparedSubdivision, auditLogID uuid.UUID) error {
	payloads := make([][]byte, len(kept))
	auditLogIDs := make([]uuid.UUID, len(kept))
	recordedAt := make([]time.Time, len(kept))

	now := time.Now().UTC()

	for i, p := range kept {
		payloads[i] = p.payload
		auditLogIDs[i] = auditLogID
		recordedAt[i] = now
	}

	if _, err := r.exec.ExecContext(ctx, subdivisionBulkInsertAudit, pq.Array(ids), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	return nil
}

// LoadBatch preserves input order, leaving a nil entry for missing ids.
// Each load reads a full row by its own id, not a uniform set update, so it
// has no bulk array-expansion form to switch to.
func (r *Repository) LoadBatch(ctx context.Context, ids []uuid.UUID) ([]*domain.CountrySubdivision, batch.Result) {
	out := make([]*domain.CountrySubdivision, len(ids))

	var errs []batch.ItemError

	for i, id := range ids {
		cs, err := r.Load(ctx, id)
		if err != nil {
			if _, ok := err.(personerr.NotFound); ok {
				continue
			}

			errs = append(errs, batch.ItemError{Index: i, Err: err})

			continue
		}

		out[i] = &cs
	}

	return out, batch.Result{Errors: errs}
}

// UpdateBatch recomputes hashes, drops unchanged items from the write set,
// and writes the remainder of each chunk with one bulk update per table
// plus one bulk audit insert.
func (r *Repository) UpdateBatch(ctx context.Context, items []domain.CountrySubdivision, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	return batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.CountrySubdivision, offset int) []batch.ItemError {
		kept := make([]preparedSubdivision, 0, len(chunk))
		priorVersions := make(map[uuid.UUID]int64, len(chunk))

		var errs []batch.ItemError

		for i, cs := range chunk {
			idx, ok := r.cache.GetByPrimary(r.tok, cs.ID)
			if !ok {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.WrapNotFound(entityType, cs.ID)})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			payload := encodePayload(cs)
			newHash := hashing.ContentHash(r.cacheSeed, payload)

			if newHash == idx.Hash {
				continue
			}

			priorVersions[cs.ID] = idx.Version
			kept = append(kept, preparedSubdivision{index: offset + i, cs: cs, payload: payload, hash: newHash})
		}

		if len(kept) == 0 {
			return errs
		}

		ids := make([]uuid.UUID, len(kept))
		nameL1s := make([]string, len(kept))
		nameL2s := make([]string, len(kept))
		nameL3s := make([]string, len(kept))
		versions := make([]int64, len(kept))
		hashes := make([]int64, len(kept))
		indices := make([]int, len(kept))

		for i, p := range kept {
			indices[i] = p.index
			ids[i] = p.cs.ID
			nameL1s[i] = p.cs.NameL1.String()
			nameL2s[i] = optionalStr(p.cs.NameL2)
			nameL3s[i] = optionalStr(p.cs.NameL3)
			versions[i] = priorVersions[p.cs.ID] + 1
			hashes[i] = hashing.ToSigned(p.hash)
		}

		if _, err := r.exec.ExecContext(ctx, subdivisionBulkUpdateMain, pq.Array(ids), pq.Array(nameL1s), pq.Array(nameL2s), pq.Array(nameL3s)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if _, err := r.exec.ExecContext(ctx, subdivisionBulkUpdateIdx, pq.Array(ids), pq.Array(versions), pq.Array(hashes)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if err := r.bulkAppendAudit(ctx, ids, versions, hashes, kept, auditLogID); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		}

		for i, p := range kept {
			r.stageOrCommitAdd(domain.CountrySubdivisionIndex{ID: p.cs.ID, CountryID: p.cs.CountryID, CodeHash: r.codeHash(p.cs.Code.String()), Version: versions[i], Hash: p.hash})
		}

		return errs
	})
}

// DeleteBatch first verifies no Locality references any id in the batch,
// returning HasDependents for the violating ids without removing anything
// (spec.md §3, §4.4). The surviving ids in each chunk are then removed
// with one bulk delete per table, keyed by ANY($1), plus one bulk
// tombstone audit insert.
func (r *Repository) DeleteBatch(ctx context.Context, ids []uuid.UUID, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	var withDependents []uuid.UUID

	for _, id := range ids {
		if len(r.localityDeps.GetByCountrySubdivisionID(r.tok, id)) > 0 {
			withDependents = append(withDependents, id)
		}
	}

	if len(withDependents) > 0 {
		return batch.Result{Errors: []batch.ItemError{{Index: 0, Err: personerr.HasDependents{EntityType: entityType, IDs: withDependents}}}}
	}

	return batch.Run(ctx, ids, opts, func(ctx context.Context, chunk []uuid.UUID, offset int) []batch.ItemError {
		type deletion struct {
			index        int
			id           uuid.UUID
			priorVersion int64
		}

		kept := make([]deletion, 0, len(chunk))

		var errs []batch.ItemError

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
		keptIDs := make([]uuid.UUID, len(kept))

		for i, d := range kept {
			indices[i] = d.index
			keptIDs[i] = d.id
		}

		if _, err := r.exec.ExecContext(ctx, subdivisionBulkDeleteIdx, pq.Array(keptIDs)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if _, err := r.exec.ExecContext(ctx, subdivisionBulkDeleteMain, pq.Array(keptIDs)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		versions := make([]int64, len(kept))
		auditLogIDs := make([]uuid.UUID, len(kept))
		recordedAt := make([]time.Time, len(kept))

		now := time.Now().UTC()

		for i, d := range kept {
			versions[i] = d.priorVersion + 1
			auditLogIDs[i] = auditLogID
			recordedAt[i] = now
		}

		if _, err := r.exec.ExecContext(ctx, subdivisionBulkInsertAudit, pq.Array(keptIDs), pq.Array(versions), pq.Array(make([]int64, len(kept))), pq.Array(make([][]byte, len(kept))), pq.Array(auditLogIDs), pq.Array(recordedAt)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		for _, d := range kept {
			r.stageOrCommitRemove(d.id)
		}

		return errs
	})
}
