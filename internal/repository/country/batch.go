package country

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
	countryInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "iso2", SQLType: "text"},
		{Name: "name_l1", SQLType: "text"},
		{Name: "name_l2", SQLType: "text"},
		{Name: "name_l3", SQLType: "text"},
	}
	countryIdxInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "iso2", SQLType: "text"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
		{Name: "is_active", SQLType: "bool"},
	}
	countryAuditInsertCols = []batch.UnnestColumn{
		{Name: "primary_id", SQLType: "uuid"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
		{Name: "payload", SQLType: "bytea"},
		{Name: "audit_log_id", SQLType: "uuid"},
		{Name: "recorded_at", SQLType: "timestamptz"},
		{Name: "reason", SQLType: "text"},
	}

	countryBulkInsertMain = batch.BuildBulkInsert("country", countryInsertCols)
	countryBulkInsertIdx  = batch.BuildBulkInsert("country_idx", countryIdxInsertCols)
	countryBulkInsertAudit = batch.BuildBulkInsert("country_audit", countryAuditInsertCols)

	countryBulkUpdateMain = batch.BuildBulkUpdate("country",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "name_l1", SQLType: "text"},
			{Name: "name_l2", SQLType: "text"},
			{Name: "name_l3", SQLType: "text"},
		})
	countryBulkUpdateIdx = batch.BuildBulkUpdate("country_idx",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "version", SQLType: "bigint"},
			{Name: "hash", SQLType: "bigint"},
		})

	countryBulkDeleteIdx  = batch.BuildBulkDelete("country_idx", "id")
	countryBulkDeleteMain = batch.BuildBulkDelete("country", "id")
)

type preparedCountry struct {
	index   int
	c       domain.Country
	payload []byte
	hash    uint64
}

// SaveBatch inserts items in chunks: each chunk's accepted rows (after
// per-item duplicate-ISO2 checks against the cache) are written with one
// array-expansion bulk insert per table — country, country_idx,
// country_audit — instead of one round trip per row (spec.md §4.4).
func (r *Repository) SaveBatch(ctx context.Context, items []domain.Country, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	dupErrs := batch.FindDuplicateIndices(items, func(c domain.Country) uuid.UUID { return c.ID })

	result := batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.Country, offset int) []batch.ItemError {
		kept := make([]preparedCountry, 0, len(chunk))

		var errs []batch.ItemError

		for i, c := range chunk {
			if _, exists := r.cache.GetByISO2(r.tok, c.ISO2.String()); exists {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.Duplicate{EntityType: entityType, Field: "iso2", Value: c.ISO2.String()}})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			payload := encodePayload(c)
			kept = append(kept, preparedCountry{index: offset + i, c: c, payload: payload, hash: hashing.ContentHash(r.cacheSeed, payload)})
		}

		if len(kept) == 0 {
			return errs
		}

		indices := make([]int, len(kept))
		ids := make([]uuid.UUID, len(kept))
		iso2s := make([]string, len(kept))
		nameL1s := make([]string, len(kept))
		nameL2s := make([]string, len(kept))
		nameL3s := make([]string, len(kept))

		for i, p := range kept {
			indices[i] = p.index
			ids[i] = p.c.ID
			iso2s[i] = p.c.ISO2.String()
			nameL1s[i] = p.c.NameL1.String()
			nameL2s[i] = optionalStr(p.c.NameL2)
			nameL3s[i] = optionalStr(p.c.NameL3)
		}

		if _, err := r.exec.ExecContext(ctx, countryBulkInsertMain, pq.Array(ids), pq.Array(iso2s), pq.Array(nameL1s), pq.Array(nameL2s), pq.Array(nameL3s)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		versions := make([]int64, len(kept))
		hashes := make([]int64, len(kept))
		isActive := make([]bool, len(kept))
		auditLogIDs := make([]uuid.UUID, len(kept))
		recordedAt := make([]time.Time, len(kept))
		reasons := make([]string, len(kept))

		now := time.Now().UTC()

		for i, p := range kept {
			hashes[i] = hashing.ToSigned(p.hash)
			isActive[i] = true
			auditLogIDs[i] = auditLogID
			recordedAt[i] = now
			reasons[i] = "insert"
		}

		if _, err := r.exec.ExecContext(ctx, countryBulkInsertIdx, pq.Array(ids), pq.Array(iso2s), pq.Array(versions), pq.Array(hashes), pq.Array(isActive)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		payloads := make([][]byte, len(kept))
		for i, p := range kept {
			payloads[i] = p.payload
		}

		if _, err := r.exec.ExecContext(ctx, countryBulkInsertAudit, pq.Array(ids), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt), pq.Array(reasons)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		for _, p := range kept {
			r.stageOrCommitAdd(domain.CountryIndex{ID: p.c.ID, ISO2: p.c.ISO2.String(), Version: 0, Hash: p.hash, IsActive: true})
		}

		return errs
	})

	result.Errors = append(dupErrs, result.Errors...)

	return result
}

// LoadBatch loads each id's full payload, preserving input order and
// leaving a nil entry where the id is missing (spec.md §4.4:
// "load_batch preserves input order and returns None for missing ids").
// Unlike the write paths, this has no bulk array-expansion form to switch
// to — each load is a full-row, all-columns read keyed by its own id, not
// a uniform set update, so it stays one query per id.
func (r *Repository) LoadBatch(ctx context.Context, ids []uuid.UUID) ([]*domain.Country, batch.Result) {
	out := make([]*domain.Country, len(ids))

	var errs []batch.ItemError

	for i, id := range ids {
		c, err := r.Load(ctx, id)
		if err != nil {
			if _, ok := err.(personerr.NotFound); ok {
				continue
			}

			errs = append(errs, batch.ItemError{Index: i, Err: err})

			continue
		}

		out[i] = &c
	}

	return out, batch.Result{Errors: errs}
}

// UpdateBatch reads each item's current index row from the cache, computes new content hashes, drops
// unchanged items from the write set, and writes the remainder of each
// chunk with one bulk update per table plus one bulk audit insert (spec.md
// §4.4).
func (r *Repository) UpdateBatch(ctx context.Context, items []domain.Country, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	return batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.Country, offset int) []batch.ItemError {
		kept := make([]preparedCountry, 0, len(chunk))
		priorVersions := make(map[uuid.UUID]int64, len(chunk))

		var errs []batch.ItemError

		for i, c := range chunk {
			idx, ok := r.cache.GetByPrimary(r.tok, c.ID)
			if !ok {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.WrapNotFound(entityType, c.ID)})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			payload := encodePayload(c)
			newHash := hashing.ContentHash(r.cacheSeed, payload)

			if newHash == idx.Hash {
				continue // unchanged: dropped from the write set per spec.md §4.4
			}

			priorVersions[c.ID] = idx.Version
			kept = append(kept, preparedCountry{index: offset + i, c: c, payload: payload, hash: newHash})
		}

		if len(kept) == 0 {
			return errs
		}

		if err := r.bulkUpdate(ctx, kept, priorVersions, auditLogID, "update"); err != nil {
			indices := make([]int, len(kept))
			for i, p := range kept {
				indices[i] = p.index
			}

			return append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		}

		return errs
	})
}

// bulkUpdate executes the three bulk statements (main, idx, audit) shared
// by UpdateBatch and FixCountry, staging each kept row's new index state
// into the cache on success.
func (r *Repository) bulkUpdate(ctx context.Context, kept []preparedCountry, priorVersions map[uuid.UUID]int64, auditLogID uuid.UUID, reason string) error {
	ids := make([]uuid.UUID, len(kept))
	nameL1s := make([]string, len(kept))
	nameL2s := make([]string, len(kept))
	nameL3s := make([]string, len(kept))
	versions := make([]int64, len(kept))
	hashes := make([]int64, len(kept))

	for i, p := range kept {
		ids[i] = p.c.ID
		nameL1s[i] = p.c.NameL1.String()
		nameL2s[i] = optionalStr(p.c.NameL2)
		nameL3s[i] = optionalStr(p.c.NameL3)
		versions[i] = priorVersions[p.c.ID] + 1
		hashes[i] = hashing.ToSigned(p.hash)
	}

	if _, err := r.exec.ExecContext(ctx, countryBulkUpdateMain, pq.Array(ids), pq.Array(nameL1s), pq.Array(nameL2s), pq.Array(nameL3s)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	if _, err := r.exec.ExecContext(ctx, countryBulkUpdateIdx, pq.Array(ids), pq.Array(versions), pq.Array(hashes)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	auditLogIDs := make([]uuid.UUID, len(kept))
	recordedAt := make([]time.Time, len(kept))
	reasons := make([]string, len(kept))
	payloads := make([][]byte, len(kept))

	now := time.Now().UTC()

	for i, p := range kept {
		auditLogIDs[i] = auditLogID
		recordedAt[i] = now
		reasons[i] = reason
		payloads[i] = p.payload
	}

	if _, err := r.exec.ExecContext(ctx, countryBulkInsertAudit, pq.Array(ids), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt), pq.Array(reasons)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	for i, p := range kept {
		r.stageOrCommitAdd(domain.CountryIndex{ID: p.c.ID, ISO2: p.c.ISO2.String(), Version: versions[i], Hash: p.hash, IsActive: true})
	}

	return nil
}

// FixCountry rewrites a single Country's content exactly like update,
// except it does not skip the write when the recomputed hash equals the
// stored hash — a fix may correct a typo that happens to hash-collide with
// a previously tombstoned bad value — and tags the audit row "fix" instead
// of "update" (SPEC_FULL.md §C). It is inherently single-entity, not
// chunked, so it reuses bulkUpdate with a length-1 slice rather than
// duplicating the per-row SQL.
func (r *Repository) FixCountry(ctx context.Context, c domain.Country, auditLogID uuid.UUID) (domain.CountryIndex, error) {
	idx, ok := r.cache.GetByPrimary(r.tok, c.ID)
	if !ok {
		return domain.CountryIndex{}, personerr.WrapNotFound(entityType, c.ID)
	}

	payload := encodePayload(c)
	newHash := hashing.ContentHash(r.cacheSeed, payload)

	kept := []preparedCountry{{index: 0, c: c, payload: payload, hash: newHash}}
	priorVersions := map[uuid.UUID]int64{c.ID: idx.Version}

	if err := r.bulkUpdate(ctx, kept, priorVersions, auditLogID, "fix"); err != nil {
		return domain.CountryIndex{}, err
	}

	return domain.CountryIndex{ID: c.ID, ISO2: c.ISO2.String(), Version: idx.Version + 1, Hash: newHash, IsActive: true}, nil
}

// DeleteBatch removes _idx and main rows for a chunk with one bulk delete
// per table, keyed by ANY($1) over the surviving ids, and appends one bulk
// tombstone audit insert with content hash 0 (spec.md §4.4, "delete_batch").
// No dependents check runs here, unlike CountrySubdivision/Locality: a
// Country still referenced by a CountrySubdivision is not reported as
// HasDependents, and the bulk delete fails on that foreign key instead.
func (r *Repository) DeleteBatch(ctx context.Context, ids []uuid.UUID, auditLogID uuid.UUID, opts batch.Options) batch.Result {
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

		if _, err := r.exec.ExecContext(ctx, countryBulkDeleteIdx, pq.Array(keptIDs)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if _, err := r.exec.ExecContext(ctx, countryBulkDeleteMain, pq.Array(keptIDs)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		versions := make([]int64, len(kept))
		hashes := make([]int64, len(kept))
		auditLogIDs := make([]uuid.UUID, len(kept))
		recordedAt := make([]time.Time, len(kept))
		reasons := make([]string, len(kept))

		now := time.Now().UTC()

		for i, d := range kept {
			versions[i] = d.priorVersion + 1
			auditLogIDs[i] = auditLogID
			recordedAt[i] = now
			reasons[i] = "delete"
		}

		if _, err := r.exec.ExecContext(ctx, countryBulkInsertAudit, pq.Array(keptIDs), pq.Array(versions), pq.Array(hashes), pq.Array(make([][]byte, len(kept))), pq.Array(auditLogIDs), pq.Array(recordedAt), pq.Array(reasons)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		for _, d := range kept {
			r.stageOrCommitRemove(d.id)
		}

		return errs
	})
}
