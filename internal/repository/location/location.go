// Package location implements spec.md §4.3's repository contract for
// Location. Location is conceptually immutable (a correction re-writes the
// same id; a different address creates a new Location), so there is no
// uniqueness check on save — only the locality_id foreign key and the
// hierarchical find_ids_by_locality_id finder.
package location

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/LerianStudio/person-data-store/internal/batch"
	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/dbexec"
	"github.com/LerianStudio/person-data-store/internal/domain"
	"github.com/LerianStudio/person-data-store/internal/hashing"
	"github.com/LerianStudio/person-data-store/internal/obs/log"
	"github.com/LerianStudio/person-data-store/internal/personerr"
)

const entityType = "Location"

// Repository is the Location repository (spec.md §4.3).
type Repository struct {
	exec      *dbexec.Executor
	cache     *cache.LocationCache
	tok       *cache.Token
	cacheSeed uint64
	logger    log.Logger
}

// New constructs a Repository.
func New(exec *dbexec.Executor, caches *cache.LocationCache, tok *cache.Token, cacheSeed uint64, logger log.Logger) *Repository {
	return &Repository{exec: exec, cache: caches, tok: tok, cacheSeed: cacheSeed, logger: logger}
}

func (r *Repository) Save(ctx context.Context, l domain.Location, auditLogID uuid.UUID) (domain.LocationIndex, error) {
	payload := encodePayload(l)
	contentHash := hashing.ContentHash(r.cacheSeed, payload)

	insertMain, args, err := sqrl.Insert("location").
		Columns("id", "street_line1", "street_line2", "street_line3", "street_line4",
			"locality_id", "postal_code", "latitude", "longitude", "accuracy_meters", "location_type").
		Values(l.ID, l.StreetLine1.String(), optionalStr(l.StreetLine2), optionalStr(l.StreetLine3), optionalStr(l.StreetLine4),
			l.LocalityID, optionalStr(l.PostalCode), l.Latitude, l.Longitude, l.AccuracyMeters, string(l.LocationType)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.LocationIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertMain, args...); err != nil {
		return domain.LocationIndex{}, personerr.TranslatePGError(err, entityType)
	}

	idx := domain.LocationIndex{ID: l.ID, LocalityID: l.LocalityID, Version: 0, Hash: contentHash}

	insertIdx, idxArgs, err := sqrl.Insert("location_idx").
		Columns("id", "locality_id", "version", "hash").
		Values(idx.ID, idx.LocalityID, idx.Version, hashing.ToSigned(idx.Hash)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.LocationIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertIdx, idxArgs...); err != nil {
		return domain.LocationIndex{}, personerr.TranslatePGError(err, entityType)
	}

	if err := r.appendAudit(ctx, l.ID, 0, contentHash, payload, auditLogID); err != nil {
		return domain.LocationIndex{}, err
	}

	r.stageOrCommitAdd(idx)

	return idx, nil
}

func (r *Repository) Load(ctx context.Context, id uuid.UUID) (domain.Location, error) {
	query, args, err := sqrl.Select("id", "street_line1", "street_line2", "street_line3", "street_line4",
		"locality_id", "postal_code", "latitude", "longitude", "accuracy_meters", "location_type").
		From("location").
		Where(sqrl.Eq{"id": id}).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.Location{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	row := r.exec.QueryRowContext(ctx, query, args...)

	var (
		l                                  domain.Location
		line1, locationType                string
		line2, line3, line4, postal        sql.NullString
		lat, lng, accuracy                  sql.NullFloat64
	)

	if err := row.Scan(&l.ID, &line1, &line2, &line3, &line4, &l.LocalityID, &postal, &lat, &lng, &accuracy, &locationType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Location{}, personerr.WrapNotFound(entityType, id)
		}

		return domain.Location{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	l.StreetLine1, _ = domain.NewRequiredBoundedString("street_line1", line1, domain.MaxStreetLineLen)
	l.StreetLine2 = fromNullString("street_line2", line2, domain.MaxStreetLineLen)
	l.StreetLine3 = fromNullString("street_line3", line3, domain.MaxStreetLineLen)
	l.StreetLine4 = fromNullString("street_line4", line4, domain.MaxStreetLineLen)
	l.PostalCode = fromNullString("postal_code", postal, domain.MaxPostalCodeLen)
	l.LocationType = domain.LocationType(locationType)

	if lat.Valid {
		l.Latitude = &lat.Float64
	}

	if lng.Valid {
		l.Longitude = &lng.Float64
	}

	if accuracy.Valid {
		l.AccuracyMeters = &accuracy.Float64
	}

	return l, nil
}

func (r *Repository) FindByID(id uuid.UUID) (domain.LocationIndex, bool) {
	return r.cache.GetByPrimary(r.tok, id)
}

func (r *Repository) FindByIDs(ids []uuid.UUID) []domain.LocationIndex {
	out := make([]domain.LocationIndex, 0, len(ids))

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

// FindIDsByLocalityID implements the hierarchical child finder.
func (r *Repository) FindIDsByLocalityID(localityID uuid.UUID) []uuid.UUID {
	return r.cache.GetByLocalityID(r.tok, localityID)
}

func (r *Repository) stageOrCommitAdd(idx domain.LocationIndex) {
	if r.tok != nil {
		r.cache.StageAdd(r.tok, idx)
		return
	}

	r.cache.Add(idx)
}

func (r *Repository) appendAudit(ctx context.Context, id uuid.UUID, version int64, hash uint64, payload []byte, auditLogID uuid.UUID) error {
	query, args, err := sqrl.Insert("location_audit").
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

// FixCorrection re-writes street/postal/geo fields in place, appending a
// new audit version rather than creating a new Location row. The audit
// row is identical in shape to UpdateBatch's (location_audit has no
// reason column, so it is not marked as a correction), and an unchanged
// content hash returns the prior index without writing. It builds its
// UPDATE/INSERT statements with the same array-expansion helpers
// UpdateBatch uses, over a length-1 slice.
func (r *Repository) FixCorrection(ctx context.Context, l domain.Location, auditLogID uuid.UUID) (domain.LocationIndex, error) {
	prior, ok := r.cache.GetByPrimary(r.tok, l.ID)
	if !ok {
		return domain.LocationIndex{}, personerr.WrapNotFound(entityType, l.ID)
	}

	payload := encodePayload(l)
	newHash := hashing.ContentHash(r.cacheSeed, payload)

	if newHash == prior.Hash {
		return prior, nil
	}

	kept := []preparedLocation{{index: 0, l: l, payload: payload, hash: newHash}}
	priorVersions := map[uuid.UUID]int64{l.ID: prior.Version}

	if err := r.bulkUpdate(ctx, kept, priorVersions, auditLogID); err != nil {
		return domain.LocationIndex{}, err
	}

	idx := domain.LocationIndex{ID: l.ID, LocalityID: l.LocalityID, Version: prior.Version + 1, Hash: newHash}

	return idx, nil
}

// bulkUpdate writes one array-expansion bulk UPDATE each for location and
// location_idx, followed by one bulk audit INSERT, then stages every item's
// new cache entry. Used by both FixCorrection (length-1 slice) and
// UpdateBatch (one call per chunk).
func (r *Repository) bulkUpdate(ctx context.Context, kept []preparedLocation, priorVersions map[uuid.UUID]int64, auditLogID uuid.UUID) error {
	if len(kept) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(kept))
	line1s := make([]string, len(kept))
	line2s := make([]string, len(kept))
	line3s := make([]string, len(kept))
	line4s := make([]string, len(kept))
	postals := make([]string, len(kept))
	lats := make([]*float64, len(kept))
	lngs := make([]*float64, len(kept))
	accuracies := make([]*float64, len(kept))
	versions := make([]int64, len(kept))
	hashes := make([]int64, len(kept))

	for i, p := range kept {
		ids[i] = p.l.ID
		line1s[i] = p.l.StreetLine1.String()
		line2s[i] = optionalStr(p.l.StreetLine2)
		line3s[i] = optionalStr(p.l.StreetLine3)
		line4s[i] = optionalStr(p.l.StreetLine4)
		postals[i] = optionalStr(p.l.PostalCode)
		lats[i] = p.l.Latitude
		lngs[i] = p.l.Longitude
		accuracies[i] = p.l.AccuracyMeters
		versions[i] = priorVersions[p.l.ID] + 1
		hashes[i] = hashing.ToSigned(p.hash)
	}

	if _, err := r.exec.ExecContext(ctx, locationBulkUpdateMain,
		pq.Array(ids), pq.Array(line1s), pq.Array(line2s), pq.Array(line3s), pq.Array(line4s),
		pq.Array(postals), pq.Array(lats), pq.Array(lngs), pq.Array(accuracies)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	if _, err := r.exec.ExecContext(ctx, locationBulkUpdateIdx, pq.Array(ids), pq.Array(versions), pq.Array(hashes)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	if err := r.bulkAppendAudit(ctx, ids, versions, hashes, kept, auditLogID); err != nil {
		return err
	}

	for _, p := range kept {
		r.stageOrCommitAdd(domain.LocationIndex{ID: p.l.ID, LocalityID: p.l.LocalityID, Version: priorVersions[p.l.ID] + 1, Hash: p.hash})
	}

	return nil
}

func encodePayload(l domain.Location) []byte {
	return []byte(fmt.Sprintf("street1=%s;street2=%s;street3=%s;street4=%s;locality_id=%s;postal=%s;type=%s",
		l.StreetLine1.String(), optionalStr(l.StreetLine2), optionalStr(l.StreetLine3), optionalStr(l.StreetLine4),
		l.LocalityID, optionalStr(l.PostalCode), l.LocationType))
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

var (
	locationInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "street_line1", SQLType: "text"},
		{Name: "street_line2", SQLType: "text"},
		{Name: "street_line3", SQLType: "text"},
		{Name: "street_line4", SQLType: "text"},
		{Name: "locality_id", SQLType: "uuid"},
		{Name: "postal_code", SQLType: "text"},
		{Name: "latitude", SQLType: "float8"},
		{Name: "longitude", SQLType: "float8"},
		{Name: "accuracy_meters", SQLType: "float8"},
		{Name: "location_type", SQLType: "text"},
	}
	locationIdxInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "locality_id", SQLType: "uuid"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
	}
	locationAuditInsertCols = []batch.UnnestColumn{
		{Name: "primary_id", SQLType: "uuid"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
		{Name: "payload", SQLType: "bytea"},
		{Name: "audit_log_id", SQLType: "uuid"},
		{Name: "recorded_at", SQLType: "timestamptz"},
	}

	locationBulkInsertMain  = batch.BuildBulkInsert("location", locationInsertCols)
	locationBulkInsertIdx   = batch.BuildBulkInsert("location_idx", locationIdxInsertCols)
	locationBulkInsertAudit = batch.BuildBulkInsert("location_audit", locationAuditInsertCols)

	locationBulkUpdateMain = batch.BuildBulkUpdate("location",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "street_line1", SQLType: "text"},
			{Name: "street_line2", SQLType: "text"},
			{Name: "street_line3", SQLType: "text"},
			{Name: "street_line4", SQLType: "text"},
			{Name: "postal_code", SQLType: "text"},
			{Name: "latitude", SQLType: "float8"},
			{Name: "longitude", SQLType: "float8"},
			{Name: "accuracy_meters", SQLType: "float8"},
		})
	locationBulkUpdateIdx = batch.BuildBulkUpdate("location_idx",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "version", SQLType: "bigint"},
			{Name: "hash", SQLType: "bigint"},
		})

	locationBulkDeleteIdx  = batch.BuildBulkDelete("location_idx", "id")
	locationBulkDeleteMain = batch.BuildBulkDelete("location", "id")
)

type preparedLocation struct {
	index   int
	l       domain.Location
	payload []byte
	hash    uint64
}

// SaveBatch inserts items in chunks, writing each chunk with one
// array-expansion bulk insert per table instead of one round trip per row
// (spec.md §4.4). Location has no uniqueness check on save (it is
// conceptually immutable), so nothing in a chunk is ever dropped before
// the bulk statements.
func (r *Repository) SaveBatch(ctx context.Context, items []domain.Location, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	dupErrs := batch.FindDuplicateIndices(items, func(l domain.Location) uuid.UUID { return l.ID })

	result := batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.Location, offset int) []batch.ItemError {
		kept := make([]preparedLocation, len(chunk))

		for i, l := range chunk {
			payload := encodePayload(l)
			kept[i] = preparedLocation{index: offset + i, l: l, payload: payload, hash: hashing.ContentHash(r.cacheSeed, payload)}
		}

		indices := make([]int, len(kept))
		ids := make([]uuid.UUID, len(kept))
		line1s := make([]string, len(kept))
		line2s := make([]string, len(kept))
		line3s := make([]string, len(kept))
		line4s := make([]string, len(kept))
		localityIDs := make([]uuid.UUID, len(kept))
		postals := make([]string, len(kept))
		lats := make([]*float64, len(kept))
		lngs := make([]*float64, len(kept))
		accuracies := make([]*float64, len(kept))
		locTypes := make([]string, len(kept))

		for i, p := range kept {
			indices[i] = p.index
			ids[i] = p.l.ID
			line1s[i] = p.l.StreetLine1.String()
			line2s[i] = optionalStr(p.l.StreetLine2)
			line3s[i] = optionalStr(p.l.StreetLine3)
			line4s[i] = optionalStr(p.l.StreetLine4)
			localityIDs[i] = p.l.LocalityID
			postals[i] = optionalStr(p.l.PostalCode)
			lats[i] = p.l.Latitude
			lngs[i] = p.l.Longitude
			accuracies[i] = p.l.AccuracyMeters
			locTypes[i] = string(p.l.LocationType)
		}

		var errs []batch.ItemError

		if _, err := r.exec.ExecContext(ctx, locationBulkInsertMain,
			pq.Array(ids), pq.Array(line1s), pq.Array(line2s), pq.Array(line3s), pq.Array(line4s),
			pq.Array(localityIDs), pq.Array(postals), pq.Array(lats), pq.Array(lngs), pq.Array(accuracies), pq.Array(locTypes)); err != nil {
			return batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))
		}

		versions := make([]int64, len(kept))
		hashes := make([]int64, len(kept))

		for i, p := range kept {
			hashes[i] = hashing.ToSigned(p.hash)
		}

		if _, err := r.exec.ExecContext(ctx, locationBulkInsertIdx, pq.Array(ids), pq.Array(localityIDs), pq.Array(versions), pq.Array(hashes)); err != nil {
			return batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))
		}

		if err := r.bulkAppendAudit(ctx, ids, versions, hashes, kept, auditLogID); err != nil {
			errs = append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		} else {
			for _, p := range kept {
				r.stageOrCommitAdd(domain.LocationIndex{ID: p.l.ID, LocalityID: p.l.LocalityID, Version: 0, Hash: p.hash})
			}
		}

		return errs
	})

	result.Errors = append(dupErrs, result.Errors...)

	return result
}

func (r *Repository) bulkAppendAudit(ctx context.Context, ids []uuid.UUID, versions, hashes []int64, kept []preparedLocation, auditLogID uuid.UUID) error {
	payloads := make([][]byte, len(kept))
	auditLogIDs := make([]uuid.UUID, len(kept))
	recordedAt := make([]time.Time, len(kept))

	now := time.Now().UTC()

	for i, p := range kept {
		payloads[i] = p.payload
		auditLogIDs[i] = auditLogID
		recordedAt[i] = now
	}

	if _, err := r.exec.ExecContext(ctx, locationBulkInsertAudit, pq.Array(ids), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	return nil
}

// LoadBatch preserves input order, leaving a nil entry for missing ids.
func (r *Repository) LoadBatch(ctx context.Context, ids []uuid.UUID) ([]*domain.Location, batch.Result) {
	out := make([]*domain.Location, len(ids))

	var errs []batch.ItemError

	for i, id := range ids {
		l, err := r.Load(ctx, id)
		if err != nil {
			if _, ok := err.(personerr.NotFound); ok {
				continue
			}

			errs = append(errs, batch.ItemError{Index: i, Err: err})

			continue
		}

		out[i] = &l
	}

	return out, batch.Result{Errors: errs}
}

// UpdateBatch builds one array-expansion bulk UPDATE per table per chunk,
// dropping rows whose content hash is unchanged before the statement is
// built (spec.md §4.4).
func (r *Repository) UpdateBatch(ctx context.Context, items []domain.Location, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	return batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.Location, offset int) []batch.ItemError {
		var errs []batch.ItemError

		kept := make([]preparedLocation, 0, len(chunk))
		priorVersions := make(map[uuid.UUID]int64, len(chunk))
		indices := make([]int, 0, len(chunk))

		for i, l := range chunk {
			prior, ok := r.cache.GetByPrimary(r.tok, l.ID)
			if !ok {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.WrapNotFound(entityType, l.ID)})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			payload := encodePayload(l)
			newHash := hashing.ContentHash(r.cacheSeed, payload)

			if newHash == prior.Hash {
				continue
			}

			kept = append(kept, preparedLocation{index: offset + i, l: l, payload: payload, hash: newHash})
			priorVersions[l.ID] = prior.Version
			indices = append(indices, offset+i)
		}

		if err := r.bulkUpdate(ctx, kept, priorVersions, auditLogID); err != nil {
			errs = append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		}

		return errs
	})
}

// DeleteBatch removes _idx and main rows with one array-expansion bulk
// DELETE each per chunk, then appends one bulk tombstone audit INSERT
// (content hash 0). No dependents check runs here, unlike
// CountrySubdivision/Locality: a Location still named by a Person's
// location_id (a foreign key to location(id)) is not reported as
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

		if _, err := r.exec.ExecContext(ctx, locationBulkDeleteIdx, pq.Array(delIDs)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if _, err := r.exec.ExecContext(ctx, locationBulkDeleteMain, pq.Array(delIDs)); err != nil {
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

		if _, err := r.exec.ExecContext(ctx, locationBulkInsertAudit, pq.Array(delIDs), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt)); err != nil {
			errs = append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)

			return errs
		}

		for _, d := range kept {
			if r.tok != nil {
				r.cache.StageRemove(r.tok, d.id)
			} else {
				r.cache.Remove(d.id)
			}
		}

		return errs
	})
}
