// Package messaging implements spec.md §4.3's repository contract for
// Messaging. Like Location, Messaging is immutable in the same sense: a
// correction re-writes the same id. Value carries no uniqueness
// constraint, so get_by_value returns a slice.
package messaging

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

const entityType = "Messaging"

// Repository is the Messaging repository (spec.md §4.3).
type Repository struct {
	exec      *dbexec.Executor
	cache     *cache.MessagingCache
	tok       *cache.Token
	cacheSeed uint64
	logger    log.Logger
}

// New constructs a Repository.
func New(exec *dbexec.Executor, caches *cache.MessagingCache, tok *cache.Token, cacheSeed uint64, logger log.Logger) *Repository {
	return &Repository{exec: exec, cache: caches, tok: tok, cacheSeed: cacheSeed, logger: logger}
}

// Save validates the spec.md §3 invariant that other_type is required iff
// messaging_type is Other before inserting.
func (r *Repository) Save(ctx context.Context, m domain.Messaging, auditLogID uuid.UUID) (domain.MessagingIndex, error) {
	if err := validateOtherType(m); err != nil {
		return domain.MessagingIndex{}, err
	}

	valueHash := hashing.SecondaryKey(r.cacheSeed, m.Value.String())
	payload := encodePayload(m)
	contentHash := hashing.ContentHash(r.cacheSeed, payload)

	insertMain, args, err := sqrl.Insert("messaging").
		Columns("id", "messaging_type", "value", "other_type").
		Values(m.ID, string(m.MessagingType), m.Value.String(), optionalStr(m.OtherType)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.MessagingIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertMain, args...); err != nil {
		return domain.MessagingIndex{}, personerr.TranslatePGError(err, entityType)
	}

	idx := domain.MessagingIndex{ID: m.ID, ValueHash: valueHash, Version: 0, Hash: contentHash}

	insertIdx, idxArgs, err := sqrl.Insert("messaging_idx").
		Columns("id", "value_hash", "version", "hash").
		Values(idx.ID, hashing.ToSigned(idx.ValueHash), idx.Version, hashing.ToSigned(idx.Hash)).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.MessagingIndex{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	if _, err := r.exec.ExecContext(ctx, insertIdx, idxArgs...); err != nil {
		return domain.MessagingIndex{}, personerr.TranslatePGError(err, entityType)
	}

	if err := r.appendAudit(ctx, m.ID, 0, contentHash, payload, auditLogID); err != nil {
		return domain.MessagingIndex{}, err
	}

	r.stageOrCommitAdd(idx)

	return idx, nil
}

func validateOtherType(m domain.Messaging) error {
	isOther := m.MessagingType == domain.MessagingOther
	hasOtherType := m.OtherType != nil && m.OtherType.String() != ""

	if isOther && !hasOtherType {
		return personerr.InvalidInput{Field: "other_type", Reason: "required when messaging_type is Other"}
	}

	if !isOther && hasOtherType {
		return personerr.InvalidInput{Field: "other_type", Reason: "must be empty unless messaging_type is Other"}
	}

	return nil
}

func (r *Repository) Load(ctx context.Context, id uuid.UUID) (domain.Messaging, error) {
	query, args, err := sqrl.Select("id", "messaging_type", "value", "other_type").
		From("messaging").
		Where(sqrl.Eq{"id": id}).
		PlaceholderFormat(sqrl.Dollar).
		ToSql()
	if err != nil {
		return domain.Messaging{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	row := r.exec.QueryRowContext(ctx, query, args...)

	var (
		m                   domain.Messaging
		messagingType, value string
		otherType           sql.NullString
	)

	if err := row.Scan(&m.ID, &messagingType, &value, &otherType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Messaging{}, personerr.WrapNotFound(entityType, id)
		}

		return domain.Messaging{}, personerr.RepositoryError{EntityType: entityType, Err: err}
	}

	m.MessagingType = domain.MessagingType(messagingType)
	m.Value, _ = domain.NewRequiredBoundedString("value", value, domain.MaxMessagingValueLen)
	m.OtherType = fromNullString("other_type", otherType, domain.MaxMessagingOtherTypeLen)

	return m, nil
}

func (r *Repository) FindByID(id uuid.UUID) (domain.MessagingIndex, bool) {
	return r.cache.GetByPrimary(r.tok, id)
}

func (r *Repository) FindByIDs(ids []uuid.UUID) []domain.MessagingIndex {
	out := make([]domain.MessagingIndex, 0, len(ids))

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

// FindByValue implements get_by_value (one-to-many: values are not unique).
func (r *Repository) FindByValue(value string) []uuid.UUID {
	return r.cache.GetByValueHash(r.tok, hashing.SecondaryKey(r.cacheSeed, value))
}

func (r *Repository) stageOrCommitAdd(idx domain.MessagingIndex) {
	if r.tok != nil {
		r.cache.StageAdd(r.tok, idx)
		return
	}

	r.cache.Add(idx)
}

func (r *Repository) appendAudit(ctx context.Context, id uuid.UUID, version int64, hash uint64, payload []byte, auditLogID uuid.UUID) error {
	query, args, err := sqrl.Insert("messaging_audit").
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

func encodePayload(m domain.Messaging) []byte {
	return []byte(fmt.Sprintf("type=%s;value=%s;other_type=%s", m.MessagingType, m.Value.String(), optionalStr(m.OtherType)))
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
	messagingInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "messaging_type", SQLType: "text"},
		{Name: "value", SQLType: "text"},
		{Name: "other_type", SQLType: "text"},
	}
	messagingIdxInsertCols = []batch.UnnestColumn{
		{Name: "id", SQLType: "uuid"},
		{Name: "value_hash", SQLType: "bigint"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
	}
	messagingAuditInsertCols = []batch.UnnestColumn{
		{Name: "primary_id", SQLType: "uuid"},
		{Name: "version", SQLType: "bigint"},
		{Name: "hash", SQLType: "bigint"},
		{Name: "payload", SQLType: "bytea"},
		{Name: "audit_log_id", SQLType: "uuid"},
		{Name: "recorded_at", SQLType: "timestamptz"},
	}

	messagingBulkInsertMain  = batch.BuildBulkInsert("messaging", messagingInsertCols)
	messagingBulkInsertIdx   = batch.BuildBulkInsert("messaging_idx", messagingIdxInsertCols)
	messagingBulkInsertAudit = batch.BuildBulkInsert("messaging_audit", messagingAuditInsertCols)

	messagingBulkUpdateMain = batch.BuildBulkUpdate("messaging",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "value", SQLType: "text"},
			{Name: "other_type", SQLType: "text"},
		})
	messagingBulkUpdateIdx = batch.BuildBulkUpdate("messaging_idx",
		batch.UnnestColumn{Name: "id", SQLType: "uuid"},
		[]batch.UnnestColumn{
			{Name: "value_hash", SQLType: "bigint"},
			{Name: "version", SQLType: "bigint"},
			{Name: "hash", SQLType: "bigint"},
		})

	messagingBulkDeleteIdx  = batch.BuildBulkDelete("messaging_idx", "id")
	messagingBulkDeleteMain = batch.BuildBulkDelete("messaging", "id")
)

type preparedMessaging struct {
	index   int
	m       domain.Messaging
	payload []byte
	hash    uint64
}

// SaveBatch inserts items in chunks, writing each chunk with one
// array-expansion bulk insert per table instead of one round trip per row
// (spec.md §4.4). Value carries no uniqueness constraint, so only the
// in-batch id-duplicate check applies before the bulk statements.
func (r *Repository) SaveBatch(ctx context.Context, items []domain.Messaging, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	dupErrs := batch.FindDuplicateIndices(items, func(m domain.Messaging) uuid.UUID { return m.ID })

	result := batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.Messaging, offset int) []batch.ItemError {
		var errs []batch.ItemError

		kept := make([]preparedMessaging, 0, len(chunk))
		indices := make([]int, 0, len(chunk))

		for i, m := range chunk {
			if err := validateOtherType(m); err != nil {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: err})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			payload := encodePayload(m)
			kept = append(kept, preparedMessaging{index: offset + i, m: m, payload: payload, hash: hashing.ContentHash(r.cacheSeed, payload)})
			indices = append(indices, offset+i)
		}

		if len(kept) == 0 {
			return errs
		}

		ids := make([]uuid.UUID, len(kept))
		messagingTypes := make([]string, len(kept))
		values := make([]string, len(kept))
		otherTypes := make([]string, len(kept))
		valueHashes := make([]int64, len(kept))
		versions := make([]int64, len(kept))
		hashes := make([]int64, len(kept))

		for i, p := range kept {
			ids[i] = p.m.ID
			messagingTypes[i] = string(p.m.MessagingType)
			values[i] = p.m.Value.String()
			otherTypes[i] = optionalStr(p.m.OtherType)
			valueHashes[i] = hashing.ToSigned(hashing.SecondaryKey(r.cacheSeed, p.m.Value.String()))
			hashes[i] = hashing.ToSigned(p.hash)
		}

		if _, err := r.exec.ExecContext(ctx, messagingBulkInsertMain, pq.Array(ids), pq.Array(messagingTypes), pq.Array(values), pq.Array(otherTypes)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if _, err := r.exec.ExecContext(ctx, messagingBulkInsertIdx, pq.Array(ids), pq.Array(valueHashes), pq.Array(versions), pq.Array(hashes)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if err := r.bulkAppendAudit(ctx, ids, versions, hashes, kept, auditLogID); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		}

		for i, p := range kept {
			r.stageOrCommitAdd(domain.MessagingIndex{ID: p.m.ID, ValueHash: uint64(valueHashes[i]), Version: 0, Hash: p.hash})
		}

		return errs
	})

	result.Errors = append(dupErrs, result.Errors...)

	return result
}

func (r *Repository) bulkAppendAudit(ctx context.Context, ids []uuid.UUID, versions, hashes []int64, kept []preparedMessaging, auditLogID uuid.UUID) error {
	payloads := make([][]byte, len(kept))
	auditLogIDs := make([]uuid.UUID, len(kept))
	recordedAt := make([]time.Time, len(kept))

	now := time.Now().UTC()

	for i, p := range kept {
		payloads[i] = p.payload
		auditLogIDs[i] = auditLogID
		recordedAt[i] = now
	}

	if _, err := r.exec.ExecContext(ctx, messagingBulkInsertAudit, pq.Array(ids), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	return nil
}

// LoadBatch preserves input order, leaving a nil entry for missing ids.
func (r *Repository) LoadBatch(ctx context.Context, ids []uuid.UUID) ([]*domain.Messaging, batch.Result) {
	out := make([]*domain.Messaging, len(ids))

	var errs []batch.ItemError

	for i, id := range ids {
		m, err := r.Load(ctx, id)
		if err != nil {
			if _, ok := err.(personerr.NotFound); ok {
				continue
			}

			errs = append(errs, batch.ItemError{Index: i, Err: err})

			continue
		}

		out[i] = &m
	}

	return out, batch.Result{Errors: errs}
}

// UpdateBatch recomputes hashes, drops unchanged items, and writes the
// surviving set with one array-expansion bulk UPDATE per table per chunk.
func (r *Repository) UpdateBatch(ctx context.Context, items []domain.Messaging, auditLogID uuid.UUID, opts batch.Options) batch.Result {
	return batch.Run(ctx, items, opts, func(ctx context.Context, chunk []domain.Messaging, offset int) []batch.ItemError {
		var errs []batch.ItemError

		kept := make([]preparedMessaging, 0, len(chunk))
		priorVersions := make(map[uuid.UUID]int64, len(chunk))
		indices := make([]int, 0, len(chunk))

		for i, m := range chunk {
			if err := validateOtherType(m); err != nil {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: err})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			idx, ok := r.cache.GetByPrimary(r.tok, m.ID)
			if !ok {
				errs = append(errs, batch.ItemError{Index: offset + i, Err: personerr.WrapNotFound(entityType, m.ID)})

				if !opts.ContinueOnError {
					return errs
				}

				continue
			}

			payload := encodePayload(m)
			newHash := hashing.ContentHash(r.cacheSeed, payload)

			if newHash == idx.Hash {
				continue
			}

			kept = append(kept, preparedMessaging{index: offset + i, m: m, payload: payload, hash: newHash})
			priorVersions[m.ID] = idx.Version
			indices = append(indices, offset+i)
		}

		if err := r.bulkUpdate(ctx, kept, priorVersions, auditLogID); err != nil {
			errs = append(errs, batch.AttributeBulkErrorAt(indices, err)...)
		}

		return errs
	})
}

func (r *Repository) bulkUpdate(ctx context.Context, kept []preparedMessaging, priorVersions map[uuid.UUID]int64, auditLogID uuid.UUID) error {
	if len(kept) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(kept))
	values := make([]string, len(kept))
	otherTypes := make([]string, len(kept))
	valueHashes := make([]int64, len(kept))
	versions := make([]int64, len(kept))
	hashes := make([]int64, len(kept))

	for i, p := range kept {
		ids[i] = p.m.ID
		values[i] = p.m.Value.String()
		otherTypes[i] = optionalStr(p.m.OtherType)
		valueHashes[i] = hashing.ToSigned(hashing.SecondaryKey(r.cacheSeed, p.m.Value.String()))
		versions[i] = priorVersions[p.m.ID] + 1
		hashes[i] = hashing.ToSigned(p.hash)
	}

	if _, err := r.exec.ExecContext(ctx, messagingBulkUpdateMain, pq.Array(ids), pq.Array(values), pq.Array(otherTypes)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	if _, err := r.exec.ExecContext(ctx, messagingBulkUpdateIdx, pq.Array(ids), pq.Array(valueHashes), pq.Array(versions), pq.Array(hashes)); err != nil {
		return personerr.TranslatePGError(err, entityType)
	}

	if err := r.bulkAppendAudit(ctx, ids, versions, hashes, kept, auditLogID); err != nil {
		return err
	}

	for i, p := range kept {
		r.stageOrCommitAdd(domain.MessagingIndex{ID: p.m.ID, ValueHash: uint64(valueHashes[i]), Version: priorVersions[p.m.ID] + 1, Hash: p.hash})
	}

	return nil
}

// DeleteBatch removes _idx and main rows with one array-expansion bulk
// DELETE each per chunk, then appends one bulk tombstone audit INSERT.
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

		if _, err := r.exec.ExecContext(ctx, messagingBulkDeleteIdx, pq.Array(delIDs)); err != nil {
			return append(errs, batch.AttributeBulkErrorAt(indices, personerr.TranslatePGError(err, entityType))...)
		}

		if _, err := r.exec.ExecContext(ctx, messagingBulkDeleteMain, pq.Array(delIDs)); err != nil {
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

		if _, err := r.exec.ExecContext(ctx, messagingBulkInsertAudit, pq.Array(delIDs), pq.Array(versions), pq.Array(hashes), pq.Array(payloads), pq.Array(auditLogIDs), pq.Array(recordedAt)); err != nil {
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
