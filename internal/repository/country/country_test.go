package country_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/person-data-store/internal/batch"
	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/dbexec"
	"github.com/LerianStudio/person-data-store/internal/domain"
	"github.com/LerianStudio/person-data-store/internal/obs/log"
	"github.com/LerianStudio/person-data-store/internal/repository/country"
)

func newRepo(t *testing.T) (*country.Repository, *cache.CountryCache, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := cache.NewCountryCache()
	repo := country.New(dbexec.NewPooled(db), c, nil, 1, log.NewNop())

	return repo, c, mock
}

func mustBounded(t *testing.T, field, value string, max int) domain.BoundedString {
	t.Helper()

	bs, err := domain.NewRequiredBoundedString(field, value, max)
	require.NoError(t, err)

	return bs
}

func newCountry(t *testing.T, iso2 string) domain.Country {
	t.Helper()

	return domain.Country{
		ID:     uuid.New(),
		ISO2:   mustBounded(t, "iso2", iso2, domain.MaxISO2Len),
		NameL1: mustBounded(t, "name_l1", "France", domain.MaxCountryNameLen),
	}
}

func TestCountryRepository_Save_StagesCacheAndTagsAuditInsert(t *testing.T) {
	repo, c, mock := newRepo(t)
	fr := newCountry(t, "FR")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country_idx")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country_audit")).
		WithArgs(fr.ID, int64(0), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "insert").
		WillReturnResult(sqlmock.NewResult(1, 1))

	// Save is still single-row (spec.md's batch array-expansion requirement
	// applies to SaveBatch/UpdateBatch/DeleteBatch, not the single-item Save).
	idx, err := repo.Save(context.Background(), fr, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(0), idx.Version)

	foundID, ok := c.GetByISO2(nil, "FR")
	require.True(t, ok)
	assert.Equal(t, fr.ID, foundID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountryRepository_Save_RejectsDuplicateISO2(t *testing.T) {
	repo, c, _ := newRepo(t)
	c.Add(domain.CountryIndex{ID: uuid.New(), ISO2: "FR", Version: 0, Hash: 1, IsActive: true})

	_, err := repo.Save(context.Background(), newCountry(t, "FR"), uuid.New())
	require.Error(t, err)
}

func TestCountryRepository_UpdateBatch_SkipsUnchangedContent(t *testing.T) {
	repo, c, mock := newRepo(t)

	fr := newCountry(t, "FR")
	hash := uint64(0)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country_idx")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country_audit")).WillReturnResult(sqlmock.NewResult(1, 1))

	idx, err := repo.Save(context.Background(), fr, uuid.New())
	require.NoError(t, err)
	hash = idx.Hash

	// Re-submitting the identical content must not touch the database at all.
	result := repo.UpdateBatch(context.Background(), []domain.Country{fr}, uuid.New(), batch.Options{ChunkSize: 10})

	assert.True(t, result.OK())

	got, ok := c.GetByPrimary(nil, fr.ID)
	require.True(t, ok)
	assert.Equal(t, hash, got.Hash)
	assert.Equal(t, int64(0), got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountryRepository_FixCountry_WritesEvenWhenContentHashUnchanged(t *testing.T) {
	repo, c, mock := newRepo(t)
	fr := newCountry(t, "FR")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country_idx")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country_audit")).WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := repo.Save(context.Background(), fr, uuid.New())
	require.NoError(t, err)

	// FixCountry builds its UPDATE/INSERT statements with the same
	// array-expansion (unnest) helpers UpdateBatch uses, just over a
	// length-1 slice, so expectations match on statement shape only — the
	// bound arguments are pq.Array-wrapped slices, not bare scalars.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE country")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE country_idx")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country_audit")).WillReturnResult(sqlmock.NewResult(1, 1))

	// FixCountry re-submits byte-identical content: unlike UpdateBatch this
	// must still write a new version, tagged "fix".
	idx, err := repo.FixCountry(context.Background(), fr, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), idx.Version)

	got, ok := c.GetByPrimary(nil, fr.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountryRepository_SaveBatch_IssuesOneBulkStatementPerTablePerChunk(t *testing.T) {
	repo, c, mock := newRepo(t)

	items := []domain.Country{newCountry(t, "FR"), newCountry(t, "DE"), newCountry(t, "IT")}

	// Three items, one chunk: exactly one INSERT per table, not three.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country")).WillReturnResult(sqlmock.NewResult(1, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country_idx")).WillReturnResult(sqlmock.NewResult(1, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country_audit")).WillReturnResult(sqlmock.NewResult(1, 3))

	result := repo.SaveBatch(context.Background(), items, uuid.New(), batch.Options{ChunkSize: 10})

	assert.True(t, result.OK())

	for _, item := range items {
		_, ok := c.GetByISO2(nil, item.ISO2.String())
		assert.True(t, ok)
	}

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountryRepository_DeleteBatch_IssuesOneBulkStatementPerTablePerChunk(t *testing.T) {
	repo, c, mock := newRepo(t)

	fr := newCountry(t, "FR")
	de := newCountry(t, "DE")

	c.Add(domain.CountryIndex{ID: fr.ID, ISO2: "FR", Version: 0, Hash: 1, IsActive: true})
	c.Add(domain.CountryIndex{ID: de.ID, ISO2: "DE", Version: 0, Hash: 2, IsActive: true})

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM country_idx")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM country")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO country_audit")).WillReturnResult(sqlmock.NewResult(1, 2))

	result := repo.DeleteBatch(context.Background(), []uuid.UUID{fr.ID, de.ID}, uuid.New(), batch.Options{ChunkSize: 10})

	assert.True(t, result.OK())
	assert.False(t, c.ContainsPrimary(nil, fr.ID))
	assert.False(t, c.ContainsPrimary(nil, de.ID))
	require.NoError(t, mock.ExpectationsWereMet())
}
