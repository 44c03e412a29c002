package entityreference_test

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
	"github.com/LerianStudio/person-data-store/internal/personerr"
	"github.com/LerianStudio/person-data-store/internal/repository/entityreference"
)

func newRepo(t *testing.T) (*entityreference.Repository, *cache.PersonCache, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	personCache := cache.NewPersonCache()
	repo := entityreference.New(dbexec.NewPooled(db), cache.NewEntityReferenceCache(), personCache, nil, 1, log.NewNop())

	return repo, personCache, mock
}

func mustBounded(t *testing.T, field, value string, max int) domain.BoundedString {
	t.Helper()

	bs, err := domain.NewRequiredBoundedString(field, value, max)
	require.NoError(t, err)

	return bs
}

func TestEntityReferenceRepository_Save_RejectsMissingPerson(t *testing.T) {
	repo, _, _ := newRepo(t)

	er := domain.EntityReference{
		ID:                  uuid.New(),
		PersonID:            uuid.New(),
		EntityRole:          domain.RoleEmployee,
		ReferenceExternalID: mustBounded(t, "reference_external_id", "EMP-1", domain.MaxEntityReferenceExtLen),
	}

	_, err := repo.Save(context.Background(), er, uuid.New())

	var missing personerr.ReferencedParentMissing
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "person_id", missing.Field)
}

func TestEntityReferenceRepository_Save_RejectsDuplicateTriple(t *testing.T) {
	repo, personCache, mock := newRepo(t)

	personID := uuid.New()
	personCache.Add(domain.PersonIndex{ID: personID})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entity_reference")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entity_reference_idx")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entity_reference_audit")).WillReturnResult(sqlmock.NewResult(1, 1))

	first := domain.EntityReference{
		ID:                  uuid.New(),
		PersonID:            personID,
		EntityRole:          domain.RoleEmployee,
		ReferenceExternalID: mustBounded(t, "reference_external_id", "EMP-1", domain.MaxEntityReferenceExtLen),
	}

	_, err := repo.Save(context.Background(), first, uuid.New())
	require.NoError(t, err)

	second := domain.EntityReference{
		ID:                  uuid.New(),
		PersonID:            personID,
		EntityRole:          domain.RoleEmployee,
		ReferenceExternalID: mustBounded(t, "reference_external_id", "EMP-1", domain.MaxEntityReferenceExtLen),
	}

	_, err = repo.Save(context.Background(), second, uuid.New())

	var dup personerr.Duplicate
	require.ErrorAs(t, err, &dup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityReferenceRepository_SaveBatch_IssuesOneBulkStatementPerTablePerChunk(t *testing.T) {
	repo, personCache, mock := newRepo(t)

	personID := uuid.New()
	personCache.Add(domain.PersonIndex{ID: personID})

	items := []domain.EntityReference{
		{ID: uuid.New(), PersonID: personID, EntityRole: domain.RoleEmployee, ReferenceExternalID: mustBounded(t, "reference_external_id", "EMP-1", domain.MaxEntityReferenceExtLen)},
		{ID: uuid.New(), PersonID: personID, EntityRole: domain.RoleEmployee, ReferenceExternalID: mustBounded(t, "reference_external_id", "EMP-2", domain.MaxEntityReferenceExtLen)},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entity_reference")).WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entity_reference_idx")).WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entity_reference_audit")).WillReturnResult(sqlmock.NewResult(1, 2))

	result := repo.SaveBatch(context.Background(), items, uuid.New(), batch.Options{ChunkSize: 10})

	assert.True(t, result.OK())

	for _, er := range items {
		assert.True(t, repo.ExistsByID(er.ID))
	}

	require.NoError(t, mock.ExpectationsWereMet())
}
