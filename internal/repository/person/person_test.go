package person_test

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
	"github.com/LerianStudio/person-data-store/internal/repository/person"
)

func newRepo(t *testing.T) (*person.Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := person.New(dbexec.NewPooled(db), cache.NewPersonCache(), nil, 1, log.NewNop())

	return repo, mock
}

func bounded(t *testing.T, field, value string, max int) domain.BoundedString {
	t.Helper()

	bs, err := domain.NewRequiredBoundedString(field, value, max)
	require.NoError(t, err)

	return bs
}

func TestPersonRepository_Save_Success(t *testing.T) {
	repo, mock := newRepo(t)

	p := domain.Person{
		ID:          uuid.New(),
		PersonType:  domain.PersonNatural,
		DisplayName: bounded(t, "display_name", "Jane Doe", domain.MaxPersonDisplayNameLen),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO person")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO person_idx")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO person_audit")).WillReturnResult(sqlmock.NewResult(1, 1))

	idx, err := repo.Save(context.Background(), p, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, p.ID, idx.ID)
	assert.Equal(t, int64(0), idx.Version)

	assert.True(t, repo.ExistsByID(p.ID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersonRepository_Save_RejectsSelfReferencingOrganization(t *testing.T) {
	repo, _ := newRepo(t)

	id := uuid.New()
	p := domain.Person{
		ID:                   id,
		PersonType:           domain.PersonNatural,
		DisplayName:          bounded(t, "display_name", "Jane Doe", domain.MaxPersonDisplayNameLen),
		OrganizationPersonID: &id,
	}

	_, err := repo.Save(context.Background(), p, uuid.New())
	require.Error(t, err)

	var invalid personerr.InvalidInput
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "organization_person_id", invalid.Field)
}

func TestPersonRepository_Save_RejectsMissingOrganizationParent(t *testing.T) {
	repo, _ := newRepo(t)

	missing := uuid.New()
	p := domain.Person{
		ID:                   uuid.New(),
		PersonType:           domain.PersonNatural,
		DisplayName:          bounded(t, "display_name", "Jane Doe", domain.MaxPersonDisplayNameLen),
		OrganizationPersonID: &missing,
	}

	_, err := repo.Save(context.Background(), p, uuid.New())

	var notFound personerr.ReferencedParentMissing
	require.ErrorAs(t, err, &notFound)
}

func TestPersonRepository_Save_RejectsTooManyMessagingSlots(t *testing.T) {
	repo, _ := newRepo(t)

	slots := make([]domain.MessagingSlot, domain.MaxPersonMessagingSlots+1)
	for i := range slots {
		slots[i] = domain.MessagingSlot{MessagingID: uuid.New(), MessagingType: domain.MessagingEmail}
	}

	p := domain.Person{
		ID:             uuid.New(),
		PersonType:     domain.PersonNatural,
		DisplayName:    bounded(t, "display_name", "Jane Doe", domain.MaxPersonDisplayNameLen),
		MessagingSlots: slots,
	}

	_, err := repo.Save(context.Background(), p, uuid.New())

	var invalid personerr.InvalidInput
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "messaging_slots", invalid.Field)
}

func TestPersonRepository_Save_RejectsDuplicateExternalIdentifier(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO person")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO person_idx")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO person_audit")).WillReturnResult(sqlmock.NewResult(1, 1))

	extID := bounded(t, "external_identifier", "EMP-001", domain.MaxExternalIdentifierLen)

	first := domain.Person{
		ID:                 uuid.New(),
		PersonType:         domain.PersonNatural,
		DisplayName:        bounded(t, "display_name", "Jane Doe", domain.MaxPersonDisplayNameLen),
		ExternalIdentifier: &extID,
	}

	_, err := repo.Save(context.Background(), first, uuid.New())
	require.NoError(t, err)

	second := domain.Person{
		ID:                 uuid.New(),
		PersonType:         domain.PersonNatural,
		DisplayName:        bounded(t, "display_name", "John Doe", domain.MaxPersonDisplayNameLen),
		ExternalIdentifier: &extID,
	}

	_, err = repo.Save(context.Background(), second, uuid.New())

	var dup personerr.Duplicate
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "external_identifier", dup.Field)
}

func TestPersonRepository_SaveBatch_IssuesOneBulkStatementPerTablePerChunk(t *testing.T) {
	repo, mock := newRepo(t)

	items := []domain.Person{
		{ID: uuid.New(), PersonType: domain.PersonNatural, DisplayName: bounded(t, "display_name", "Jane Doe", domain.MaxPersonDisplayNameLen)},
		{ID: uuid.New(), PersonType: domain.PersonNatural, DisplayName: bounded(t, "display_name", "John Doe", domain.MaxPersonDisplayNameLen)},
	}

	// Two items, one chunk: exactly one INSERT per table, not two, even
	// though messaging_ids/messaging_types are per-row jagged arrays.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO person")).WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO person_idx")).WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO person_audit")).WillReturnResult(sqlmock.NewResult(1, 2))

	result := repo.SaveBatch(context.Background(), items, uuid.New(), batch.Options{ChunkSize: 10})

	assert.True(t, result.OK())

	for _, p := range items {
		assert.True(t, repo.ExistsByID(p.ID))
	}

	require.NoError(t, mock.ExpectationsWereMet())
}
