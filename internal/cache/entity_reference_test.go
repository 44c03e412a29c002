package cache_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/domain"
)

func TestEntityReferenceCache_TripleUniquenessLookup(t *testing.T) {
	c := cache.NewEntityReferenceCache()
	person := uuid.New()
	id := uuid.New()

	idx := domain.EntityReferenceIndex{
		ID:                       id,
		PersonID:                 person,
		EntityRole:               domain.RoleEmployee,
		ReferenceExternalIDHash:  99,
		Version:                  0,
		Hash:                     1,
	}

	c.Add(idx)

	foundID, ok := c.GetByTriple(nil, person, domain.RoleEmployee, 99)
	require.True(t, ok)
	assert.Equal(t, id, foundID)

	_, ok = c.GetByTriple(nil, person, domain.RoleCustomer, 99)
	assert.False(t, ok)
}

func TestEntityReferenceCache_ByPersonIDTracksMembership(t *testing.T) {
	c := cache.NewEntityReferenceCache()
	person := uuid.New()
	ref1 := uuid.New()
	ref2 := uuid.New()

	c.Add(domain.EntityReferenceIndex{ID: ref1, PersonID: person, EntityRole: domain.RoleEmployee, ReferenceExternalIDHash: 1})
	c.Add(domain.EntityReferenceIndex{ID: ref2, PersonID: person, EntityRole: domain.RoleCustomer, ReferenceExternalIDHash: 2})

	assert.ElementsMatch(t, []uuid.UUID{ref1, ref2}, c.GetByPersonID(nil, person))

	c.Remove(ref1)

	assert.Equal(t, []uuid.UUID{ref2}, c.GetByPersonID(nil, person))
}

func TestEntityReferenceCache_SessionIsolation(t *testing.T) {
	c := cache.NewEntityReferenceCache()
	person := uuid.New()
	id := uuid.New()

	tok := cache.NewToken()
	c.StageAdd(tok, domain.EntityReferenceIndex{ID: id, PersonID: person, EntityRole: domain.RoleEmployee, ReferenceExternalIDHash: 5})

	_, ok := c.GetByTriple(nil, person, domain.RoleEmployee, 5)
	assert.False(t, ok)

	_, ok = c.GetByTriple(tok, person, domain.RoleEmployee, 5)
	assert.True(t, ok)

	c.Discard(tok)

	_, ok = c.GetByTriple(tok, person, domain.RoleEmployee, 5)
	assert.False(t, ok)
}
