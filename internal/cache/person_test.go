package cache_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/domain"
)

func TestPersonCache_TransactionalVisibility(t *testing.T) {
	c := cache.NewPersonCache()
	id := uuid.New()
	hash := uint64(42)
	idx := domain.PersonIndex{ID: id, ExternalIdentifierHash: &hash, Version: 0, Hash: 7}

	s1 := cache.NewToken()
	s2 := cache.NewToken()

	c.StageAdd(s1, idx)

	got, ok := c.GetByPrimary(s1, id)
	require.True(t, ok)
	assert.Equal(t, idx, got)

	foundID, ok := c.GetByExternalIdentifierHash(s1, hash)
	require.True(t, ok)
	assert.Equal(t, id, foundID)

	assert.False(t, c.ContainsPrimary(s2, id))
	_, ok = c.GetByExternalIdentifierHash(s2, hash)
	assert.False(t, ok)

	c.Promote(s1)

	assert.True(t, c.ContainsPrimary(nil, id))

	foundID, ok = c.GetByExternalIdentifierHash(nil, hash)
	require.True(t, ok)
	assert.Equal(t, id, foundID)
}

func TestPersonCache_OrganizationIndexTracksMembers(t *testing.T) {
	c := cache.NewPersonCache()
	org := uuid.New()
	member1 := uuid.New()
	member2 := uuid.New()

	c.Add(domain.PersonIndex{ID: member1, OrganizationPersonID: &org})
	c.Add(domain.PersonIndex{ID: member2, OrganizationPersonID: &org})

	members := c.GetByOrganizationPersonID(nil, org)
	assert.ElementsMatch(t, []uuid.UUID{member1, member2}, members)

	c.Remove(member1)

	members = c.GetByOrganizationPersonID(nil, org)
	assert.Equal(t, []uuid.UUID{member2}, members)
}

func TestPersonCache_PromoteClearsStaleSecondaryIndexOnUpdate(t *testing.T) {
	c := cache.NewPersonCache()
	id := uuid.New()
	oldHash := uint64(1)
	newHash := uint64(2)

	c.Add(domain.PersonIndex{ID: id, ExternalIdentifierHash: &oldHash})

	tok := cache.NewToken()
	c.StageAdd(tok, domain.PersonIndex{ID: id, ExternalIdentifierHash: &newHash})
	c.Promote(tok)

	_, ok := c.GetByExternalIdentifierHash(nil, oldHash)
	assert.False(t, ok)

	foundID, ok := c.GetByExternalIdentifierHash(nil, newHash)
	require.True(t, ok)
	assert.Equal(t, id, foundID)
}

func TestPersonCache_RemoveDiscardsOrganizationMembership(t *testing.T) {
	c := cache.NewPersonCache()
	org := uuid.New()
	id := uuid.New()

	c.Add(domain.PersonIndex{ID: id, OrganizationPersonID: &org})
	c.Remove(id)

	assert.Empty(t, c.GetByOrganizationPersonID(nil, org))
	assert.False(t, c.ContainsPrimary(nil, id))
}
