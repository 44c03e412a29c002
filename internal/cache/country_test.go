package cache_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/domain"
)

func TestCountryCache_TransactionalVisibility(t *testing.T) {
	c := cache.NewCountryCache()
	id := uuid.New()
	idx := domain.CountryIndex{ID: id, ISO2: "FR", Version: 0, Hash: 1, IsActive: true}

	s1 := cache.NewToken()
	s2 := cache.NewToken()

	c.StageAdd(s1, idx)

	// Spec.md §9, scenario 3: same-session reads see the staged write...
	got, ok := c.GetByPrimary(s1, id)
	require.True(t, ok)
	assert.Equal(t, idx, got)

	foundID, ok := c.GetByISO2(s1, "FR")
	require.True(t, ok)
	assert.Equal(t, id, foundID)

	// ...a parallel session sees nothing until commit...
	assert.False(t, c.ContainsPrimary(s2, id))
	_, ok = c.GetByISO2(s2, "FR")
	assert.False(t, ok)

	// ...and neither does a pool-mode (no-token) reader.
	assert.False(t, c.ContainsPrimary(nil, id))

	c.Promote(s1)

	assert.True(t, c.ContainsPrimary(s2, id))
	assert.True(t, c.ContainsPrimary(nil, id))

	foundID, ok = c.GetByISO2(nil, "FR")
	require.True(t, ok)
	assert.Equal(t, id, foundID)
}

func TestCountryCache_RollbackDiscardsStagedWrite(t *testing.T) {
	c := cache.NewCountryCache()
	id := uuid.New()

	c.StageAdd(cache.NewToken(), domain.CountryIndex{ID: id, ISO2: "CM"})

	s := cache.NewToken()
	c.StageAdd(s, domain.CountryIndex{ID: id, ISO2: "CM"})
	c.Discard(s)

	assert.False(t, c.ContainsPrimary(nil, id))
	assert.False(t, c.ContainsPrimary(s, id))
}

func TestCountryCache_StageRemove_InvalidatesISO2WithinSession(t *testing.T) {
	c := cache.NewCountryCache()
	id := uuid.New()
	c.Add(domain.CountryIndex{ID: id, ISO2: "US", IsActive: true})

	s := cache.NewToken()
	c.StageRemove(s, id)

	_, ok := c.GetByISO2(s, "US")
	assert.False(t, ok, "a staged removal must hide the iso2 lookup within the same session")

	// Unrelated readers still see the committed row until commit.
	_, ok = c.GetByISO2(nil, "US")
	assert.True(t, ok)

	c.Promote(s)

	_, ok = c.GetByISO2(nil, "US")
	assert.False(t, ok)
}

func TestCountryCache_Iter_NeverReflectsStagedWrites(t *testing.T) {
	c := cache.NewCountryCache()
	committed := uuid.New()
	c.Add(domain.CountryIndex{ID: committed, ISO2: "DE"})

	s := cache.NewToken()
	c.StageAdd(s, domain.CountryIndex{ID: uuid.New(), ISO2: "IT"})

	snapshot := c.Iter()
	assert.Len(t, snapshot, 1)
	_, ok := snapshot[committed]
	assert.True(t, ok)
}
