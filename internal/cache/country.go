package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/LerianStudio/person-data-store/internal/domain"
)

// CountryCache is the secondary-index cache for Country (spec.md §4.2),
// grounded on original_source/banking-db/tests/memory_test_country_cache.rs's
// CountryCache{by_id, by_iso2} shape. ISO2 is stored directly rather than
// hashed: spec.md §4.2 carves it out explicitly as "short enough to store
// directly".
type CountryCache struct {
	table *Table[domain.CountryIndex]

	mu     sync.RWMutex
	byISO2 map[string]uuid.UUID
}

// NewCountryCache constructs an empty CountryCache.
func NewCountryCache() *CountryCache {
	return &CountryCache{
		table:  NewTable[domain.CountryIndex](),
		byISO2: make(map[string]uuid.UUID),
	}
}

// GetByPrimary implements get_by_primary.
func (c *CountryCache) GetByPrimary(tok *Token, id uuid.UUID) (domain.CountryIndex, bool) {
	return c.table.GetByPrimary(tok, id)
}

// ContainsPrimary implements contains_primary.
func (c *CountryCache) ContainsPrimary(tok *Token, id uuid.UUID) bool {
	return c.table.ContainsPrimary(tok, id)
}

// GetByISO2 implements get_by_iso2. Staged ops for tok are replayed in
// order first so a save-then-lookup within the same session observes its
// own write; only then does it fall back to committed state.
func (c *CountryCache) GetByISO2(tok *Token, iso2 string) (uuid.UUID, bool) {
	pending := make(map[string]*uuid.UUID)

	for _, op := range c.table.StagedOps(tok) {
		if op.Removed {
			pending[op.Item.ISO2] = nil
			continue
		}

		id := op.ID
		pending[op.Item.ISO2] = &id
	}

	if ptr, staged := pending[iso2]; staged {
		if ptr == nil {
			return uuid.Nil, false
		}

		return *ptr, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byISO2[iso2]

	return id, ok
}

// StageAdd stages an insert/update of idx within tok's session.
func (c *CountryCache) StageAdd(tok *Token, idx domain.CountryIndex) {
	c.table.StageAdd(tok, idx.ID, idx)
}

// StageRemove stages a removal of id within tok's session. The current
// index row (from this session's view) is captured in the staged op so
// GetByISO2 can invalidate the right key without a second round trip.
func (c *CountryCache) StageRemove(tok *Token, id uuid.UUID) {
	if idx, ok := c.table.GetByPrimary(tok, id); ok {
		c.table.StageRemoveWithItem(tok, id, idx)
		return
	}

	c.table.StageRemove(tok, id)
}

// Promote applies tok's staged ops to both the primary map and the iso2
// secondary index as one atomic step (spec.md §4.2, "commit promotes
// staged state atomically").
func (c *CountryCache) Promote(tok *Token) {
	c.table.Promote(tok, func(op Op[domain.CountryIndex], previous domain.CountryIndex, hadPrevious bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if hadPrevious {
			delete(c.byISO2, previous.ISO2)
		}

		if !op.Removed {
			c.byISO2[op.Item.ISO2] = op.ID
		}
	})
}

// Discard drops tok's overlay without touching committed state.
func (c *CountryCache) Discard(tok *Token) {
	c.table.Discard(tok)
}

// Add commits idx directly (pool-mode / warmup use).
func (c *CountryCache) Add(idx domain.CountryIndex) {
	tok := NewToken()
	c.StageAdd(tok, idx)
	c.Promote(tok)
}

// Remove deletes id directly (pool-mode use).
func (c *CountryCache) Remove(id uuid.UUID) {
	tok := NewToken()
	c.StageRemove(tok, id)
	c.Promote(tok)
}

// Iter returns a snapshot of the committed index rows.
func (c *CountryCache) Iter() map[uuid.UUID]domain.CountryIndex {
	return c.table.Iter()
}
