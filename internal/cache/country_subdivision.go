package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/LerianStudio/person-data-store/internal/domain"
)

type subdivisionKey struct {
	countryID uuid.UUID
	codeHash  uint64
}

// CountrySubdivisionCache caches CountrySubdivision's index rows, keyed
// secondarily by (country_id, code_hash) per spec.md §3's "unique within
// country" rule, and by country_id alone for the hierarchical
// get_by_country_id finder (spec.md §4.2, "get_by_<parent_fk>").
type CountrySubdivisionCache struct {
	table *Table[domain.CountrySubdivisionIndex]

	mu         sync.RWMutex
	byCode     map[subdivisionKey]uuid.UUID
	byCountry  map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewCountrySubdivisionCache constructs an empty cache.
func NewCountrySubdivisionCache() *CountrySubdivisionCache {
	return &CountrySubdivisionCache{
		table:     NewTable[domain.CountrySubdivisionIndex](),
		byCode:    make(map[subdivisionKey]uuid.UUID),
		byCountry: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (c *CountrySubdivisionCache) GetByPrimary(tok *Token, id uuid.UUID) (domain.CountrySubdivisionIndex, bool) {
	return c.table.GetByPrimary(tok, id)
}

func (c *CountrySubdivisionCache) ContainsPrimary(tok *Token, id uuid.UUID) bool {
	return c.table.ContainsPrimary(tok, id)
}

// GetByCode implements get_by_code (unique within a country).
func (c *CountrySubdivisionCache) GetByCode(tok *Token, countryID uuid.UUID, codeHash uint64) (uuid.UUID, bool) {
	key := subdivisionKey{countryID: countryID, codeHash: codeHash}
	pending := make(map[subdivisionKey]*uuid.UUID)

	for _, op := range c.table.StagedOps(tok) {
		k := subdivisionKey{countryID: op.Item.CountryID, codeHash: op.Item.CodeHash}
		if op.Removed {
			pending[k] = nil
			continue
		}

		id := op.ID
		pending[k] = &id
	}

	if ptr, staged := pending[key]; staged {
		if ptr == nil {
			return uuid.Nil, false
		}

		return *ptr, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byCode[key]

	return id, ok
}

// GetByCountryID implements get_by_country_id, the hierarchical child
// finder. Staged adds/removes for tok are folded in before falling back to
// committed membership.
func (c *CountrySubdivisionCache) GetByCountryID(tok *Token, countryID uuid.UUID) []uuid.UUID {
	c.mu.RLock()
	result := make(map[uuid.UUID]struct{}, len(c.byCountry[countryID]))
	for id := range c.byCountry[countryID] {
		result[id] = struct{}{}
	}
	c.mu.RUnlock()

	for _, op := range c.table.StagedOps(tok) {
		if op.Item.CountryID != countryID {
			continue
		}

		if op.Removed {
			delete(result, op.ID)
		} else {
			result[op.ID] = struct{}{}
		}
	}

	out := make([]uuid.UUID, 0, len(result))
	for id := range result {
		out = append(out, id)
	}

	return out
}

func (c *CountrySubdivisionCache) StageAdd(tok *Token, idx domain.CountrySubdivisionIndex) {
	c.table.StageAdd(tok, idx.ID, idx)
}

func (c *CountrySubdivisionCache) StageRemove(tok *Token, id uuid.UUID) {
	if idx, ok := c.table.GetByPrimary(tok, id); ok {
		c.table.StageRemoveWithItem(tok, id, idx)
		return
	}

	c.table.StageRemove(tok, id)
}

// Promote applies tok's staged ops to the primary map and both secondary
// indexes atomically.
func (c *CountrySubdivisionCache) Promote(tok *Token) {
	c.table.Promote(tok, func(op Op[domain.CountrySubdivisionIndex], previous domain.CountrySubdivisionIndex, hadPrevious bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if hadPrevious {
			delete(c.byCode, subdivisionKey{countryID: previous.CountryID, codeHash: previous.CodeHash})

			if set, ok := c.byCountry[previous.CountryID]; ok {
				delete(set, op.ID)
			}
		}

		if !op.Removed {
			c.byCode[subdivisionKey{countryID: op.Item.CountryID, codeHash: op.Item.CodeHash}] = op.ID

			set, ok := c.byCountry[op.Item.CountryID]
			if !ok {
				set = make(map[uuid.UUID]struct{})
				c.byCountry[op.Item.CountryID] = set
			}

			set[op.ID] = struct{}{}
		}
	})
}

func (c *CountrySubdivisionCache) Discard(tok *Token) {
	c.table.Discard(tok)
}

// Add commits idx directly (pool-mode / warmup use), by staging under a
// throwaway token and promoting it immediately so the same secondary-index
// bookkeeping in Promote runs for both paths.
func (c *CountrySubdivisionCache) Add(idx domain.CountrySubdivisionIndex) {
	tok := NewToken()
	c.StageAdd(tok, idx)
	c.Promote(tok)
}

// Remove deletes id directly (pool-mode use).
func (c *CountrySubdivisionCache) Remove(id uuid.UUID) {
	tok := NewToken()
	c.StageRemove(tok, id)
	c.Promote(tok)
}

func (c *CountrySubdivisionCache) Iter() map[uuid.UUID]domain.CountrySubdivisionIndex {
	return c.table.Iter()
}
