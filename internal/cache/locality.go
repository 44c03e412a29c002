package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/LerianStudio/person-data-store/internal/domain"
)

type localityKey struct {
	subdivisionID uuid.UUID
	codeHash      uint64
}

// LocalityCache caches Locality's index rows, keyed secondarily by
// (country_subdivision_id, code_hash) per spec.md §3's "unique within
// subdivision" rule, and by subdivision id for the hierarchical
// get_by_country_subdivision_id finder.
type LocalityCache struct {
	table *Table[domain.LocalityIndex]

	mu             sync.RWMutex
	byCode         map[localityKey]uuid.UUID
	bySubdivision  map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewLocalityCache constructs an empty cache.
func NewLocalityCache() *LocalityCache {
	return &LocalityCache{
		table:         NewTable[domain.LocalityIndex](),
		byCode:        make(map[localityKey]uuid.UUID),
		bySubdivision: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (c *LocalityCache) GetByPrimary(tok *Token, id uuid.UUID) (domain.LocalityIndex, bool) {
	return c.table.GetByPrimary(tok, id)
}

func (c *LocalityCache) ContainsPrimary(tok *Token, id uuid.UUID) bool {
	return c.table.ContainsPrimary(tok, id)
}

// GetByCode implements get_by_code (unique within a subdivision).
func (c *LocalityCache) GetByCode(tok *Token, subdivisionID uuid.UUID, codeHash uint64) (uuid.UUID, bool) {
	key := localityKey{subdivisionID: subdivisionID, codeHash: codeHash}
	pending := make(map[localityKey]*uuid.UUID)

	for _, op := range c.table.StagedOps(tok) {
		k := localityKey{subdivisionID: op.Item.CountrySubdivisionID, codeHash: op.Item.CodeHash}
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

// GetByCountrySubdivisionID implements the hierarchical child finder used
// by the "reject subdivision deletion while any Locality references it"
// invariant (spec.md §4.3).
func (c *LocalityCache) GetByCountrySubdivisionID(tok *Token, subdivisionID uuid.UUID) []uuid.UUID {
	c.mu.RLock()
	result := make(map[uuid.UUID]struct{}, len(c.bySubdivision[subdivisionID]))
	for id := range c.bySubdivision[subdivisionID] {
		result[id] = struct{}{}
	}
	c.mu.RUnlock()

	for _, op := range c.table.StagedOps(tok) {
		if op.Item.CountrySubdivisionID != subdivisionID {
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

func (c *LocalityCache) StageAdd(tok *Token, idx domain.LocalityIndex) {
	c.table.StageAdd(tok, idx.ID, idx)
}

func (c *LocalityCache) StageRemove(tok *Token, id uuid.UUID) {
	if idx, ok := c.table.GetByPrimary(tok, id); ok {
		c.table.StageRemoveWithItem(tok, id, idx)
		return
	}

	c.table.StageRemove(tok, id)
}

func (c *LocalityCache) Promote(tok *Token) {
	c.table.Promote(tok, func(op Op[domain.LocalityIndex], previous domain.LocalityIndex, hadPrevious bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if hadPrevious {
			delete(c.byCode, localityKey{subdivisionID: previous.CountrySubdivisionID, codeHash: previous.CodeHash})

			if set, ok := c.bySubdivision[previous.CountrySubdivisionID]; ok {
				delete(set, op.ID)
			}
		}

		if !op.Removed {
			c.byCode[localityKey{subdivisionID: op.Item.CountrySubdivisionID, codeHash: op.Item.CodeHash}] = op.ID

			set, ok := c.bySubdivision[op.Item.CountrySubdivisionID]
			if !ok {
				set = make(map[uuid.UUID]struct{})
				c.bySubdivision[op.Item.CountrySubdivisionID] = set
			}

			set[op.ID] = struct{}{}
		}
	})
}

func (c *LocalityCache) Discard(tok *Token) {
	c.table.Discard(tok)
}

// Add commits idx directly (pool-mode / warmup use).
func (c *LocalityCache) Add(idx domain.LocalityIndex) {
	tok := NewToken()
	c.StageAdd(tok, idx)
	c.Promote(tok)
}

// Remove deletes id directly (pool-mode use).
func (c *LocalityCache) Remove(id uuid.UUID) {
	tok := NewToken()
	c.StageRemove(tok, id)
	c.Promote(tok)
}

func (c *LocalityCache) Iter() map[uuid.UUID]domain.LocalityIndex {
	return c.table.Iter()
}
