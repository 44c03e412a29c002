package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/LerianStudio/person-data-store/internal/domain"
)

// LocationCache caches Location's index rows, keyed secondarily by
// locality_id for the hierarchical get_by_locality_id finder. Location
// carries no uniqueness constraint (spec.md §3: "a different address for
// the same customer creates a new Location"), so there is no value-based
// secondary key here.
type LocationCache struct {
	table *Table[domain.LocationIndex]

	mu         sync.RWMutex
	byLocality map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewLocationCache constructs an empty cache.
func NewLocationCache() *LocationCache {
	return &LocationCache{
		table:      NewTable[domain.LocationIndex](),
		byLocality: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (c *LocationCache) GetByPrimary(tok *Token, id uuid.UUID) (domain.LocationIndex, bool) {
	return c.table.GetByPrimary(tok, id)
}

func (c *LocationCache) ContainsPrimary(tok *Token, id uuid.UUID) bool {
	return c.table.ContainsPrimary(tok, id)
}

// GetByLocalityID implements get_by_locality_id.
func (c *LocationCache) GetByLocalityID(tok *Token, localityID uuid.UUID) []uuid.UUID {
	c.mu.RLock()
	result := make(map[uuid.UUID]struct{}, len(c.byLocality[localityID]))
	for id := range c.byLocality[localityID] {
		result[id] = struct{}{}
	}
	c.mu.RUnlock()

	for _, op := range c.table.StagedOps(tok) {
		if op.Item.LocalityID != localityID {
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

func (c *LocationCache) StageAdd(tok *Token, idx domain.LocationIndex) {
	c.table.StageAdd(tok, idx.ID, idx)
}

func (c *LocationCache) StageRemove(tok *Token, id uuid.UUID) {
	if idx, ok := c.table.GetByPrimary(tok, id); ok {
		c.table.StageRemoveWithItem(tok, id, idx)
		return
	}

	c.table.StageRemove(tok, id)
}

func (c *LocationCache) Promote(tok *Token) {
	c.table.Promote(tok, func(op Op[domain.LocationIndex], previous domain.LocationIndex, hadPrevious bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if hadPrevious {
			if set, ok := c.byLocality[previous.LocalityID]; ok {
				delete(set, op.ID)
			}
		}

		if !op.Removed {
			set, ok := c.byLocality[op.Item.LocalityID]
			if !ok {
				set = make(map[uuid.UUID]struct{})
				c.byLocality[op.Item.LocalityID] = set
			}

			set[op.ID] = struct{}{}
		}
	})
}

func (c *LocationCache) Discard(tok *Token) {
	c.table.Discard(tok)
}

// Add commits idx directly (pool-mode / warmup use).
func (c *LocationCache) Add(idx domain.LocationIndex) {
	tok := NewToken()
	c.StageAdd(tok, idx)
	c.Promote(tok)
}

// Remove deletes id directly (pool-mode use).
func (c *LocationCache) Remove(id uuid.UUID) {
	tok := NewToken()
	c.StageRemove(tok, id)
	c.Promote(tok)
}

func (c *LocationCache) Iter() map[uuid.UUID]domain.LocationIndex {
	return c.table.Iter()
}
