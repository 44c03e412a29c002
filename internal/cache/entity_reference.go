package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/LerianStudio/person-data-store/internal/domain"
)

type entityReferenceKey struct {
	personID   uuid.UUID
	role       domain.EntityRole
	extIDHash  uint64
}

// EntityReferenceCache caches EntityReference's index rows, keyed
// secondarily by the (person_id, entity_role, reference_external_id)
// triple spec.md §3 marks unique, and by person_id alone for the
// hierarchical get_by_person_id finder.
type EntityReferenceCache struct {
	table *Table[domain.EntityReferenceIndex]

	mu       sync.RWMutex
	byTriple map[entityReferenceKey]uuid.UUID
	byPerson map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewEntityReferenceCache constructs an empty cache.
func NewEntityReferenceCache() *EntityReferenceCache {
	return &EntityReferenceCache{
		table:    NewTable[domain.EntityReferenceIndex](),
		byTriple: make(map[entityReferenceKey]uuid.UUID),
		byPerson: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (c *EntityReferenceCache) GetByPrimary(tok *Token, id uuid.UUID) (domain.EntityReferenceIndex, bool) {
	return c.table.GetByPrimary(tok, id)
}

func (c *EntityReferenceCache) ContainsPrimary(tok *Token, id uuid.UUID) bool {
	return c.table.ContainsPrimary(tok, id)
}

func keyOf(idx domain.EntityReferenceIndex) entityReferenceKey {
	return entityReferenceKey{personID: idx.PersonID, role: idx.EntityRole, extIDHash: idx.ReferenceExternalIDHash}
}

// GetByTriple implements the unique (person_id, entity_role,
// reference_external_id) lookup spec.md §3 requires for duplicate
// detection on save.
func (c *EntityReferenceCache) GetByTriple(tok *Token, personID uuid.UUID, role domain.EntityRole, extIDHash uint64) (uuid.UUID, bool) {
	key := entityReferenceKey{personID: personID, role: role, extIDHash: extIDHash}
	pending := make(map[entityReferenceKey]*uuid.UUID)

	for _, op := range c.table.StagedOps(tok) {
		k := keyOf(op.Item)
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

	id, ok := c.byTriple[key]

	return id, ok
}

// GetByPersonID implements get_by_person_id.
func (c *EntityReferenceCache) GetByPersonID(tok *Token, personID uuid.UUID) []uuid.UUID {
	c.mu.RLock()
	result := make(map[uuid.UUID]struct{}, len(c.byPerson[personID]))
	for id := range c.byPerson[personID] {
		result[id] = struct{}{}
	}
	c.mu.RUnlock()

	for _, op := range c.table.StagedOps(tok) {
		if op.Item.PersonID != personID {
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

func (c *EntityReferenceCache) StageAdd(tok *Token, idx domain.EntityReferenceIndex) {
	c.table.StageAdd(tok, idx.ID, idx)
}

func (c *EntityReferenceCache) StageRemove(tok *Token, id uuid.UUID) {
	if idx, ok := c.table.GetByPrimary(tok, id); ok {
		c.table.StageRemoveWithItem(tok, id, idx)
		return
	}

	c.table.StageRemove(tok, id)
}

func (c *EntityReferenceCache) Promote(tok *Token) {
	c.table.Promote(tok, func(op Op[domain.EntityReferenceIndex], previous domain.EntityReferenceIndex, hadPrevious bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if hadPrevious {
			delete(c.byTriple, keyOf(previous))

			if set, ok := c.byPerson[previous.PersonID]; ok {
				delete(set, op.ID)
			}
		}

		if op.Removed {
			return
		}

		c.byTriple[keyOf(op.Item)] = op.ID

		set, ok := c.byPerson[op.Item.PersonID]
		if !ok {
			set = make(map[uuid.UUID]struct{})
			c.byPerson[op.Item.PersonID] = set
		}

		set[op.ID] = struct{}{}
	})
}

func (c *EntityReferenceCache) Discard(tok *Token) {
	c.table.Discard(tok)
}

// Add commits idx directly (pool-mode / warmup use).
func (c *EntityReferenceCache) Add(idx domain.EntityReferenceIndex) {
	tok := NewToken()
	c.StageAdd(tok, idx)
	c.Promote(tok)
}

// Remove deletes id directly (pool-mode use).
func (c *EntityReferenceCache) Remove(id uuid.UUID) {
	tok := NewToken()
	c.StageRemove(tok, id)
	c.Promote(tok)
}

func (c *EntityReferenceCache) Iter() map[uuid.UUID]domain.EntityReferenceIndex {
	return c.table.Iter()
}
