package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/LerianStudio/person-data-store/internal/domain"
)

// PersonCache caches Person's index rows, keyed secondarily by
// external_identifier_hash (when present) and by organization_person_id
// for listing an organization's direct members. The acyclic-chain walk
// over OrganizationPersonID follows each PersonIndex upward through
// GetByPrimary and does not use the organization_person_id index.
type PersonCache struct {
	table *Table[domain.PersonIndex]

	mu               sync.RWMutex
	byExternalID     map[uint64]uuid.UUID
	byOrganizationID map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewPersonCache constructs an empty cache.
func NewPersonCache() *PersonCache {
	return &PersonCache{
		table:            NewTable[domain.PersonIndex](),
		byExternalID:     make(map[uint64]uuid.UUID),
		byOrganizationID: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (c *PersonCache) GetByPrimary(tok *Token, id uuid.UUID) (domain.PersonIndex, bool) {
	return c.table.GetByPrimary(tok, id)
}

func (c *PersonCache) ContainsPrimary(tok *Token, id uuid.UUID) bool {
	return c.table.ContainsPrimary(tok, id)
}

// GetByExternalIdentifierHash implements get_by_external_identifier.
func (c *PersonCache) GetByExternalIdentifierHash(tok *Token, hash uint64) (uuid.UUID, bool) {
	pending := make(map[uint64]*uuid.UUID)

	for _, op := range c.table.StagedOps(tok) {
		if op.Item.ExternalIdentifierHash == nil {
			continue
		}

		h := *op.Item.ExternalIdentifierHash
		if op.Removed {
			pending[h] = nil
			continue
		}

		id := op.ID
		pending[h] = &id
	}

	if ptr, staged := pending[hash]; staged {
		if ptr == nil {
			return uuid.Nil, false
		}

		return *ptr, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byExternalID[hash]

	return id, ok
}

// GetByOrganizationPersonID implements get_by_organization_person_id, used
// to enumerate an organization's direct members.
func (c *PersonCache) GetByOrganizationPersonID(tok *Token, orgID uuid.UUID) []uuid.UUID {
	c.mu.RLock()
	result := make(map[uuid.UUID]struct{}, len(c.byOrganizationID[orgID]))
	for id := range c.byOrganizationID[orgID] {
		result[id] = struct{}{}
	}
	c.mu.RUnlock()

	for _, op := range c.table.StagedOps(tok) {
		if op.Item.OrganizationPersonID == nil || *op.Item.OrganizationPersonID != orgID {
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

func (c *PersonCache) StageAdd(tok *Token, idx domain.PersonIndex) {
	c.table.StageAdd(tok, idx.ID, idx)
}

func (c *PersonCache) StageRemove(tok *Token, id uuid.UUID) {
	if idx, ok := c.table.GetByPrimary(tok, id); ok {
		c.table.StageRemoveWithItem(tok, id, idx)
		return
	}

	c.table.StageRemove(tok, id)
}

func (c *PersonCache) Promote(tok *Token) {
	c.table.Promote(tok, func(op Op[domain.PersonIndex], previous domain.PersonIndex, hadPrevious bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if hadPrevious {
			if previous.ExternalIdentifierHash != nil {
				delete(c.byExternalID, *previous.ExternalIdentifierHash)
			}

			if previous.OrganizationPersonID != nil {
				if set, ok := c.byOrganizationID[*previous.OrganizationPersonID]; ok {
					delete(set, op.ID)
				}
			}
		}

		if op.Removed {
			return
		}

		if op.Item.ExternalIdentifierHash != nil {
			c.byExternalID[*op.Item.ExternalIdentifierHash] = op.ID
		}

		if op.Item.OrganizationPersonID != nil {
			set, ok := c.byOrganizationID[*op.Item.OrganizationPersonID]
			if !ok {
				set = make(map[uuid.UUID]struct{})
				c.byOrganizationID[*op.Item.OrganizationPersonID] = set
			}

			set[op.ID] = struct{}{}
		}
	})
}

func (c *PersonCache) Discard(tok *Token) {
	c.table.Discard(tok)
}

// Add commits idx directly (pool-mode / warmup use).
func (c *PersonCache) Add(idx domain.PersonIndex) {
	tok := NewToken()
	c.StageAdd(tok, idx)
	c.Promote(tok)
}

// Remove deletes id directly (pool-mode use).
func (c *PersonCache) Remove(id uuid.UUID) {
	tok := NewToken()
	c.StageRemove(tok, id)
	c.Promote(tok)
}

func (c *PersonCache) Iter() map[uuid.UUID]domain.PersonIndex {
	return c.table.Iter()
}
