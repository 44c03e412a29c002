package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/LerianStudio/person-data-store/internal/domain"
)

// MessagingCache caches Messaging's index rows, keyed secondarily by
// value_hash. Messaging carries no uniqueness constraint on value — the
// same phone number or email may legitimately appear on more than one
// record — so get_by_value returns a slice (spec.md §4.2,
// "get_by_<secondary>... -> Vec<id> for one-to-many").
type MessagingCache struct {
	table *Table[domain.MessagingIndex]

	mu      sync.RWMutex
	byValue map[uint64]map[uuid.UUID]struct{}
}

// NewMessagingCache constructs an empty cache.
func NewMessagingCache() *MessagingCache {
	return &MessagingCache{
		table:   NewTable[domain.MessagingIndex](),
		byValue: make(map[uint64]map[uuid.UUID]struct{}),
	}
}

func (c *MessagingCache) GetByPrimary(tok *Token, id uuid.UUID) (domain.MessagingIndex, bool) {
	return c.table.GetByPrimary(tok, id)
}

func (c *MessagingCache) ContainsPrimary(tok *Token, id uuid.UUID) bool {
	return c.table.ContainsPrimary(tok, id)
}

// GetByValueHash implements get_by_value.
func (c *MessagingCache) GetByValueHash(tok *Token, hash uint64) []uuid.UUID {
	c.mu.RLock()
	result := make(map[uuid.UUID]struct{}, len(c.byValue[hash]))
	for id := range c.byValue[hash] {
		result[id] = struct{}{}
	}
	c.mu.RUnlock()

	for _, op := range c.table.StagedOps(tok) {
		if op.Item.ValueHash != hash {
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

func (c *MessagingCache) StageAdd(tok *Token, idx domain.MessagingIndex) {
	c.table.StageAdd(tok, idx.ID, idx)
}

func (c *MessagingCache) StageRemove(tok *Token, id uuid.UUID) {
	if idx, ok := c.table.GetByPrimary(tok, id); ok {
		c.table.StageRemoveWithItem(tok, id, idx)
		return
	}

	c.table.StageRemove(tok, id)
}

func (c *MessagingCache) Promote(tok *Token) {
	c.table.Promote(tok, func(op Op[domain.MessagingIndex], previous domain.MessagingIndex, hadPrevious bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if hadPrevious {
			if set, ok := c.byValue[previous.ValueHash]; ok {
				delete(set, op.ID)
			}
		}

		if !op.Removed {
			set, ok := c.byValue[op.Item.ValueHash]
			if !ok {
				set = make(map[uuid.UUID]struct{})
				c.byValue[op.Item.ValueHash] = set
			}

			set[op.ID] = struct{}{}
		}
	})
}

func (c *MessagingCache) Discard(tok *Token) {
	c.table.Discard(tok)
}

// Add commits idx directly (pool-mode / warmup use).
func (c *MessagingCache) Add(idx domain.MessagingIndex) {
	tok := NewToken()
	c.StageAdd(tok, idx)
	c.Promote(tok)
}

// Remove deletes id directly (pool-mode use).
func (c *MessagingCache) Remove(id uuid.UUID) {
	tok := NewToken()
	c.StageRemove(tok, id)
	c.Promote(tok)
}

func (c *MessagingCache) Iter() map[uuid.UUID]domain.MessagingIndex {
	return c.table.Iter()
}
