// Package cache implements the secondary-index cache of spec.md §4.2: a
// process-wide, in-memory projection of each entity's index row, with
// transaction-aware visibility so that a unit-of-work session sees its own
// staged writes immediately while other sessions see nothing until commit.
//
// There is no teacher file to adapt directly — pkg/transaction's
// TransactionAware-shaped contract in the original source
// (banking-db/src/repository/transaction_aware.rs) names the pattern this
// package implements: stage during a session, promote on commit, discard
// on rollback, in registration order. The generic Table here is the
// "(global read-optimized map) + (per-session pending-writes overlay)"
// design spec.md §9 calls out as the preferred model.
package cache

import (
	"sync"

	"github.com/google/uuid"
)

// Token identifies one unit-of-work session's overlay. It carries no data
// of its own — its pointer identity is the key. The session package hands
// out exactly one Token per Begin() and passes it into every repository
// call made on that session.
type Token struct{}

// NewToken allocates a fresh session token.
func NewToken() *Token { return &Token{} }

// Op describes one staged mutation against a Table, replayed in order at
// Promote time so an entity cache can keep its secondary indexes
// consistent with the primary map.
type Op[T any] struct {
	ID      uuid.UUID
	Item    T
	Removed bool
}

type overlay[T any] struct {
	mu  sync.Mutex
	ops []Op[T]
	idx map[uuid.UUID]int
}

func newOverlay[T any]() *overlay[T] {
	return &overlay[T]{idx: make(map[uuid.UUID]int)}
}

func (o *overlay[T]) stage(op Op[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.ops = append(o.ops, op)
	o.idx[op.ID] = len(o.ops) - 1
}

func (o *overlay[T]) lookup(id uuid.UUID) (op Op[T], found bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	i, ok := o.idx[id]
	if !ok {
		return Op[T]{}, false
	}

	return o.ops[i], true
}

func (o *overlay[T]) ordered() []Op[T] {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Op[T], len(o.ops))
	copy(out, o.ops)

	return out
}

// Table is a generic primary-key index cache shared by every entity's
// concrete cache (cache.CountryCache, cache.PersonCache, ...). It handles
// staging, transaction-aware reads, promotion and discard; entity caches
// layer their own secondary maps on top by replaying the same Op stream in
// onApply at Promote time.
type Table[T any] struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]T

	overlaysMu sync.Mutex
	overlays   map[*Token]*overlay[T]
}

// NewTable constructs an empty Table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		byID:     make(map[uuid.UUID]T),
		overlays: make(map[*Token]*overlay[T]),
	}
}

func (t *Table[T]) overlayFor(tok *Token) *overlay[T] {
	t.overlaysMu.Lock()
	defer t.overlaysMu.Unlock()

	ov, ok := t.overlays[tok]
	if !ok {
		ov = newOverlay[T]()
		t.overlays[tok] = ov
	}

	return ov
}

// StageAdd stages an insert/update of id, visible only to reads carrying
// tok, until Promote(tok) is called. tok must be non-nil: pool-mode
// (autocommit) callers write directly via Add/Remove instead.
func (t *Table[T]) StageAdd(tok *Token, id uuid.UUID, item T) {
	t.overlayFor(tok).stage(Op[T]{ID: id, Item: item})
}

// StageRemove stages a removal of id, visible only to reads carrying tok.
func (t *Table[T]) StageRemove(tok *Token, id uuid.UUID) {
	t.overlayFor(tok).stage(Op[T]{ID: id, Removed: true})
}

// StageRemoveWithItem stages a removal of id, recording the value being
// removed in the Op so a caller's secondary-index bookkeeping (which needs
// to know what is going away, not just which id) can replay it from
// StagedOps without a second lookup.
func (t *Table[T]) StageRemoveWithItem(tok *Token, id uuid.UUID, item T) {
	t.overlayFor(tok).stage(Op[T]{ID: id, Item: item, Removed: true})
}

// StagedOps returns a snapshot of tok's staged operations in registration
// order, for entity caches that need to resolve secondary lookups against
// a session's pending writes.
func (t *Table[T]) StagedOps(tok *Token) []Op[T] {
	if tok == nil {
		return nil
	}

	t.overlaysMu.Lock()
	ov, ok := t.overlays[tok]
	t.overlaysMu.Unlock()

	if !ok {
		return nil
	}

	return ov.ordered()
}

// GetByPrimary resolves a read for id. When tok is non-nil and has a
// staged op for id, that op wins (a staged removal is reported as absent);
// otherwise the committed map is consulted. tok==nil always reads the
// committed map, matching "external readers never see pending writes".
func (t *Table[T]) GetByPrimary(tok *Token, id uuid.UUID) (T, bool) {
	if tok != nil {
		t.overlaysMu.Lock()
		ov, ok := t.overlays[tok]
		t.overlaysMu.Unlock()

		if ok {
			if op, found := ov.lookup(id); found {
				if op.Removed {
					var zero T
					return zero, false
				}

				return op.Item, true
			}
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	item, ok := t.byID[id]

	return item, ok
}

// ContainsPrimary is a convenience wrapper over GetByPrimary.
func (t *Table[T]) ContainsPrimary(tok *Token, id uuid.UUID) bool {
	_, ok := t.GetByPrimary(tok, id)
	return ok
}

// Add commits id directly to the global map, bypassing staging. Used by
// pool-mode (autocommit) writers that have no session to stage within.
func (t *Table[T]) Add(id uuid.UUID, item T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.byID[id] = item
}

// Remove deletes id directly from the global map, bypassing staging.
func (t *Table[T]) Remove(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.byID, id)
}

// Promote applies tok's staged ops to the committed map in registration
// order and discards the overlay. onApply is invoked once per op, with the
// table's write lock held, so an entity cache can fold the same ops into
// its own secondary maps as part of the same atomic step; it receives the
// value that was committed for op.ID immediately before this op was
// applied (so a removal's handler can still clean up secondary keys
// derived from the outgoing value), and whether one existed. Promote is a
// no-op if tok has no overlay (the session never wrote to this cache).
func (t *Table[T]) Promote(tok *Token, onApply func(op Op[T], previous T, hadPrevious bool)) {
	t.overlaysMu.Lock()
	ov, ok := t.overlays[tok]
	delete(t.overlays, tok)
	t.overlaysMu.Unlock()

	if !ok {
		return
	}

	ops := ov.ordered()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, op := range ops {
		previous, hadPrevious := t.byID[op.ID]

		if op.Removed {
			delete(t.byID, op.ID)
		} else {
			t.byID[op.ID] = op.Item
		}

		if onApply != nil {
			onApply(op, previous, hadPrevious)
		}
	}
}

// Discard drops tok's overlay without touching the committed map.
func (t *Table[T]) Discard(tok *Token) {
	t.overlaysMu.Lock()
	delete(t.overlays, tok)
	t.overlaysMu.Unlock()
}

// Iter returns a snapshot of the committed map. It never reflects any
// session's staged writes — maintenance use only (spec.md §4.2, iter()).
func (t *Table[T]) Iter() map[uuid.UUID]T {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[uuid.UUID]T, len(t.byID))
	for k, v := range t.byID {
		out[k] = v
	}

	return out
}
