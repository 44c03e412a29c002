package session

import "github.com/LerianStudio/person-data-store/internal/cache"

// CacheObserver adapts a cache.Bundle into the session's TransactionAware
// contract for one session's Token. Store.Begin registers one of these
// for every session it opens (spec.md
// §4.6, "accept registration of transaction-aware observers (typically
// the per-entity caches)").
type CacheObserver struct {
	Bundle *cache.Bundle
	Token  *cache.Token
}

// OnCommit promotes every staged write this session made across the
// bundle. Promote is defined to be idempotent-safe per cache (a no-op if
// the session never wrote there), so this never fails.
func (o CacheObserver) OnCommit() error {
	o.Bundle.Promote(o.Token)
	return nil
}

// OnRollback discards every staged write this session made across the bundle.
func (o CacheObserver) OnRollback() {
	o.Bundle.Discard(o.Token)
}
