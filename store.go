// Package personstore is the Person Data Store's consumer-facing contract
// (spec.md §6): a Store wired to a single process-lifetime secondary-index
// cache, exposing pool-mode repositories for autocommit reads/writes and a
// Begin method that opens a Unit-of-Work session wired to the same cache
// through a per-session overlay token.
package personstore

import (
	"context"
	"database/sql"

	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/config"
	"github.com/LerianStudio/person-data-store/internal/dbexec"
	"github.com/LerianStudio/person-data-store/internal/obs/log"
	"github.com/LerianStudio/person-data-store/internal/session"
)

// Store is the root handle external callers acquire once per process.
type Store struct {
	conn      *dbexec.Connection
	bundle    *cache.Bundle
	cacheSeed uint64
	logger    log.Logger

	pool *Repositories
}

// Open connects to Postgres, runs pending migrations, and returns a Store
// with an empty cache ready for pool-mode use. Open does not load existing
// rows into the cache, and no exported method does so: rows written before
// Open are not seen by the cache-backed finders and uniqueness checks
// (Load reads the database but does not add to the cache).
func Open(ctx context.Context, cfg config.Config, logger log.Logger) (*Store, error) {
	conn := &dbexec.Connection{
		PrimaryDSN:     cfg.DatabaseURL,
		PrimaryDBName:  cfg.DatabaseName,
		MigrationsPath: "internal/migrations",
		Logger:         logger,
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	bundle := cache.NewBundle()

	exec, err := conn.PooledExecutor(ctx)
	if err != nil {
		return nil, err
	}

	return &Store{
		conn:      conn,
		bundle:    bundle,
		cacheSeed: cfg.CacheSeed,
		logger:    logger,
		pool:      newRepositories(exec, bundle, nil, cfg.CacheSeed, logger),
	}, nil
}

// Pool returns the autocommit (pool-mode) repository bundle: writes commit
// directly to the shared cache with no session overlay.
func (s *Store) Pool() *Repositories { return s.pool }

// Begin opens a Unit-of-Work session (spec.md §4.6): a new transaction, a
// fresh cache overlay token, and a Repositories bundle wired over both.
// The session's cache observer is registered automatically so Commit
// promotes the overlay and Rollback discards it.
func (s *Store) Begin(ctx context.Context, opts *sql.TxOptions) (*UnitOfWork, error) {
	sess, err := session.Begin(ctx, s.conn, opts, s.logger)
	if err != nil {
		return nil, err
	}

	sess.Register(session.CacheObserver{Bundle: s.bundle, Token: sess.Token()})

	return &UnitOfWork{
		session: sess,
		repos:   newRepositories(sess.Executor(), s.bundle, sess.Token(), s.cacheSeed, s.logger),
	}, nil
}

// UnitOfWork is a Begun session paired with the Repositories bundle built
// over it. Callers should `defer uow.Close()` immediately after Begin so
// an unresolved session rolls back (spec.md §4.6, "drop w/o decision ->
// RolledBack").
type UnitOfWork struct {
	session *session.Session
	repos   *Repositories
}

// Repositories returns the session-scoped repository bundle: reads and
// writes through it are visible only within this Unit of Work until
// Commit.
func (u *UnitOfWork) Repositories() *Repositories { return u.repos }

// Commit commits the underlying transaction and promotes the cache
// overlay.
func (u *UnitOfWork) Commit() error { return u.session.Commit() }

// Rollback rolls back the underlying transaction and discards the cache
// overlay.
func (u *UnitOfWork) Rollback() error { return u.session.Rollback() }

// Close rolls back the session if it was never explicitly resolved.
func (u *UnitOfWork) Close() { u.session.Close() }
