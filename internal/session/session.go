// Package session implements the Unit-of-Work session of spec.md §4.6: a
// Begin/Commit/Rollback state machine that hands every repository in the
// bundle a shared Transactional Executor, and notifies transaction-aware
// observers (the per-entity caches) exactly once when the session resolves.
//
// Grounded on the teacher's repository-bundle bootstrap in
// components/ledger (one struct wiring a shared executor into every
// repository for a request), generalized here into an explicit state
// machine since the teacher's own transaction-scoped session package
// (pkg/transaction) was retrieved with its tests but not its
// implementation — this package is that implementation.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/person-data-store/internal/cache"
	"github.com/LerianStudio/person-data-store/internal/dbexec"
	"github.com/LerianStudio/person-data-store/internal/obs/log"
)

// State is one of the three states spec.md §4.6's diagram names.
type State int

const (
	Begun State = iota
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Begun:
		return "begun"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// TransactionAware is implemented by anything that stages changes during a
// session and must be told the outcome exactly once, in registration
// order (spec.md §4.6).
type TransactionAware interface {
	OnCommit() error
	OnRollback()
}

// ErrSessionResolved is returned by Commit/Rollback when the session has
// already left the Begun state.
var ErrSessionResolved = errors.New("session: already committed or rolled back")

// Session is a single unit of work: one transaction, one cache Token, one
// ordered list of observers.
type Session struct {
	tok      *cache.Token
	tx       *sql.Tx
	txMu     *sync.Mutex
	executor *dbexec.Executor
	logger   log.Logger

	mu        sync.Mutex
	state     State
	observers []TransactionAware
}

// Begin starts a new transaction against conn and returns a Begun session.
// opts is passed through to database/sql's BeginTx verbatim (nil selects
// driver defaults).
func Begin(ctx context.Context, conn *dbexec.Connection, opts *sql.TxOptions, logger log.Logger) (*Session, error) {
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("session: begin: %w", err)
	}

	return FromTx(tx, logger), nil
}

// FromTx wraps an already-open transaction as a Begun session. Exposed for
// callers that manage their own transaction lifecycle (and for this
// package's own tests, which drive a sqlmock-backed *sql.Tx directly).
func FromTx(tx *sql.Tx, logger log.Logger) *Session {
	var txMu sync.Mutex

	return &Session{
		tok:      cache.NewToken(),
		tx:       tx,
		txMu:     &txMu,
		executor: dbexec.NewTransactional(tx, &txMu),
		logger:   logger,
		state:    Begun,
	}
}

// Executor returns the Transactional executor every repository in this
// session's bundle must be constructed over.
func (s *Session) Executor() *dbexec.Executor { return s.executor }

// Token returns the cache overlay token repository writes/reads must carry
// so staged state is visible within this session only.
func (s *Session) Token() *cache.Token { return s.tok }

// State reports the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Register adds an observer to be notified exactly once, in registration
// order, when the session resolves. Registering the same cache bundle
// more than once per session is the caller's bug, not this package's to
// guard against — callers register once per entity cache the session
// actually touches.
func (s *Session) Register(observer TransactionAware) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = append(s.observers, observer)
}

// Commit commits the underlying transaction and notifies observers'
// OnCommit in registration order. If an observer's OnCommit returns an
// error, that error is fatal for the session: the underlying transaction
// is rolled back if still possible, and the error is returned (spec.md
// §4.6).
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Begun {
		return ErrSessionResolved
	}

	if err := s.tx.Commit(); err != nil {
		s.state = RolledBack

		for _, o := range s.observers {
			o.OnRollback()
		}

		return fmt.Errorf("session: commit: %w", err)
	}

	s.state = Committed

	for _, o := range s.observers {
		if err := o.OnCommit(); err != nil {
			return fmt.Errorf("session: observer on_commit: %w", err)
		}
	}

	return nil
}

// Rollback rolls back the underlying transaction and notifies observers'
// OnRollback in registration order. Observer errors during rollback are
// logged, not propagated (spec.md §4.6).
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Begun {
		return ErrSessionResolved
	}

	err := s.tx.Rollback()
	s.state = RolledBack

	for _, o := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Errorf("session: observer on_rollback panicked: %v", r)
				}
			}()

			o.OnRollback()
		}()
	}

	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("session: rollback: %w", err)
	}

	return nil
}

// Close rolls the session back if it was dropped without an explicit
// commit or rollback decision (spec.md §4.6, "drop w/o decision ->
// RolledBack"). Intended for `defer session.Close()` immediately after
// Begin; it is a no-op once the session has resolved.
func (s *Session) Close() {
	if s.State() == Begun {
		if err := s.Rollback(); err != nil {
			s.logger.Errorf("session: implicit rollback on close: %v", err)
		}
	}
}
