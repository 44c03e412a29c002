package session_test

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/person-data-store/internal/obs/log"
	"github.com/LerianStudio/person-data-store/internal/session"
)

type recordingObserver struct {
	commits   int
	rollbacks int
	failNext  bool
}

func (o *recordingObserver) OnCommit() error {
	o.commits++

	if o.failNext {
		return errors.New("boom")
	}

	return nil
}

func (o *recordingObserver) OnRollback() { o.rollbacks++ }

func newSession(t *testing.T) (*session.Session, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	return session.FromTx(tx, log.NewNop()), mock
}

func TestSession_CommitNotifiesObserversInOrder(t *testing.T) {
	s, mock := newSession(t)

	var order []int

	obs1 := &orderObserver{id: 1, order: &order}
	obs2 := &orderObserver{id: 2, order: &order}

	s.Register(obs1)
	s.Register(obs2)

	mock.ExpectCommit()

	require.NoError(t, s.Commit())
	assert.Equal(t, session.Committed, s.State())
	assert.Equal(t, []int{1, 2}, order)
}

type orderObserver struct {
	id    int
	order *[]int
}

func (o *orderObserver) OnCommit() error {
	*o.order = append(*o.order, o.id)
	return nil
}

func (o *orderObserver) OnRollback() {}

func TestSession_RollbackNotifiesObservers(t *testing.T) {
	s, mock := newSession(t)

	obs := &recordingObserver{}
	s.Register(obs)

	mock.ExpectRollback()

	require.NoError(t, s.Rollback())
	assert.Equal(t, session.RolledBack, s.State())
	assert.Equal(t, 1, obs.rollbacks)
}

func TestSession_CommitTwiceIsError(t *testing.T) {
	s, mock := newSession(t)

	mock.ExpectCommit()
	require.NoError(t, s.Commit())

	err := s.Commit()
	assert.ErrorIs(t, err, session.ErrSessionResolved)
}

func TestSession_CloseRollsBackUndecidedSession(t *testing.T) {
	s, mock := newSession(t)
	mock.ExpectRollback()

	s.Close()

	assert.Equal(t, session.RolledBack, s.State())
}

func TestSession_CloseIsNoopAfterCommit(t *testing.T) {
	s, mock := newSession(t)
	mock.ExpectCommit()
	require.NoError(t, s.Commit())

	s.Close() // must not attempt a second rollback

	assert.Equal(t, session.Committed, s.State())
}

func TestSession_ObserverErrorOnCommitIsFatal(t *testing.T) {
	s, mock := newSession(t)
	s.Register(&recordingObserver{failNext: true})

	mock.ExpectCommit()

	err := s.Commit()
	assert.Error(t, err)
}
