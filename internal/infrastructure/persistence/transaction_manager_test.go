package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWithTransactionCommits(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `sessions` WHERE id = ?").WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := tm.WithTransaction(context.Background(), func(ctx context.Context) error {
		require.NotNil(t, ExtractTx(ctx))
		_, err := executor(ctx, db).ExecContext(ctx, "DELETE FROM `sessions` WHERE id = ?", "s1")
		return err
	})
	assert.NoError(t, err)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := tm.WithTransaction(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = tm.WithTransaction(context.Background(), func(ctx context.Context) error { panic("bad") })
	})
}

func TestWithTransactionJoinsOuterTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := tm.WithTransaction(context.Background(), func(outer context.Context) error {
		return tm.WithTransaction(outer, func(inner context.Context) error {
			assert.Same(t, ExtractTx(outer), ExtractTx(inner))
			return nil
		})
	})
	assert.NoError(t, err)
}

func TestWithRetryRetriesDeadlocks(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err := tm.WithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
		}
		return nil
	}, 3)
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWithRetryStopsOnOtherErrors(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())
	boom := errors.New("constraint violated")

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempts := 0
	err := tm.WithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return boom
	}, 3)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryGivesUp(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()

	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	err := tm.WithRetry(context.Background(), func(ctx context.Context) error { return deadlock }, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, deadlock)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestIsLockConflict(t *testing.T) {
	assert.True(t, isLockConflict(&mysql.MySQLError{Number: 1205}))
	assert.True(t, isLockConflict(errors.New("Error 1213: Deadlock found")))
	assert.False(t, isLockConflict(&mysql.MySQLError{Number: 1062}))
	assert.False(t, isLockConflict(nil))
	assert.True(t, IsDuplicateEntry(&mysql.MySQLError{Number: 1062}))
}
