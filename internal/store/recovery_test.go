package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/accounts-svc/apiserver/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecovery() types.PasswordRecovery {
	return types.PasswordRecovery{
		UserID:       3,
		Code:         "a1b2c3",
		IssuedAt:     time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC),
		AttemptsLeft: 3,
	}
}

func TestRecoveryRepositoryGet(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecoveryRepository(db)
	rec := sampleRecovery()

	mock.ExpectQuery(`(?s)SELECT user_id, code, issued_at, attempts_left FROM password_recoveries WHERE user_id = \$1`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "code", "issued_at", "attempts_left"}).
			AddRow(rec.UserID, rec.Code, rec.IssuedAt, rec.AttemptsLeft))

	got, err := repo.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	mock.ExpectQuery(`FROM password_recoveries`).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "code", "issued_at", "attempts_left"}))
	_, err = repo.Get(context.Background(), 4)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoveryRepositoryReplaceCommitsAfterDispatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecoveryRepository(db)
	rec := sampleRecovery()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM password_recoveries WHERE user_id = \$1`).
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)INSERT INTO password_recoveries \(user_id, code, issued_at, attempts_left\)`).
		WithArgs(3, "a1b2c3", rec.IssuedAt, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dispatched := false
	got, err := repo.Replace(context.Background(), rec, func(context.Context) error {
		dispatched = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, dispatched)
	assert.Equal(t, rec, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoveryRepositoryReplaceRollsBackWhenDispatchFails(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecoveryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM password_recoveries`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO password_recoveries`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	sendErr := errors.New("smtp down")
	_, err := repo.Replace(context.Background(), sampleRecovery(), func(context.Context) error {
		return sendErr
	})
	assert.ErrorIs(t, err, sendErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoveryRepositoryCreateConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecoveryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO password_recoveries`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), sampleRecovery(), func(context.Context) error {
		t.Fatal("dispatch must not run when the insert fails")
		return nil
	})
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoveryRepositoryDecrementAttempts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecoveryRepository(db)

	mock.ExpectQuery(`(?s)UPDATE password_recoveries SET attempts_left = attempts_left - 1 WHERE user_id = \$1 AND attempts_left > 0 RETURNING attempts_left`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"attempts_left"}).AddRow(2))

	left, err := repo.DecrementAttempts(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	mock.ExpectQuery(`UPDATE password_recoveries`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"attempts_left"}))
	_, err = repo.DecrementAttempts(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoveryRepositoryDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecoveryRepository(db)

	mock.ExpectExec(`DELETE FROM password_recoveries WHERE user_id = \$1`).
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), 3))

	mock.ExpectExec(`DELETE FROM password_recoveries`).
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), 3), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoveryRepositoryRedeem(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecoveryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM password_recoveries WHERE user_id = \$1 AND code = \$2`).
		WithArgs(3, "a1b2c3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET password_hash = \$1, updated_at = now\(\) WHERE id = \$2`).
		WithArgs("new-hash", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Redeem(context.Background(), 3, "a1b2c3", "new-hash"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoveryRepositoryRedeemAlreadyConsumed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecoveryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM password_recoveries WHERE user_id = \$1 AND code = \$2`).
		WithArgs(3, "a1b2c3").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Redeem(context.Background(), 3, "a1b2c3", "new-hash")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
