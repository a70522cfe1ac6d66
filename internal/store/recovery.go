package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/accounts-svc/apiserver/types"
)

// RecoveryRepository handles persistence for password recoveries.
type RecoveryRepository struct {
	db *sql.DB
}

func NewRecoveryRepository(db *sql.DB) *RecoveryRepository {
	return &RecoveryRepository{db: db}
}

func (r *RecoveryRepository) Get(ctx context.Context, userID int) (types.PasswordRecovery, error) {
	const query = `
		SELECT user_id, code, issued_at, attempts_left
		FROM password_recoveries
		WHERE user_id = $1`
	var recovery types.PasswordRecovery
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&recovery.UserID,
		&recovery.Code,
		&recovery.IssuedAt,
		&recovery.AttemptsLeft,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.PasswordRecovery{}, ErrNotFound
		}
		return types.PasswordRecovery{}, err
	}
	return recovery, nil
}

// Create inserts a recovery and fails with ErrConflict if the user already
// has one. dispatch runs before commit; if it fails nothing is persisted.
func (r *RecoveryRepository) Create(ctx context.Context, recovery types.PasswordRecovery, dispatch func(context.Context) error) (types.PasswordRecovery, error) {
	return r.save(ctx, recovery, false, dispatch)
}

// Replace deletes any recovery the user has and inserts the new one in the
// same transaction. dispatch runs before commit.
func (r *RecoveryRepository) Replace(ctx context.Context, recovery types.PasswordRecovery, dispatch func(context.Context) error) (types.PasswordRecovery, error) {
	return r.save(ctx, recovery, true, dispatch)
}

func (r *RecoveryRepository) save(ctx context.Context, recovery types.PasswordRecovery, replace bool, dispatch func(context.Context) error) (types.PasswordRecovery, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.PasswordRecovery{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM password_recoveries WHERE user_id = $1`, recovery.UserID); err != nil {
			return types.PasswordRecovery{}, fmt.Errorf("delete previous recovery: %w", err)
		}
	}

	const insert = `
		INSERT INTO password_recoveries (user_id, code, issued_at, attempts_left)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insert, recovery.UserID, recovery.Code, recovery.IssuedAt, recovery.AttemptsLeft); err != nil {
		return types.PasswordRecovery{}, mapError(err)
	}

	if dispatch != nil {
		if err := dispatch(ctx); err != nil {
			return types.PasswordRecovery{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.PasswordRecovery{}, fmt.Errorf("commit: %w", err)
	}
	return recovery, nil
}

// DecrementAttempts consumes one attempt and returns how many are left.
func (r *RecoveryRepository) DecrementAttempts(ctx context.Context, userID int) (int, error) {
	const query = `
		UPDATE password_recoveries
		SET attempts_left = attempts_left - 1
		WHERE user_id = $1 AND attempts_left > 0
		RETURNING attempts_left`
	var left int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&left); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return left, nil
}

func (r *RecoveryRepository) Delete(ctx context.Context, userID int) error {
	const query = `DELETE FROM password_recoveries WHERE user_id = $1`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// Redeem consumes the recovery holding code and replaces the user's
// password hash in one transaction. It returns ErrNotFound when no such
// recovery exists any more, in which case the password is left untouched.
func (r *RecoveryRepository) Redeem(ctx context.Context, userID int, code, passwordHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM password_recoveries WHERE user_id = $1 AND code = $2`, userID, code)
	if err != nil {
		return fmt.Errorf("delete recovery: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	result, err = tx.ExecContext(ctx, `UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
