package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/accounts-svc/apiserver/types"
	"github.com/lib/pq"
)

const userColumns = `id, username, email, birth_date, city, preferences, password_hash,
		       avatar_url, push_token, refresh_token, thread_id, assistant_id, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.BirthDate,
		&user.City,
		pq.Array(&user.Preferences),
		&user.PasswordHash,
		&user.AvatarURL,
		&user.PushToken,
		&user.RefreshToken,
		&user.ThreadID,
		&user.AssistantID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	if user.Preferences == nil {
		user.Preferences = []string{}
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Preferences == nil {
		user.Preferences = []string{}
	}

	const query = `
		INSERT INTO users (username, email, birth_date, city, preferences, password_hash,
		                   avatar_url, push_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.BirthDate,
		user.City,
		pq.Array(user.Preferences),
		user.PasswordHash,
		user.AvatarURL,
		user.PushToken,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

// Update locks the user row, merges the patch into it and writes it back
// in a single transaction.
func (r *UserRepository) Update(ctx context.Context, id int, patch types.UserPatch) (types.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.User{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	user, err := scanUser(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return types.User{}, err
	}

	patch.Apply(&user)
	user.UpdatedAt = time.Now()
	if user.Preferences == nil {
		user.Preferences = []string{}
	}

	const update = `
		UPDATE users
		SET username = $1,
			email = $2,
			birth_date = $3,
			city = $4,
			preferences = $5,
			password_hash = $6,
			avatar_url = $7,
			push_token = $8,
			refresh_token = $9,
			thread_id = $10,
			assistant_id = $11,
			updated_at = $12
		WHERE id = $13`
	if _, err := tx.ExecContext(
		ctx,
		update,
		user.Username,
		user.Email,
		user.BirthDate,
		user.City,
		pq.Array(user.Preferences),
		user.PasswordHash,
		user.AvatarURL,
		user.PushToken,
		user.RefreshToken,
		user.ThreadID,
		user.AssistantID,
		user.UpdatedAt,
		user.ID,
	); err != nil {
		return types.User{}, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return types.User{}, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

// Delete removes the user and returns the deleted row. Owned recovery
// records go with it through the foreign key cascade.
func (r *UserRepository) Delete(ctx context.Context, id int) (types.User, error) {
	query := `DELETE FROM users WHERE id = $1 RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}
