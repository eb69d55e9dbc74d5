package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/medreq/apiserver/types"
)

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `
		SELECT id, email, role, password_hash, created_at
		FROM users
		WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByEmail looks up a user by exact email. Callers normalize the
// address before calling.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `
		SELECT id, email, role, password_hash, created_at
		FROM users
		WHERE email = $1`
	return r.getOne(ctx, query, email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (types.User, error) {
	var user types.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func emailExists(ctx context.Context, q rowQuerier, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`
	var exists bool
	if err := q.QueryRowContext(ctx, query, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func managerExists(ctx context.Context, q rowQuerier) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE role = $1)`
	var exists bool
	if err := q.QueryRowContext(ctx, query, types.RoleManager).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Create inserts a user. The email and manager checks run in the same
// transaction as the insert; the unique indexes on the table close the
// window between check and insert for concurrent registrations.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user.CreatedAt = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.User{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	exists, err := emailExists(ctx, tx, user.Email)
	if err != nil {
		return types.User{}, err
	}
	if exists {
		return types.User{}, ErrDuplicateEmail
	}

	if user.Role == types.RoleManager {
		exists, err := managerExists(ctx, tx)
		if err != nil {
			return types.User{}, err
		}
		if exists {
			return types.User{}, ErrManagerExists
		}
	}

	const insertQuery = `
		INSERT INTO users (email, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertQuery,
		user.Email,
		user.Role,
		user.PasswordHash,
		user.CreatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, mapConstraintError(err)
	}

	if err := tx.Commit(); err != nil {
		return types.User{}, mapConstraintError(err)
	}
	return user, nil
}
