package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prepbolt/apiserver/types"
)

const userColumns = `id, username, email, name, role, password_hash, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row rowScanner) (types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// getUser loads the single user matching the trusted WHERE clause.
func (r *UserRepository) getUser(ctx context.Context, where string, arg any) (types.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, ErrNotFound
	}
	return user, err
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	return r.getUser(ctx, `id = $1`, id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.getUser(ctx, `username = $1`, username)
}

// GetByIDs returns the users with the given ids. Unknown ids are skipped.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []int) ([]types.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, toInt64Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Create inserts a user. A taken username or email fails with ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	if user.Role == "" {
		user.Role = types.RoleUser
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, name, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		user.Username, user.Email, user.Name, user.Role, user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		return types.User{}, mapPQError(err)
	}
	return user, nil
}

// UpdateRole changes the role of a user and returns the updated row.
func (r *UserRepository) UpdateRole(ctx context.Context, id int, role string) (types.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users SET role = $1, updated_at = $2
		WHERE id = $3
		RETURNING `+userColumns,
		role, time.Now().UTC(), id,
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, ErrNotFound
	}
	return user, err
}
