// internal/database/user.go
package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arcadehall/arena/internal/models"
)

// ErrUserNotFound is returned for lookups that match no row.
var ErrUserNotFound = errors.New("user not found")

// CreateUser inserts a new account row. Password must already be hashed.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	q := `
	INSERT INTO users (id, email, password, username, status, is_admin, karma)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, u.ID, u.Email, u.Password, u.Username, u.Status, u.IsAdmin, u.Karma)
		return err
	})
}

// GetUser fetches one user by id without the password hash.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	q := `SELECT id, email, username, status, is_admin, karma FROM users WHERE id=$1`
	err := s.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Username, &u.Status, &u.IsAdmin, &u.Karma)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches one user by email, hash included, for login.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	q := `SELECT id, email, password, username, status, is_admin, karma FROM users WHERE email=$1`
	err := s.pool.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.Password, &u.Username, &u.Status, &u.IsAdmin, &u.Karma)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
