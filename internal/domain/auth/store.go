package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) RoleOf(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.DB.QueryRow(ctx, `
    SELECT r.name
    FROM users u
    JOIN roles r ON u.role_id = r.id
    WHERE u.id::text = $1 AND u.status = 'active'
  `, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	return role, err
}

func (s *Store) HasPermission(ctx context.Context, role, permission string) (bool, error) {
	var count int
	if err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1)
    FROM role_permissions rp
    JOIN roles r ON rp.role_id = r.id
    WHERE r.name = $1 AND rp.permission = $2
  `, role, permission).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// StaticDirectory resolves roles from an in-memory map.
type StaticDirectory map[string]string

func (d StaticDirectory) RoleOf(_ context.Context, userID string) (string, error) {
	role, ok := d[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	return role, nil
}
