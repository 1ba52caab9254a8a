package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"appraisal/internal/domain/auth"
)

// Seed makes sure every role in auth.RolePermissions exists with its
// permissions and, when adminEmail is set, that an active hr user exists.
// Running it repeatedly is harmless.
func Seed(ctx context.Context, pool *pgxpool.Pool, adminEmail string) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		roleIDs, err := ensureRoles(ctx, tx)
		if err != nil {
			return err
		}
		if err := ensureRolePermissions(ctx, tx, roleIDs); err != nil {
			return err
		}
		return ensureAdminUser(ctx, tx, roleIDs[auth.RoleHR], adminEmail)
	})
}

func ensureRoles(ctx context.Context, tx pgx.Tx) (map[string]string, error) {
	roleIDs := map[string]string{}
	for roleName := range auth.RolePermissions {
		var id string
		err := tx.QueryRow(ctx, `
      INSERT INTO roles (name) VALUES ($1)
      ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
      RETURNING id
    `, roleName).Scan(&id)
		if err != nil {
			return nil, err
		}
		roleIDs[roleName] = id
	}
	return roleIDs, nil
}

func ensureRolePermissions(ctx context.Context, tx pgx.Tx, roleIDs map[string]string) error {
	batch := &pgx.Batch{}
	for roleName, perms := range auth.RolePermissions {
		for _, perm := range perms {
			batch.Queue("INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING", roleIDs[roleName], perm)
		}
	}
	return tx.SendBatch(ctx, batch).Close()
}

func ensureAdminUser(ctx context.Context, tx pgx.Tx, roleID, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
    INSERT INTO users (email, role_id) VALUES ($1, $2)
    ON CONFLICT (email) DO NOTHING
  `, email, roleID)
	return err
}
