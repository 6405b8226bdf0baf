package database

import (
	"context"
	"fmt"
	"time"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/models"
)

func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, email, name, is_verified, created_at, updated_at)
              VALUES (?, ?, ?, 0, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
                name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
                updated_at = excluded.updated_at`
	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx, query, user.ID, user.Email, user.Name, now, now); err != nil {
		return storageErr("upsert user", err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, email, name, is_verified, verified_at, created_at, updated_at FROM users WHERE id = ?`
	var u models.User
	err := db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.IsVerified, &u.VerifiedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return &u, nil
}

// MarkVerified sets is_verified only if it is still unset.
func (db *DB) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE users SET is_verified = 1, verified_at = ?, updated_at = ? WHERE id = ? AND is_verified = 0`
	res, err := db.ExecContext(ctx, query, at.UTC(), at.UTC(), id)
	if err != nil {
		return false, storageErr("mark verified", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
