package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdminRepository looks up which chat users administer forms.
type AdminRepository struct {
	pool *pgxpool.Pool
}

// NewAdminRepository creates a new AdminRepository.
func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{pool: pool}
}

// IsAdmin reports whether userID is listed as an admin.
func (r *AdminRepository) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM admins WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Grant lists userID as an admin. Granting twice is a no-op.
func (r *AdminRepository) Grant(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO admins (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID,
	)
	return err
}
