package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/forms-backend/internal/model"
)

// ViolationRepository stores grading bypass evidence in PostgreSQL.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// Insert stores one violation record.
func (r *ViolationRepository) Insert(ctx context.Context, v *model.ViolationRecord) error {
	submission, err := json.Marshal(v.Submission)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO violations (id, form_id, user_id, bypasses, submission, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.FormID, v.User, v.Bypasses, submission, v.Timestamp,
	)
	return err
}
