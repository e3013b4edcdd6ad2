package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/forms-backend/internal/model"
)

// ResponseRepository handles form response persistence.
type ResponseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(pool *pgxpool.Pool) *ResponseRepository {
	return &ResponseRepository{pool: pool}
}

// Insert stores an accepted response. A non-empty responderKey is covered by
// a unique index per form, so a second response from the same responder
// fails with ErrDuplicateResponse.
func (r *ResponseRepository) Insert(ctx context.Context, resp *model.FormResponse, responderKey string) error {
	answers, err := json.Marshal(resp.Response)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	var (
		userID   *string
		userData []byte
		antispam []byte
		key      *string
	)
	if resp.User != nil {
		userID = &resp.User.ID
		if userData, err = json.Marshal(resp.User); err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
	}
	if resp.AntiSpam != nil {
		if antispam, err = json.Marshal(resp.AntiSpam); err != nil {
			return fmt.Errorf("encode antispam: %w", err)
		}
	}
	if responderKey != "" {
		key = &responderKey
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO form_responses (id, form_id, submitted_at, user_id, user_data, responder_key, antispam, response)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		resp.ID, resp.FormID, resp.Timestamp, userID, userData, key, antispam, answers,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateResponse
		}
		return err
	}
	return nil
}

// FindByResponder returns the earliest response userID gave to formID, or
// nil when there is none.
func (r *ResponseRepository) FindByResponder(ctx context.Context, formID, userID string) (*model.FormResponse, error) {
	var (
		resp     model.FormResponse
		userData []byte
		antispam []byte
		answers  []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, form_id, submitted_at, user_data, antispam, response
		 FROM form_responses
		 WHERE form_id = $1 AND user_id = $2
		 ORDER BY submitted_at
		 LIMIT 1`, formID, userID,
	).Scan(&resp.ID, &resp.FormID, &resp.Timestamp, &userData, &antispam, &answers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if len(userData) > 0 {
		resp.User = &model.Identity{}
		if err := json.Unmarshal(userData, resp.User); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
	}
	if len(antispam) > 0 {
		resp.AntiSpam = &model.AntiSpam{}
		if err := json.Unmarshal(antispam, resp.AntiSpam); err != nil {
			return nil, fmt.Errorf("decode antispam: %w", err)
		}
	}
	if err := json.Unmarshal(answers, &resp.Response); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return &resp, nil
}
