package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/forms-backend/internal/model"
)

// FormRepository handles form definition access.
type FormRepository struct {
	pool *pgxpool.Pool
}

// NewFormRepository creates a new FormRepository.
func NewFormRepository(pool *pgxpool.Pool) *FormRepository {
	return &FormRepository{pool: pool}
}

// GetByID retrieves a form by ID and checks it is well formed.
func (r *FormRepository) GetByID(ctx context.Context, id string) (*model.Form, error) {
	var (
		f              model.Form
		features       []string
		questions      []byte
		webhookURL     *string
		webhookMessage *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, features, questions, webhook_url, webhook_message, discord_role
		 FROM forms WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.Description, &features, &questions, &webhookURL, &webhookMessage, &f.DiscordRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	f.Features, err = model.ParseFeatures(features)
	if err != nil {
		return nil, fmt.Errorf("form %s: %w", id, err)
	}
	if err := json.Unmarshal(questions, &f.Questions); err != nil {
		return nil, fmt.Errorf("form %s: decode questions: %w", id, err)
	}
	if webhookURL != nil {
		f.Webhook = &model.Webhook{URL: *webhookURL, Message: webhookMessage}
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("form %s: %w", id, err)
	}
	return &f, nil
}

// Upsert stores a form definition, replacing any form with the same ID.
func (r *FormRepository) Upsert(ctx context.Context, f *model.Form) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("form %s: %w", f.ID, err)
	}
	questions, err := json.Marshal(f.Questions)
	if err != nil {
		return fmt.Errorf("form %s: encode questions: %w", f.ID, err)
	}
	var webhookURL, webhookMessage *string
	if f.Webhook != nil {
		webhookURL = &f.Webhook.URL
		webhookMessage = f.Webhook.Message
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO forms (id, name, description, features, questions, webhook_url, webhook_message, discord_role)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			features = EXCLUDED.features,
			questions = EXCLUDED.questions,
			webhook_url = EXCLUDED.webhook_url,
			webhook_message = EXCLUDED.webhook_message,
			discord_role = EXCLUDED.discord_role,
			updated_at = NOW()`,
		f.ID, f.Name, f.Description, f.Features.Names(), questions, webhookURL, webhookMessage, f.DiscordRole,
	)
	return err
}
