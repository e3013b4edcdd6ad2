package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/forms-backend/internal/config"
	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/repository"
)

// FormStore loads form definitions.
type FormStore interface {
	GetByID(ctx context.Context, id string) (*model.Form, error)
}

// ResponseFinder looks up earlier responses of a caller.
type ResponseFinder interface {
	FindByResponder(ctx context.Context, formID, userID string) (*model.FormResponse, error)
}

// FormView is a form as shown to one caller.
type FormView struct {
	*model.Form
	// Submitted is only set for UNIQUE_RESPONDER forms and authenticated callers.
	Submitted *bool `json:"submitted,omitempty"`
}

// FormService serves form definitions with a Redis read-through cache for
// open forms.
type FormService struct {
	forms     FormStore
	responses ResponseFinder
	rdb       *redis.Client
	ttl       time.Duration
	log       zerolog.Logger
}

// NewFormService creates a new FormService. A nil rdb or a zero ttl
// disables caching.
func NewFormService(forms FormStore, responses ResponseFinder, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *FormService {
	return &FormService{
		forms:     forms,
		responses: responses,
		rdb:       rdb,
		ttl:       ttl,
		log:       log.With().Str("component", "form_service").Logger(),
	}
}

// FindOpenForm returns the form if it exists and accepts responses.
func (s *FormService) FindOpenForm(ctx context.Context, id string) (*model.Form, error) {
	if form := s.cached(ctx, id); form != nil {
		return form, nil
	}

	form, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !form.Features.Has(model.FeatureOpen) {
		return nil, ErrFormNotFound
	}
	s.store(ctx, form)
	return form, nil
}

// GetForm returns the view of a form for caller, which may be nil. Admins
// see every form with full test suites. Everyone else sees open forms only,
// with test suites reduced to their size and no notification settings.
func (s *FormService) GetForm(ctx context.Context, id string, caller *model.Identity) (*FormView, error) {
	var (
		form *model.Form
		err  error
	)
	if caller != nil && caller.Admin {
		form, err = s.load(ctx, id)
	} else {
		form, err = s.FindOpenForm(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	view := &FormView{Form: form}
	if caller == nil || !caller.Admin {
		if view.Form, err = form.Redacted(); err != nil {
			return nil, &ServiceError{Op: "redact form", Err: err}
		}
		view.Webhook, view.DiscordRole = nil, nil
	}

	if form.Features.Has(model.FeatureUniqueResponder) && caller != nil {
		prior, err := s.responses.FindByResponder(ctx, form.ID, caller.ID)
		if err != nil {
			return nil, &ServiceError{Op: "look up prior response", Err: err}
		}
		submitted := prior != nil
		view.Submitted = &submitted
	}
	return view, nil
}

// Invalidate drops the cached copy of a form.
func (s *FormService) Invalidate(ctx context.Context, id string) error {
	if s.rdb == nil {
		return nil
	}
	if err := s.rdb.Del(ctx, config.CacheKey.OpenFormKey(id)).Err(); err != nil {
		return fmt.Errorf("invalidate form cache: %w", err)
	}
	return nil
}

func (s *FormService) load(ctx context.Context, id string) (*model.Form, error) {
	form, err := s.forms.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFormNotFound
		}
		return nil, &ServiceError{Op: "load form", Err: err}
	}
	return form, nil
}

// cached returns the cached form, or nil on a miss. Cache failures are
// treated as misses.
func (s *FormService) cached(ctx context.Context, id string) *model.Form {
	if s.rdb == nil || s.ttl <= 0 {
		return nil
	}
	data, err := s.rdb.Get(ctx, config.CacheKey.OpenFormKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("form_id", id).Msg("Form cache read failed")
		}
		return nil
	}

	var form model.Form
	if err := json.Unmarshal(data, &form); err != nil {
		s.log.Warn().Err(err).Str("form_id", id).Msg("Discarding undecodable cached form")
		return nil
	}
	return &form
}

func (s *FormService) store(ctx context.Context, form *model.Form) {
	if s.rdb == nil || s.ttl <= 0 {
		return
	}
	data, err := json.Marshal(form)
	if err != nil {
		s.log.Warn().Err(err).Str("form_id", form.ID).Msg("Form not cacheable")
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.OpenFormKey(form.ID), data, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("form_id", form.ID).Msg("Form cache write failed")
	}
}
