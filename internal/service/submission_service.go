package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/forms-backend/internal/antispam"
	"github.com/stemsi/forms-backend/internal/config"
	"github.com/stemsi/forms-backend/internal/grading"
	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/repository"
	"github.com/stemsi/forms-backend/internal/validator"
	"github.com/stemsi/forms-backend/internal/worker"
)

// OpenForms resolves a form that currently accepts responses.
type OpenForms interface {
	FindOpenForm(ctx context.Context, id string) (*model.Form, error)
}

// ResponseStore persists accepted responses.
type ResponseStore interface {
	Insert(ctx context.Context, resp *model.FormResponse, responderKey string) error
}

// ViolationStore persists bypass evidence.
type ViolationStore interface {
	Insert(ctx context.Context, rec *model.ViolationRecord) error
}

// CodeGrader grades the code answers of a submission.
type CodeGrader interface {
	Grade(ctx context.Context, form *model.Form, answers map[string]any) (*grading.Report, error)
}

// SpamEvaluator fingerprints a client and checks its CAPTCHA token.
type SpamEvaluator interface {
	Evaluate(ctx context.Context, client antispam.Client, captchaToken string) (*model.AntiSpam, error)
}

// Notifier performs the third-party side effects of an accepted response.
type Notifier interface {
	SendWebhook(ctx context.Context, form *model.Form, resp *model.FormResponse) error
	AssignRole(ctx context.Context, form *model.Form, user *model.Identity) error
}

// EventPublisher announces accepted responses to live subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event *model.ResponseEvent) error
}

// JobQueue accepts background work without blocking.
type JobQueue interface {
	Enqueue(job worker.Job) error
}

// Submission is one inbound attempt to answer a form.
type Submission struct {
	FormID  string
	Answers map[string]json.RawMessage
	Captcha string
	Client  antispam.Client
	// Caller is nil for anonymous requests.
	Caller *model.Identity
}

// SubmissionDeps groups the collaborators of SubmissionService.
type SubmissionDeps struct {
	Forms      OpenForms
	Responses  ResponseStore
	Violations ViolationStore
	Grader     CodeGrader
	Antispam   SpamEvaluator
	Notifier   Notifier
	Events     EventPublisher
	Jobs       JobQueue
}

// SubmissionService admits submissions: it gates, validates, grades,
// persists and schedules the follow-up work of each one.
type SubmissionService struct {
	deps SubmissionDeps
	now  func() time.Time
	log  zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(deps SubmissionDeps, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		deps: deps,
		now:  time.Now,
		log:  log.With().Str("component", "submission_service").Logger(),
	}
}

// Submit runs the admission pipeline. It returns the stored response, or one
// of the package's rejection errors. Background work is scheduled but not
// awaited.
func (s *SubmissionService) Submit(ctx context.Context, sub *Submission) (*model.FormResponse, error) {
	form, err := s.deps.Forms.FindOpenForm(ctx, sub.FormID)
	if err != nil {
		if errors.Is(err, ErrFormNotFound) {
			return nil, ErrFormNotFound
		}
		return nil, &ServiceError{Op: "load form", Err: err}
	}

	resp := &model.FormResponse{
		ID:        uuid.New(),
		FormID:    form.ID,
		Timestamp: s.now().UTC(),
	}

	// ─── Antispam ───────────────────────────────────────────────────────
	if !form.Features.Has(model.FeatureDisableAntispam) {
		record, err := s.deps.Antispam.Evaluate(ctx, sub.Client, sub.Captcha)
		if err != nil {
			return nil, &ServiceError{Op: "verify captcha", Unavailable: true, Err: err}
		}
		resp.AntiSpam = record
	}

	// ─── Identity ───────────────────────────────────────────────────────
	if form.Features.Has(model.FeatureRequiresLogin) {
		if sub.Caller == nil {
			return nil, ErrMissingIdentity
		}
		snapshot := *sub.Caller
		if form.Features.Has(model.FeatureCollectEmail) {
			if !snapshot.HasVerifiedEmail() {
				return nil, ErrEmailRequired
			}
		} else {
			snapshot.Email, snapshot.Verified = nil, nil
		}
		resp.User = &snapshot
	}

	// ─── Answers ────────────────────────────────────────────────────────
	filled, missing := collectAnswers(form, sub.Answers)
	if len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}

	answers, violations := decodeAnswers(form, sub.Answers, filled)
	resp.Response = answers
	violations = append(violations, validator.ValidateStruct(resp)...)
	if len(violations) > 0 {
		return nil, &ValidationError{Errors: violations}
	}

	// ─── Grading ────────────────────────────────────────────────────────
	if form.HasCodeQuestions() {
		if err := s.grade(ctx, form, resp, sub.Caller); err != nil {
			return nil, err
		}
	}

	// ─── Persistence ────────────────────────────────────────────────────
	var responderKey string
	if form.Features.Has(model.FeatureUniqueResponder) && sub.Caller != nil {
		responderKey = sub.Caller.ID
	}
	if err := s.deps.Responses.Insert(ctx, resp, responderKey); err != nil {
		if errors.Is(err, repository.ErrDuplicateResponse) {
			return nil, ErrAlreadyResponded
		}
		return nil, &ServiceError{Op: "store response", Err: err}
	}

	s.log.Info().
		Str("form_id", form.ID).
		Str("response_id", resp.ID.String()).
		Bool("authenticated", resp.User != nil).
		Msg("Response accepted")

	s.dispatch(form, resp)
	return resp, nil
}

// grade runs the code questions and folds their outcomes into a verdict.
// On success the code answers in resp are replaced by their annotations.
func (s *SubmissionService) grade(ctx context.Context, form *model.Form, resp *model.FormResponse, caller *model.Identity) error {
	report, err := s.deps.Grader.Grade(ctx, form, resp.Response)
	if err != nil {
		return &ServiceError{Op: "grade code answers", Err: err}
	}

	if len(report.Bypasses) > 0 {
		s.recordViolation(ctx, resp, caller, report.Bypasses)
		return ErrBypassDetected
	}

	allowFailure := make(map[string]bool)
	for _, q := range form.Questions {
		if q.Type != model.QuestionTypeCode {
			continue
		}
		if data, err := q.CodeData(); err == nil && data.Unittests != nil {
			allowFailure[q.ID] = data.Unittests.AllowFailure
		}
	}

	var blocking []model.GradingOutcome
	for _, o := range report.Outcomes {
		if o.ReturnCode.Infrastructure() {
			return &ServiceError{
				Op:          "grade code answers",
				Unavailable: o.ReturnCode == model.ReturnCodeUnreachable,
				Err:         fmt.Errorf("question %s: return code %d: %s", o.QuestionID, o.ReturnCode, o.Result),
			}
		}
		if !o.Passed && !allowFailure[o.QuestionID] {
			blocking = append(blocking, o)
		}
	}
	if len(blocking) > 0 {
		return &GradingFailedError{Outcomes: blocking}
	}

	for _, o := range report.Outcomes {
		value, _ := resp.Response[o.QuestionID].(string)
		resp.Response[o.QuestionID] = model.CodeAnswer{
			Value:    value,
			Passed:   o.Passed,
			Failures: o.Failures(),
		}
	}
	return nil
}

// recordViolation stores bypass evidence. Failure to do so is logged and
// does not change the verdict.
func (s *SubmissionService) recordViolation(ctx context.Context, resp *model.FormResponse, caller *model.Identity, bypasses []string) {
	rec := &model.ViolationRecord{
		ID:         resp.ID,
		FormID:     resp.FormID,
		User:       model.UnknownViolator,
		Bypasses:   bypasses,
		Submission: resp,
		Timestamp:  s.now().UTC(),
	}
	if caller != nil {
		rec.User = caller.ID
	}

	s.log.Warn().
		Str("form_id", rec.FormID).
		Str("user", rec.User).
		Strs("bypasses", bypasses).
		Msg("Grading bypass attempt")

	if err := s.deps.Violations.Insert(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("form_id", rec.FormID).Msg("Failed to store violation record")
	}
}

// dispatch schedules the follow-up work of an accepted response.
func (s *SubmissionService) dispatch(form *model.Form, resp *model.FormResponse) {
	fields := map[string]string{"form_id": form.ID, "response_id": resp.ID.String()}

	if form.Features.Has(model.FeatureWebhookEnabled) {
		s.enqueue(worker.Job{
			Name:   config.WorkerKey.DeliverWebhookJob,
			Fields: fields,
			Run: func(ctx context.Context) error {
				return s.deps.Notifier.SendWebhook(ctx, form, resp)
			},
		})
	}

	if form.Features.Has(model.FeatureAssignRole) {
		if resp.User == nil {
			s.log.Warn().Str("form_id", form.ID).Msg("Role grant skipped, response has no identity")
		} else {
			s.enqueue(worker.Job{
				Name:   config.WorkerKey.AssignRoleJob,
				Fields: fields,
				Run: func(ctx context.Context) error {
					return s.deps.Notifier.AssignRole(ctx, form, resp.User)
				},
			})
		}
	}

	event := &model.ResponseEvent{ResponseID: resp.ID, FormID: form.ID, Timestamp: resp.Timestamp}
	if resp.User != nil {
		event.UserID = resp.User.ID
	}
	s.enqueue(worker.Job{
		Name:   config.WorkerKey.PublishResponseJob,
		Fields: fields,
		Run: func(ctx context.Context) error {
			return s.deps.Events.Publish(ctx, event)
		},
	})
}

func (s *SubmissionService) enqueue(job worker.Job) {
	if err := s.deps.Jobs.Enqueue(job); err != nil {
		s.log.Error().Err(err).Str("job", job.Name).Msg("Failed to schedule background job")
	}
}
