package model

import (
	"errors"
	"fmt"
)

// Form is a questionnaire definition. It is read-only for the submission path.
type Form struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Features    Features   `json:"features"`
	Questions   []Question `json:"questions"`
	Webhook     *Webhook   `json:"webhook,omitempty"`
	DiscordRole *string    `json:"discord_role,omitempty"`
}

// Webhook is the notification target of a form with WEBHOOK_ENABLED.
type Webhook struct {
	URL     string  `json:"url"`
	Message *string `json:"message"`
}

var (
	ErrEmailWithoutLogin = errors.New("COLLECT_EMAIL feature requires REQUIRES_LOGIN")
	ErrDuplicateQuestion = errors.New("duplicate question id")
)

// Validate checks the structural rules a stored form must satisfy.
func (f *Form) Validate() error {
	if f.Features.Has(FeatureCollectEmail) && !f.Features.Has(FeatureRequiresLogin) {
		return ErrEmailWithoutLogin
	}
	if f.Features.Has(FeatureWebhookEnabled) && (f.Webhook == nil || f.Webhook.URL == "") {
		return errors.New("WEBHOOK_ENABLED feature requires a webhook url")
	}
	if f.Features.Has(FeatureAssignRole) && (f.DiscordRole == nil || *f.DiscordRole == "") {
		return errors.New("ASSIGN_ROLE feature requires a discord role")
	}

	seen := make(map[string]struct{}, len(f.Questions))
	for _, q := range f.Questions {
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateQuestion, q.ID)
		}
		seen[q.ID] = struct{}{}
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}
	}
	return nil
}

// HasCodeQuestions reports whether any question needs grading.
func (f *Form) HasCodeQuestions() bool {
	for _, q := range f.Questions {
		if q.Type == QuestionTypeCode {
			return true
		}
	}
	return false
}

// Redacted returns a copy of the form where every code question's test
// mapping is replaced by its size.
func (f *Form) Redacted() (*Form, error) {
	out := *f
	out.Questions = make([]Question, len(f.Questions))
	for i, q := range f.Questions {
		if q.Type == QuestionTypeCode {
			rq, err := q.withRedactedTests()
			if err != nil {
				return nil, fmt.Errorf("question %s: %w", q.ID, err)
			}
			q = rq
		}
		out.Questions[i] = q
	}
	return &out, nil
}
