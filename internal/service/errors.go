package service

import (
	"errors"
	"fmt"

	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/validator"
)

// Submission rejections that carry no payload.
var (
	ErrFormNotFound     = errors.New("form not found")
	ErrMissingIdentity  = errors.New("form requires an authenticated caller")
	ErrEmailRequired    = errors.New("form requires a verified email address")
	ErrBypassDetected   = errors.New("submission rejected")
	ErrAlreadyResponded = errors.New("caller has already responded to this form")
)

// MissingFieldsError lists every required question left unanswered, in
// question order.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %v", e.Fields)
}

// ValidationError lists every malformed answer or record field.
type ValidationError struct {
	Errors []validator.FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d validation errors", len(e.Errors))
}

// GradingFailedError carries the failing code questions that block the
// submission, in question order. Passing questions and failures allowed by
// allow_failure are left out.
type GradingFailedError struct {
	Outcomes []model.GradingOutcome
}

func (e *GradingFailedError) Error() string {
	return "code answers did not pass their tests"
}

// ServiceError wraps a failure of a collaborator the caller cannot fix.
// Unavailable marks failures of remote services as opposed to internal bugs.
type ServiceError struct {
	Op          string
	Unavailable bool
	Err         error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }
