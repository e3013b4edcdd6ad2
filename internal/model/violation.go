package model

import (
	"time"

	"github.com/google/uuid"
)

// UnknownViolator is recorded when a bypass comes from an anonymous caller.
const UnknownViolator = "unknown"

// ViolationRecord is audit evidence of a forged grading result.
type ViolationRecord struct {
	ID         uuid.UUID     `json:"id"`
	FormID     string        `json:"form_id"`
	User       string        `json:"user"`
	Bypasses   []string      `json:"bypasses"`
	Submission *FormResponse `json:"submission"`
	Timestamp  time.Time     `json:"timestamp"`
}
