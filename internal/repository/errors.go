package repository

import "errors"

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateResponse is returned when a responder already answered a
	// form that accepts one response per identity.
	ErrDuplicateResponse = errors.New("responder already submitted this form")
)

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"
