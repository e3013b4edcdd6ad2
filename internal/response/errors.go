package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrAdminAccessOnly ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Submission ────────────────────────────────────────────────────
	ErrMissingIdentity  ErrCode = "MISSING_IDENTITY"
	ErrEmailRequired    ErrCode = "EMAIL_REQUIRED"
	ErrMissingFields    ErrCode = "MISSING_FIELDS"
	ErrFailedTests      ErrCode = "FAILED_TESTS"
	ErrBypassDetected   ErrCode = "BYPASS_DETECTED"
	ErrAlreadyResponded ErrCode = "ALREADY_RESPONDED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal           ErrCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrAdminAccessOnly:
		return "This resource is restricted to administrators."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your answers."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Submission ────────────────────────────────────────────────────
	case ErrMissingIdentity:
		return "You must be logged in to submit this form."
	case ErrEmailRequired:
		return "This form requires a verified email address."
	case ErrMissingFields:
		return "Some required questions were not answered."
	case ErrFailedTests:
		return "One or more code answers did not pass their tests."
	case ErrBypassDetected:
		return "This submission was rejected."
	case ErrAlreadyResponded:
		return "You have already responded to this form."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	case ErrServiceUnavailable:
		return "A required service is temporarily unavailable. Please try again later."
	default:
		return "An unexpected error occurred."
	}
}
