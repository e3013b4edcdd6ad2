package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/forms-backend/internal/antispam"
	"github.com/stemsi/forms-backend/internal/middleware"
	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/response"
	"github.com/stemsi/forms-backend/internal/service"
	"github.com/stemsi/forms-backend/internal/validator"
)

// FormViewer serves form definitions to callers.
type FormViewer interface {
	GetForm(ctx context.Context, id string, caller *model.Identity) (*service.FormView, error)
}

// Submitter admits submissions.
type Submitter interface {
	Submit(ctx context.Context, sub *service.Submission) (*model.FormResponse, error)
}

// FormHandler handles the public form endpoints.
type FormHandler struct {
	forms       FormViewer
	submissions Submitter
	log         zerolog.Logger
}

// NewFormHandler creates a new FormHandler.
func NewFormHandler(forms FormViewer, submissions Submitter, log zerolog.Logger) *FormHandler {
	return &FormHandler{
		forms:       forms,
		submissions: submissions,
		log:         log.With().Str("component", "form_handler").Logger(),
	}
}

// GetForm godoc
// GET /api/v1/forms/:form_id
// Returns the form as visible to the caller.
func (h *FormHandler) GetForm(c *gin.Context) {
	view, err := h.forms.GetForm(c.Request.Context(), c.Param("form_id"), middleware.GetIdentity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SubmitForm godoc
// POST /api/v1/forms/submit/:form_id
// Admits a response to the form.
func (h *FormHandler) SubmitForm(c *gin.Context) {
	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, fields)
		return
	}

	sub := &service.Submission{
		FormID:  c.Param("form_id"),
		Answers: req.Response,
		Client: antispam.Client{
			Address:   middleware.ClientIP(c),
			UserAgent: c.Request.UserAgent(),
		},
		Caller: middleware.GetIdentity(c),
	}
	if req.Captcha != nil {
		sub.Captcha = *req.Captcha
	}

	resp, err := h.submissions.Submit(c.Request.Context(), sub)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

// fail maps service errors onto the response envelope.
func (h *FormHandler) fail(c *gin.Context, err error) {
	var (
		missing *service.MissingFieldsError
		invalid *service.ValidationError
		graded  *service.GradingFailedError
		svcErr  *service.ServiceError
	)

	switch {
	case errors.Is(err, service.ErrFormNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrMissingIdentity):
		response.Fail(c, http.StatusBadRequest, response.ErrMissingIdentity)
	case errors.Is(err, service.ErrEmailRequired):
		response.Fail(c, http.StatusBadRequest, response.ErrEmailRequired)
	case errors.Is(err, service.ErrBypassDetected):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrBypassDetected)
	case errors.Is(err, service.ErrAlreadyResponded):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyResponded)
	case errors.As(err, &missing):
		response.FailWithDetails(c, http.StatusBadRequest, response.ErrMissingFields, gin.H{"fields": missing.Fields})
	case errors.As(err, &invalid):
		response.FailWithDetails(c, http.StatusUnprocessableEntity, response.ErrValidation, gin.H{"errors": invalid.Errors})
	case errors.As(err, &graded):
		response.FailWithDetails(c, http.StatusUnprocessableEntity, response.ErrFailedTests, gin.H{"test_results": graded.Outcomes})
	case errors.As(err, &svcErr) && svcErr.Unavailable:
		h.log.Error().Err(err).Str("form_id", c.Param("form_id")).Msg("Dependency unavailable")
		response.Fail(c, http.StatusInternalServerError, response.ErrServiceUnavailable)
	default:
		h.log.Error().Err(err).Str("form_id", c.Param("form_id")).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
