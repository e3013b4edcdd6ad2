package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/forms-backend/internal/middleware"
	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/sandbox"
	"github.com/stemsi/forms-backend/internal/service"
	"github.com/stemsi/forms-backend/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type stubViewer struct {
	view   *service.FormView
	err    error
	caller *model.Identity
}

func (s *stubViewer) GetForm(_ context.Context, _ string, caller *model.Identity) (*service.FormView, error) {
	s.caller = caller
	return s.view, s.err
}

type stubSubmitter struct {
	resp *model.FormResponse
	err  error
	got  *service.Submission
}

func (s *stubSubmitter) Submit(_ context.Context, sub *service.Submission) (*model.FormResponse, error) {
	s.got = sub
	return s.resp, s.err
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func newFormRouter(viewer FormViewer, submitter Submitter, caller *model.Identity) *gin.Engine {
	h := NewFormHandler(viewer, submitter, zerolog.Nop())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if caller != nil {
			c.Set(middleware.ContextKeyIdentity, caller)
		}
		c.Next()
	})
	r.GET("/api/v1/forms/:form_id", h.GetForm)
	r.POST("/api/v1/forms/submit/:form_id", h.SubmitForm)
	return r
}

func postSubmit(r *gin.Engine, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/forms/submit/apply", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:4000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestSubmitFormBuildsSubmission(t *testing.T) {
	stored := &model.FormResponse{ID: uuid.New(), FormID: "apply"}
	sub := &stubSubmitter{resp: stored}
	caller := &model.Identity{ID: "42", Username: "ada"}
	r := newFormRouter(&stubViewer{}, sub, caller)

	w, env := postSubmit(r, `{"response":{"name":"Ada"},"captcha":"tok"}`, map[string]string{
		"CF-Connecting-IP": "198.51.100.4",
		"User-Agent":       "forms-test/1.0",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(string(env.Data), stored.ID.String()) {
		t.Errorf("response body lacks stored id: %s", env.Data)
	}

	got := sub.got
	if got.FormID != "apply" || got.Captcha != "tok" || got.Caller != caller {
		t.Errorf("submission = %+v", got)
	}
	if got.Client.Address != "198.51.100.4" || got.Client.UserAgent != "forms-test/1.0" {
		t.Errorf("client = %+v", got.Client)
	}
	if string(got.Answers["name"]) != `"Ada"` {
		t.Errorf("answers = %v", got.Answers)
	}
}

func TestSubmitFormFallsBackToPeerAddress(t *testing.T) {
	sub := &stubSubmitter{resp: &model.FormResponse{}}
	r := newFormRouter(&stubViewer{}, sub, nil)

	postSubmit(r, `{"response":{}}`, nil)
	if sub.got == nil || sub.got.Client.Address != "192.0.2.10" || sub.got.Caller != nil || sub.got.Captcha != "" {
		t.Errorf("submission = %+v", sub.got)
	}
}

func TestSubmitFormRejectsBadPayload(t *testing.T) {
	sub := &stubSubmitter{}
	r := newFormRouter(&stubViewer{}, sub, nil)

	for _, body := range []string{`{"captcha":"x"}`, `not json`} {
		w, env := postSubmit(r, body, nil)
		if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != "INVALID_PAYLOAD" {
			t.Errorf("body %q: %d %s", body, w.Code, w.Body.String())
		}
	}
	if sub.got != nil {
		t.Error("invalid payload reached the service")
	}
}

func TestSubmitFormErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		details string
	}{
		{"not found", service.ErrFormNotFound, http.StatusNotFound, "NOT_FOUND", ""},
		{"identity", service.ErrMissingIdentity, http.StatusBadRequest, "MISSING_IDENTITY", ""},
		{"email", service.ErrEmailRequired, http.StatusBadRequest, "EMAIL_REQUIRED", ""},
		{"bypass", service.ErrBypassDetected, http.StatusUnprocessableEntity, "BYPASS_DETECTED", ""},
		{"duplicate", service.ErrAlreadyResponded, http.StatusConflict, "ALREADY_RESPONDED", ""},
		{"missing", &service.MissingFieldsError{Fields: []string{"name", "age"}},
			http.StatusBadRequest, "MISSING_FIELDS", `{"fields":["name","age"]}`},
		{"invalid", &service.ValidationError{Errors: []validator.FieldError{{Field: "response.age", Message: "bad"}}},
			http.StatusUnprocessableEntity, "VALIDATION_ERROR", `{"errors":[{"field":"response.age","message":"bad"}]}`},
		{"tests", &service.GradingFailedError{Outcomes: []model.GradingOutcome{{QuestionID: "code", ReturnCode: model.ReturnCodeExecuted, Result: "hidden_test_1;"}}},
			http.StatusUnprocessableEntity, "FAILED_TESTS", `"question_id":"code"`},
		{"sandbox", &service.ServiceError{Op: "grade", Unavailable: true, Err: sandbox.ErrUnavailable},
			http.StatusInternalServerError, "SERVICE_UNAVAILABLE", ""},
		{"internal", &service.ServiceError{Op: "store response", Err: errors.New("boom")},
			http.StatusInternalServerError, "INTERNAL_ERROR", ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newFormRouter(&stubViewer{}, &stubSubmitter{err: tc.err}, nil)
			w, env := postSubmit(r, `{"response":{}}`, nil)
			if w.Code != tc.status {
				t.Fatalf("status %d, want %d: %s", w.Code, tc.status, w.Body.String())
			}
			if env.Error == nil || env.Error.Code != tc.code {
				t.Fatalf("error = %s", w.Body.String())
			}
			if tc.details != "" && !strings.Contains(string(env.Error.Details), tc.details) {
				t.Errorf("details = %s, want %s", env.Error.Details, tc.details)
			}
		})
	}
}

func TestGetFormPassesCaller(t *testing.T) {
	submitted := true
	viewer := &stubViewer{view: &service.FormView{
		Form:      &model.Form{ID: "apply", Name: "Apply"},
		Submitted: &submitted,
	}}
	caller := &model.Identity{ID: "42", Username: "ada"}
	r := newFormRouter(viewer, &stubSubmitter{}, caller)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/forms/apply", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if viewer.caller != caller {
		t.Error("caller not forwarded")
	}
	if !strings.Contains(w.Body.String(), `"submitted":true`) || !strings.Contains(w.Body.String(), `"id":"apply"`) {
		t.Errorf("body = %s", w.Body.String())
	}

	viewer.err = service.ErrFormNotFound
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/forms/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing form status %d", w.Code)
	}
}

type stubQueue struct{}

func (stubQueue) Pending() int  { return 3 }
func (stubQueue) Capacity() int { return 256 }

func TestHealth(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	cases := []struct {
		name   string
		deps   map[string]Pinger
		status int
		want   string
	}{
		{"healthy", map[string]Pinger{"postgres": up, "redis": up}, http.StatusOK, `"redis":"ok"`},
		{"degraded", map[string]Pinger{"postgres": up, "redis": down}, http.StatusServiceUnavailable, `"redis":"down"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewSystemHandler(tc.deps, stubQueue{}, zerolog.Nop())
			r := gin.New()
			r.GET("/health", h.Health)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tc.status || !strings.Contains(w.Body.String(), tc.want) {
				t.Errorf("got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCollectReportsQueue(t *testing.T) {
	h := NewSystemHandler(nil, stubQueue{}, zerolog.Nop())
	m := h.collect()
	if m.DispatchPending != 3 || m.DispatchCapacity != 256 || m.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
}
