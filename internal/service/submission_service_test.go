package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/forms-backend/internal/antispam"
	"github.com/stemsi/forms-backend/internal/directory"
	"github.com/stemsi/forms-backend/internal/grading"
	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/repository"
	"github.com/stemsi/forms-backend/internal/sandbox"
	"github.com/stemsi/forms-backend/internal/worker"
)

// ─── Fakes ──────────────────────────────────────────────────────────────

type fakeForms map[string]*model.Form

func (f fakeForms) FindOpenForm(_ context.Context, id string) (*model.Form, error) {
	form, ok := f[id]
	if !ok || !form.Features.Has(model.FeatureOpen) {
		return nil, ErrFormNotFound
	}
	return form, nil
}

type fakeResponses struct {
	mu     sync.Mutex
	stored []*model.FormResponse
	keys   map[string]bool
	err    error
}

func (f *fakeResponses) Insert(_ context.Context, resp *model.FormResponse, responderKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if responderKey != "" {
		if f.keys == nil {
			f.keys = map[string]bool{}
		}
		k := resp.FormID + "/" + responderKey
		if f.keys[k] {
			return repository.ErrDuplicateResponse
		}
		f.keys[k] = true
	}
	f.stored = append(f.stored, resp)
	return nil
}

func (f *fakeResponses) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type fakeViolations struct {
	records []*model.ViolationRecord
	err     error
}

func (f *fakeViolations) Insert(_ context.Context, rec *model.ViolationRecord) error {
	f.records = append(f.records, rec)
	return f.err
}

type queuedSandbox struct {
	mu      sync.Mutex
	results []*sandbox.Result
	calls   int
}

func (q *queuedSandbox) Evaluate(context.Context, string) (*sandbox.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if len(q.results) == 0 {
		return nil, errors.New("no scripted result")
	}
	r := q.results[0]
	q.results = q.results[1:]
	return r, nil
}

type fakeSpam struct {
	calls int
	err   error
}

func (f *fakeSpam) Evaluate(_ context.Context, _ antispam.Client, token string) (*model.AntiSpam, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &model.AntiSpam{
		IPHash:        strings.Repeat("ab", 32),
		UserAgentHash: strings.Repeat("cd", 32),
		CaptchaPass:   token != "",
	}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	webhooks int
	roles    []string
}

func (f *fakeNotifier) SendWebhook(context.Context, *model.Form, *model.FormResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks++
	return nil
}

func (f *fakeNotifier) AssignRole(_ context.Context, _ *model.Form, user *model.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles = append(f.roles, user.ID)
	return nil
}

type fakePublisher struct {
	events []*model.ResponseEvent
}

func (f *fakePublisher) Publish(_ context.Context, ev *model.ResponseEvent) error {
	f.events = append(f.events, ev)
	return nil
}

// recordingQueue holds jobs until runAll is called.
type recordingQueue struct {
	jobs []worker.Job
}

func (q *recordingQueue) Enqueue(job worker.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) names() []string {
	out := make([]string, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Name)
	}
	return out
}

func (q *recordingQueue) runAll(t *testing.T) {
	t.Helper()
	for _, j := range q.jobs {
		if err := j.Run(context.Background()); err != nil {
			t.Errorf("job %s: %v", j.Name, err)
		}
	}
}

// ─── Harness ────────────────────────────────────────────────────────────

type rig struct {
	svc        *SubmissionService
	forms      fakeForms
	responses  *fakeResponses
	violations *fakeViolations
	sandbox    *queuedSandbox
	spam       *fakeSpam
	notifier   *fakeNotifier
	events     *fakePublisher
	jobs       *recordingQueue
}

func newRig(forms ...*model.Form) *rig {
	r := &rig{
		forms:      fakeForms{},
		responses:  &fakeResponses{},
		violations: &fakeViolations{},
		sandbox:    &queuedSandbox{},
		spam:       &fakeSpam{},
		notifier:   &fakeNotifier{},
		events:     &fakePublisher{},
		jobs:       &recordingQueue{},
	}
	for _, f := range forms {
		r.forms[f.ID] = f
	}
	r.svc = NewSubmissionService(SubmissionDeps{
		Forms:      r.forms,
		Responses:  r.responses,
		Violations: r.violations,
		Grader:     grading.NewGrader(r.sandbox, zerolog.Nop()),
		Antispam:   r.spam,
		Notifier:   r.notifier,
		Events:     r.events,
		Jobs:       r.jobs,
	}, zerolog.Nop())
	r.svc.now = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600)) }
	return r
}

func features(t *testing.T, names ...string) model.Features {
	t.Helper()
	f, err := model.ParseFeatures(names)
	if err != nil {
		t.Fatalf("ParseFeatures: %v", err)
	}
	return f
}

func surveyForm(t *testing.T, flags ...string) *model.Form {
	return &model.Form{
		ID:       "survey",
		Name:     "Community Survey",
		Features: features(t, append([]string{"OPEN"}, flags...)...),
		Questions: []model.Question{
			{ID: "intro", Type: model.QuestionTypeSection, Data: json.RawMessage(`{"text":"Hello"}`)},
			{ID: "name", Type: model.QuestionTypeText, Required: true},
			{ID: "age", Type: model.QuestionTypeRange, Required: true, Data: json.RawMessage(`{"options":["<18","18+"]}`)},
			{ID: "lang", Type: model.QuestionTypeRadio, Required: true, Data: json.RawMessage(`{"options":["Go","Python"]}`)},
			{ID: "notes", Type: model.QuestionTypeTextarea},
		},
	}
}

func codeQuestionForm(t *testing.T, unittests string, flags ...string) *model.Form {
	return &model.Form{
		ID:       "apply",
		Name:     "Helper Application",
		Features: features(t, append([]string{"OPEN", "DISABLE_ANTISPAM"}, flags...)...),
		Questions: []model.Question{
			{ID: "why", Type: model.QuestionTypeTextarea, Required: true},
			{ID: "solution", Type: model.QuestionTypeCode, Required: true,
				Data: json.RawMessage(`{"language":"python","unittests":` + unittests + `}`)},
		},
	}
}

func answers(pairs ...string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = json.RawMessage(pairs[i+1])
	}
	return out
}

func alice() *model.Identity {
	email, verified := "alice@example.org", true
	return &model.Identity{ID: "42", Username: "alice", Discriminator: "0001", Email: &email, Verified: &verified}
}

// ─── Tests ──────────────────────────────────────────────────────────────

func TestAnonymousSubmissionAccepted(t *testing.T) {
	r := newRig(surveyForm(t))

	resp, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "survey",
		Answers: answers("name", `"Bima"`, "age", `"18+"`, "lang", `"Go"`),
		Captcha: "token",
		Client:  antispam.Client{Address: "203.0.113.9", UserAgent: "curl/8"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if r.responses.count() != 1 {
		t.Fatalf("stored = %d, want 1", r.responses.count())
	}
	if resp.User != nil {
		t.Error("anonymous response carries a user")
	}
	if resp.AntiSpam == nil || !resp.AntiSpam.CaptchaPass {
		t.Errorf("antispam = %+v", resp.AntiSpam)
	}
	if resp.Timestamp.Location() != time.UTC || !resp.Timestamp.Equal(time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v, want UTC", resp.Timestamp)
	}
	if v, ok := resp.Response["notes"]; !ok || v != nil {
		t.Errorf("optional answer = %v, want explicit null", v)
	}
	if got := r.jobs.names(); !reflect.DeepEqual(got, []string{"publish_response"}) {
		t.Errorf("jobs = %v", got)
	}
}

func TestClosedFormIsNotFound(t *testing.T) {
	form := surveyForm(t)
	form.Features = 0
	r := newRig(form)

	_, err := r.svc.Submit(context.Background(), &Submission{FormID: "survey", Answers: answers()})
	if !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("err = %v, want ErrFormNotFound", err)
	}
	if _, err := r.svc.Submit(context.Background(), &Submission{FormID: "nope"}); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("unknown form err = %v", err)
	}
	if r.spam.calls != 0 {
		t.Error("antispam ran before form lookup")
	}
}

func TestMissingFieldsReportedAsBatch(t *testing.T) {
	r := newRig(surveyForm(t))

	_, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "survey",
		Answers: answers("age", "null"),
	})

	var mf *MissingFieldsError
	if !errors.As(err, &mf) {
		t.Fatalf("err = %v, want *MissingFieldsError", err)
	}
	if want := []string{"name", "age", "lang"}; !reflect.DeepEqual(mf.Fields, want) {
		t.Errorf("fields = %v, want %v", mf.Fields, want)
	}
	if r.responses.count() != 0 {
		t.Error("response stored despite missing fields")
	}
}

func TestShapeErrorsReportedAsBatch(t *testing.T) {
	r := newRig(surveyForm(t))

	_, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "survey",
		Answers: answers("name", `12`, "age", `"18+"`, "lang", `"Rust"`, "extra", `"x"`),
	})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	fields := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		fields = append(fields, e.Field)
	}
	if want := []string{"response.name", "response.lang", "response.extra"}; !reflect.DeepEqual(fields, want) {
		t.Errorf("fields = %v, want %v", fields, want)
	}
}

func TestLoginGating(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		r := newRig(surveyForm(t, "REQUIRES_LOGIN"))
		_, err := r.svc.Submit(context.Background(), &Submission{FormID: "survey"})
		if !errors.Is(err, ErrMissingIdentity) {
			t.Fatalf("err = %v, want ErrMissingIdentity", err)
		}
	})

	t.Run("unverified email", func(t *testing.T) {
		r := newRig(surveyForm(t, "REQUIRES_LOGIN", "COLLECT_EMAIL"))
		caller := alice()
		unverified := false
		caller.Verified = &unverified

		_, err := r.svc.Submit(context.Background(), &Submission{FormID: "survey", Caller: caller})
		if !errors.Is(err, ErrEmailRequired) {
			t.Fatalf("err = %v, want ErrEmailRequired", err)
		}
	})

	t.Run("email kept only when collected", func(t *testing.T) {
		ans := answers("name", `"A"`, "age", `"<18"`, "lang", `"Python"`)

		r := newRig(surveyForm(t, "REQUIRES_LOGIN", "COLLECT_EMAIL"))
		resp, err := r.svc.Submit(context.Background(), &Submission{FormID: "survey", Answers: ans, Caller: alice()})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if resp.User == nil || resp.User.Email == nil || *resp.User.Email != "alice@example.org" {
			t.Errorf("user = %+v", resp.User)
		}

		r = newRig(surveyForm(t, "REQUIRES_LOGIN"))
		resp, err = r.svc.Submit(context.Background(), &Submission{FormID: "survey", Answers: ans, Caller: alice()})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if resp.User == nil || resp.User.Email != nil {
			t.Errorf("user = %+v, want snapshot without email", resp.User)
		}
	})
}

func TestAntispamSkippedWhenDisabled(t *testing.T) {
	r := newRig(surveyForm(t, "DISABLE_ANTISPAM"))
	resp, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "survey",
		Answers: answers("name", `"A"`, "age", `3`, "lang", `"Go"`),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.spam.calls != 0 || resp.AntiSpam != nil {
		t.Errorf("antispam ran: calls=%d record=%+v", r.spam.calls, resp.AntiSpam)
	}
}

func TestCaptchaOutageIsServiceError(t *testing.T) {
	r := newRig(surveyForm(t))
	r.spam.err = antispam.ErrVerifierUnavailable

	_, err := r.svc.Submit(context.Background(), &Submission{FormID: "survey", Captcha: "tok"})
	var se *ServiceError
	if !errors.As(err, &se) || !se.Unavailable {
		t.Fatalf("err = %v, want unavailable *ServiceError", err)
	}
}

func TestFailingVisibleTestBlocks(t *testing.T) {
	r := newRig(codeQuestionForm(t, `{"allow_failure": false, "tests": {"returns_one": "pass", "handles_empty": "pass"}}`))
	r.sandbox.results = []*sandbox.Result{{ReturnCode: 0, Stdout: "0handles_empty"}}

	_, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "apply",
		Answers: answers("why", `"fun"`, "solution", `"def f(): return 1"`),
	})

	var gf *GradingFailedError
	if !errors.As(err, &gf) {
		t.Fatalf("err = %v, want *GradingFailedError", err)
	}
	if len(gf.Outcomes) != 1 {
		t.Fatalf("outcomes = %+v", gf.Outcomes)
	}
	o := gf.Outcomes[0]
	if o.QuestionID != "solution" || o.QuestionIndex != 1 || o.Passed || o.Result != "handles_empty" {
		t.Errorf("outcome = %+v", o)
	}
	if r.responses.count() != 0 {
		t.Error("blocked response was stored")
	}
}

func TestAllowFailureStoresRedactedOutcome(t *testing.T) {
	r := newRig(codeQuestionForm(t, `{"allow_failure": true, "tests": {"visible": "pass", "#edge_cases": "pass"}}`))
	r.sandbox.results = []*sandbox.Result{{ReturnCode: 0, Stdout: "0edge_cases"}}

	resp, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "apply",
		Answers: answers("why", `"fun"`, "solution", `"x = 1"`),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, ok := resp.Response["solution"].(model.CodeAnswer)
	if !ok {
		t.Fatalf("solution = %T, want model.CodeAnswer", resp.Response["solution"])
	}
	want := model.CodeAnswer{Value: "x = 1", Passed: false, Failures: []string{"hidden_test_1"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("annotation = %+v, want %+v", got, want)
	}
	if r.responses.count() != 1 {
		t.Error("response not stored")
	}
}

func multiCodeForm(t *testing.T) *model.Form {
	suite := func(allowFailure bool) json.RawMessage {
		flag := "false"
		if allowFailure {
			flag = "true"
		}
		return json.RawMessage(`{"language":"python","unittests":{"allow_failure": ` + flag + `, "tests": {"ok": "pass", "#edge": "pass"}}}`)
	}
	return &model.Form{
		ID:       "apply",
		Name:     "Helper Application",
		Features: features(t, "OPEN", "DISABLE_ANTISPAM"),
		Questions: []model.Question{
			{ID: "why", Type: model.QuestionTypeTextarea, Required: true},
			{ID: "q1", Type: model.QuestionTypeCode, Required: true, Data: suite(false)},
			{ID: "q2", Type: model.QuestionTypeCode, Required: true, Data: suite(true)},
			{ID: "q3", Type: model.QuestionTypeCode, Required: true, Data: suite(false)},
		},
	}
}

func TestSeveralCodeQuestions(t *testing.T) {
	type blocked struct {
		id     string
		index  int
		result string
	}
	cases := []struct {
		name    string
		stdout  []string
		blocked []blocked
		passed  map[string]bool
	}{
		{
			name:    "only blocking failures reported",
			stdout:  []string{"1", "0ok", "0edge"},
			blocked: []blocked{{"q3", 3, "hidden_test_1"}},
		},
		{
			name:    "blocking failures in question order",
			stdout:  []string{"0ok;edge", "1", "0ok"},
			blocked: []blocked{{"q1", 1, "ok;hidden_test_1"}, {"q3", 3, "ok"}},
		},
		{
			name:   "allowed failure accepted",
			stdout: []string{"1", "0edge", "1"},
			passed: map[string]bool{"q1": true, "q2": false, "q3": true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(multiCodeForm(t))
			for _, out := range tc.stdout {
				r.sandbox.results = append(r.sandbox.results, &sandbox.Result{ReturnCode: 0, Stdout: out})
			}

			resp, err := r.svc.Submit(context.Background(), &Submission{
				FormID:  "apply",
				Answers: answers("why", `"fun"`, "q1", `"a = 1"`, "q2", `"b = 2"`, "q3", `"c = 3"`),
			})
			if r.sandbox.calls != 3 {
				t.Errorf("sandbox calls = %d, want 3", r.sandbox.calls)
			}

			if tc.blocked == nil {
				if err != nil {
					t.Fatalf("Submit: %v", err)
				}
				for id, want := range tc.passed {
					got := resp.Response[id].(model.CodeAnswer)
					if got.Passed != want {
						t.Errorf("%s passed = %v, want %v", id, got.Passed, want)
					}
				}
				return
			}

			var gf *GradingFailedError
			if !errors.As(err, &gf) {
				t.Fatalf("err = %v, want *GradingFailedError", err)
			}
			if len(gf.Outcomes) != len(tc.blocked) {
				t.Fatalf("outcomes = %+v, want %d", gf.Outcomes, len(tc.blocked))
			}
			for i, want := range tc.blocked {
				o := gf.Outcomes[i]
				if o.QuestionID != want.id || o.QuestionIndex != want.index || o.Passed || o.Result != want.result {
					t.Errorf("outcome %d = %+v, want %s/%d %q", i, o, want.id, want.index, want.result)
				}
			}
			if r.responses.count() != 0 {
				t.Error("blocked response was stored")
			}
		})
	}
}

func TestInfrastructureOutcomeStopsGrading(t *testing.T) {
	r := newRig(multiCodeForm(t))
	r.sandbox.results = []*sandbox.Result{
		{ReturnCode: 0, Stdout: "0ok"},
		{ReturnCode: 5, Stdout: "SyntaxError"},
		{ReturnCode: 0, Stdout: "1"},
	}

	_, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "apply",
		Answers: answers("why", `"fun"`, "q1", `"a"`, "q2", `"b ="`, "q3", `"c"`),
	})
	var se *ServiceError
	if !errors.As(err, &se) || se.Unavailable {
		t.Fatalf("err = %v, want internal *ServiceError", err)
	}
	if r.sandbox.calls != 2 {
		t.Errorf("sandbox calls = %d, want 2", r.sandbox.calls)
	}
}

func TestPassingCodeIsAnnotated(t *testing.T) {
	r := newRig(codeQuestionForm(t, `{"allow_failure": false, "tests": {"ok": "pass"}}`))
	r.sandbox.results = []*sandbox.Result{{ReturnCode: 0, Stdout: "1"}}

	resp, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "apply",
		Answers: answers("why", `"fun"`, "solution", `"x = 1"`),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := resp.Response["solution"].(model.CodeAnswer)
	if !got.Passed || len(got.Failures) != 0 {
		t.Errorf("annotation = %+v", got)
	}
}

func TestBypassRecordsViolation(t *testing.T) {
	r := newRig(codeQuestionForm(t, `{"allow_failure": true, "tests": {"ok": "pass"}}`))
	r.sandbox.results = []*sandbox.Result{{ReturnCode: 0, Stdout: "1extra-garbage"}}
	r.violations.err = errors.New("disk full")

	_, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "apply",
		Answers: answers("why", `"fun"`, "solution", `"print(1)"`),
	})
	if !errors.Is(err, ErrBypassDetected) {
		t.Fatalf("err = %v, want ErrBypassDetected", err)
	}
	if r.responses.count() != 0 {
		t.Error("bypassing response was stored")
	}
	if len(r.violations.records) != 1 {
		t.Fatalf("violations = %d, want 1", len(r.violations.records))
	}
	rec := r.violations.records[0]
	if rec.User != model.UnknownViolator || len(rec.Bypasses) != 1 || rec.Submission == nil {
		t.Errorf("violation = %+v", rec)
	}
}

func TestSandboxUnreachableIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := newRig(codeQuestionForm(t, `{"allow_failure": true, "tests": {"ok": "pass"}}`))
	r.svc.deps.Grader = grading.NewGrader(sandbox.NewClient(url, time.Second, zerolog.Nop()), zerolog.Nop())

	_, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "apply",
		Answers: answers("why", `"fun"`, "solution", `"x = 1"`),
	})

	var se *ServiceError
	if !errors.As(err, &se) || !se.Unavailable {
		t.Fatalf("err = %v, want unavailable *ServiceError", err)
	}
	if r.responses.count() != 0 || len(r.violations.records) != 0 {
		t.Errorf("writes happened: responses=%d violations=%d", r.responses.count(), len(r.violations.records))
	}
}

func TestInfrastructureCodesIgnoreAllowFailure(t *testing.T) {
	for _, rc := range []int{5, 6, 99} {
		r := newRig(codeQuestionForm(t, `{"allow_failure": true, "tests": {"ok": "pass"}}`))
		r.sandbox.results = []*sandbox.Result{{ReturnCode: rc, Stdout: "Traceback"}}

		_, err := r.svc.Submit(context.Background(), &Submission{
			FormID:  "apply",
			Answers: answers("why", `"fun"`, "solution", `"x ="`),
		})
		var se *ServiceError
		if !errors.As(err, &se) {
			t.Errorf("rc %d: err = %v, want *ServiceError", rc, err)
		}
	}
}

func TestResourceExceededHonoursAllowFailure(t *testing.T) {
	r := newRig(codeQuestionForm(t, `{"allow_failure": true, "tests": {"ok": "pass"}}`))
	r.sandbox.results = []*sandbox.Result{{ReturnCode: 137}}

	resp, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "apply",
		Answers: answers("why", `"fun"`, "solution", `"while True: pass"`),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := resp.Response["solution"].(model.CodeAnswer)
	if got.Passed || !reflect.DeepEqual(got.Failures, []string{"Timed out or ran out of memory."}) {
		t.Errorf("annotation = %+v", got)
	}
}

func TestOptionalCodeQuestionLeftEmpty(t *testing.T) {
	form := codeQuestionForm(t, `{"allow_failure": false, "tests": {"ok": "pass"}}`)
	form.Questions[1].Required = false
	r := newRig(form)

	resp, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "apply",
		Answers: answers("why", `"fun"`),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.sandbox.calls != 0 || resp.Response["solution"] != nil {
		t.Errorf("unanswered code question graded: calls=%d answer=%v", r.sandbox.calls, resp.Response["solution"])
	}
}

func TestUniqueResponderEnforcedOnWrite(t *testing.T) {
	r := newRig(surveyForm(t, "REQUIRES_LOGIN", "UNIQUE_RESPONDER"))
	sub := &Submission{
		FormID:  "survey",
		Answers: answers("name", `"A"`, "age", `"<18"`, "lang", `"Go"`),
		Caller:  alice(),
	}

	if _, err := r.svc.Submit(context.Background(), sub); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if _, err := r.svc.Submit(context.Background(), sub); !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("second err = %v, want ErrAlreadyResponded", err)
	}
	if r.responses.count() != 1 {
		t.Errorf("stored = %d, want 1", r.responses.count())
	}
}

func TestBackgroundJobsScheduled(t *testing.T) {
	form := surveyForm(t, "REQUIRES_LOGIN", "WEBHOOK_ENABLED", "ASSIGN_ROLE")
	role := "777"
	form.Webhook = &model.Webhook{URL: "http://hook.invalid"}
	form.DiscordRole = &role
	r := newRig(form)

	resp, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "survey",
		Answers: answers("name", `"A"`, "age", `"<18"`, "lang", `"Go"`),
		Caller:  alice(),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if want := []string{"deliver_webhook", "assign_role", "publish_response"}; !reflect.DeepEqual(r.jobs.names(), want) {
		t.Fatalf("jobs = %v, want %v", r.jobs.names(), want)
	}
	if r.notifier.webhooks != 0 {
		t.Fatal("webhook sent before the job ran")
	}

	r.jobs.runAll(t)
	if r.notifier.webhooks != 1 || !reflect.DeepEqual(r.notifier.roles, []string{"42"}) {
		t.Errorf("notifier = %+v", r.notifier)
	}
	if len(r.events.events) != 1 || r.events.events[0].ResponseID != resp.ID || r.events.events[0].UserID != "42" {
		t.Errorf("events = %+v", r.events.events)
	}
}

func TestWebhookDeliveredAfterSubmitReturns(t *testing.T) {
	release := make(chan struct{})
	var calls, delivered int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	form := surveyForm(t, "WEBHOOK_ENABLED")
	form.Webhook = &model.Webhook{URL: hook.URL}
	r := newRig(form)

	dispatcher := worker.NewDispatcher(1, 8, 5*time.Second, zerolog.Nop())
	dispatcher.Start(context.Background())
	r.svc.deps.Jobs = dispatcher
	r.svc.deps.Notifier = directory.NewNotifier(directory.NewClient(directory.Options{}, zerolog.Nop()), "https://forms.example.org", "", "")

	_, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "survey",
		Answers: answers("name", `"A"`, "age", `"<18"`, "lang", `"Go"`),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if atomic.LoadInt32(&delivered) != 0 {
		t.Fatal("webhook delivered before Submit returned")
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := atomic.LoadInt32(&delivered); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestStoreFailureIsServiceError(t *testing.T) {
	r := newRig(surveyForm(t))
	r.responses.err = errors.New("connection reset")

	_, err := r.svc.Submit(context.Background(), &Submission{
		FormID:  "survey",
		Answers: answers("name", `"A"`, "age", `"<18"`, "lang", `"Go"`),
	})
	var se *ServiceError
	if !errors.As(err, &se) || se.Unavailable {
		t.Fatalf("err = %v, want internal *ServiceError", err)
	}
	if len(r.jobs.jobs) != 0 {
		t.Error("jobs scheduled for an unsaved response")
	}
}
