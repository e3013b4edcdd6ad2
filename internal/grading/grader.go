package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/sandbox"
)

// Result texts for outcomes that carry no runner output.
const (
	ResultInvalidHarness   = "Invalid generated unit code."
	ResultUnreachable      = "Unable to contact code runner."
	ResultResourceExceeded = "Timed out or ran out of memory."
	ResultInternal         = "Internal error."
	ResultBypass           = "Bypass detected."
)

// Sandbox executes a composed program.
type Sandbox interface {
	Evaluate(ctx context.Context, program string) (*sandbox.Result, error)
}

// Report is the grading result of one submission.
type Report struct {
	// Outcomes are in question order. Skipped questions have no entry.
	Outcomes []model.GradingOutcome
	// Bypasses holds one reason per question whose output was forged.
	Bypasses []string
}

// Grader runs the code questions of a form against the sandbox.
type Grader struct {
	sandbox Sandbox
	log     zerolog.Logger
}

// NewGrader creates a Grader.
func NewGrader(sb Sandbox, log zerolog.Logger) *Grader {
	return &Grader{
		sandbox: sb,
		log:     log.With().Str("component", "code_grader").Logger(),
	}
}

// Grade grades every answered code question sequentially, in question order.
// answers must already hold a value (possibly nil) for every question.
// Grading stops at the first infrastructure outcome, which is then the last
// entry of the report.
func (g *Grader) Grade(ctx context.Context, form *model.Form, answers map[string]any) (*Report, error) {
	report := &Report{}
	for i, q := range form.Questions {
		if q.Type != model.QuestionTypeCode {
			continue
		}
		raw, ok := answers[q.ID]
		if !ok || raw == nil {
			continue
		}
		answer, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("question %s: code answer is %T, want string", q.ID, raw)
		}

		data, err := q.CodeData()
		if err != nil {
			return nil, err
		}

		outcome, reason := g.gradeQuestion(ctx, form.ID, i, q.ID, answer, data.Unittests)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.ReturnCode == model.ReturnCodeBypass {
			report.Bypasses = append(report.Bypasses, fmt.Sprintf("question %s: %s", q.ID, reason))
		}
		if outcome.ReturnCode.Infrastructure() {
			break
		}
	}
	return report, nil
}

func (g *Grader) gradeQuestion(ctx context.Context, formID string, index int, questionID, answer string, suite *model.UnitTestSuite) (model.GradingOutcome, string) {
	outcome := model.GradingOutcome{QuestionID: questionID, QuestionIndex: index}
	qLog := g.log.With().Str("form_id", formID).Str("question_id", questionID).Logger()

	if !suite.Runnable() {
		outcome.Passed = true
		return outcome, ""
	}

	harness, err := BuildHarness(answer, suite)
	if err != nil {
		qLog.Error().Err(err).Msg("Could not build grading harness")
		outcome.ReturnCode = model.ReturnCodeInternal
		outcome.Result = ResultInvalidHarness
		return outcome, ""
	}

	res, err := g.sandbox.Evaluate(ctx, harness.Program)
	if err != nil {
		qLog.Error().Err(err).Bool("unavailable", errors.Is(err, sandbox.ErrUnavailable)).Msg("Sandbox call failed")
		outcome.ReturnCode = model.ReturnCodeUnreachable
		outcome.Result = ResultUnreachable
		return outcome, ""
	}

	if reason, forged := DetectBypass(res); forged {
		qLog.Warn().Str("reason", reason).Msg("Grading bypass detected")
		outcome.ReturnCode = model.ReturnCodeBypass
		outcome.Result = ResultBypass
		return outcome, reason
	}

	switch rc := model.ReturnCode(res.ReturnCode); rc {
	case model.ReturnCodeExecuted:
		outcome.Passed = res.Stdout[0] == '1'
		if !outcome.Passed {
			outcome.Result = redact(res.Stdout[1:], harness.Aliases)
		}
	case model.ReturnCodeSyntaxError, model.ReturnCodeLoadError, model.ReturnCodeInternal:
		outcome.ReturnCode = rc
		outcome.Result = res.Stdout
	case model.ReturnCodeKilled:
		outcome.ReturnCode = model.ReturnCodeResourceExceeded
		outcome.Result = ResultResourceExceeded
	default:
		qLog.Error().Int("returncode", res.ReturnCode).Msg("Unknown runner exit code")
		outcome.ReturnCode = model.ReturnCodeInternal
		outcome.Result = ResultInternal
	}

	qLog.Debug().
		Int("return_code", int(outcome.ReturnCode)).
		Bool("passed", outcome.Passed).
		Msg("Question graded")

	return outcome, ""
}

// redact turns the runner's failing-name list into the public form, replacing
// hidden test names by their alias.
func redact(failed string, aliases map[string]string) string {
	failed = strings.TrimSpace(failed)
	if failed == "" {
		return ""
	}
	names := strings.Split(failed, ";")
	for i, name := range names {
		if alias, ok := aliases[name]; ok {
			names[i] = alias
		}
	}
	return strings.Join(names, ";")
}
