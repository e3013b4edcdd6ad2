package grading

import (
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/stemsi/forms-backend/internal/model"
)

//go:embed template/unittest_runner.py
var runnerTemplate string

const (
	userCodeSlot = "### USER CODE"
	unitCodeSlot = "### UNIT CODE"
	indentUnit   = "    "
)

// ErrInvalidHarness is returned when a test suite cannot be turned into a
// well-formed test class.
var ErrInvalidHarness = errors.New("invalid generated unit code")

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Harness is a composed program ready to be sent to the sandbox.
type Harness struct {
	Program string
	// Aliases maps hidden test names to their public alias.
	Aliases map[string]string
}

// BuildHarness composes answer and suite into a runnable program. The answer
// is base64-encoded so it can never escape its string literal. Identical
// inputs always produce identical program text.
func BuildHarness(answer string, suite *model.UnitTestSuite) (*Harness, error) {
	if err := checkSuite(suite); err != nil {
		return nil, err
	}

	userCode := fmt.Sprintf("USER_CODE = %q", base64.StdEncoding.EncodeToString([]byte(answer)))

	program := strings.Replace(runnerTemplate, userCodeSlot, userCode, 1)
	program = strings.Replace(program, unitCodeSlot, unitCode(suite.Tests), 1)

	return &Harness{Program: program, Aliases: suite.HiddenAliases()}, nil
}

func checkSuite(suite *model.UnitTestSuite) error {
	if suite == nil || len(suite.Tests) == 0 {
		return fmt.Errorf("%w: empty suite", ErrInvalidHarness)
	}
	seen := make(map[string]struct{}, len(suite.Tests))
	for _, t := range suite.Tests {
		if !identifierRe.MatchString(t.Name) {
			return fmt.Errorf("%w: %q is not a valid test name", ErrInvalidHarness, t.Name)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: duplicate test %q", ErrInvalidHarness, t.Name)
		}
		seen[t.Name] = struct{}{}
		if strings.TrimSpace(t.Body) == "" {
			return fmt.Errorf("%w: test %q has no body", ErrInvalidHarness, t.Name)
		}
	}
	return nil
}

// unitCode renders the test class body. setUp and tearDown keep their names
// so unittest runs them as fixtures.
func unitCode(tests []model.UnitTest) string {
	var b strings.Builder
	for _, t := range tests {
		method := "test_" + t.Name
		if t.IsFixture() {
			method = t.Name
		}
		fmt.Fprintf(&b, "\ndef %s(unit):\n%s", method, indent(t.Body, indentUnit))
	}
	return indent(b.String(), indentUnit)
}

// indent prefixes every line holding non-whitespace characters. Blank lines
// are left untouched.
func indent(text, prefix string) string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if strings.TrimSpace(line) != "" {
			b.WriteString(prefix)
		}
		b.WriteString(line)
	}
	return b.String()
}
