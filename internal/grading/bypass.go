package grading

import (
	"github.com/stemsi/forms-backend/internal/sandbox"
)

// DetectBypass inspects a run that exited with code 0. The runner writes a
// single "1" on success and "0" plus failing names otherwise; anything else
// means the output was forged by the submitted code. It returns the reason
// and true when the output cannot be trusted.
func DetectBypass(res *sandbox.Result) (string, bool) {
	if res.ReturnCode != 0 {
		return "", false
	}
	if res.Stdout == "" {
		return "runner produced no result marker", true
	}
	switch res.Stdout[0] {
	case '0':
		return "", false
	case '1':
		if len(res.Stdout) > 1 {
			return "success marker followed by extra output", true
		}
		return "", false
	default:
		return "runner output does not start with a result marker", true
	}
}
