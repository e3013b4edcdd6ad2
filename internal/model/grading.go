package model

import (
	"strings"
)

// ReturnCode is the result class of one graded code question.
type ReturnCode int

const (
	ReturnCodeExecuted         ReturnCode = 0
	ReturnCodeSyntaxError      ReturnCode = 5
	ReturnCodeLoadError        ReturnCode = 6
	ReturnCodeResourceExceeded ReturnCode = 7
	ReturnCodeBypass           ReturnCode = 10
	ReturnCodeUnreachable      ReturnCode = 98
	ReturnCodeInternal         ReturnCode = 99

	// ReturnCodeKilled is what the isolation layer reports; it is stored as 7.
	ReturnCodeKilled ReturnCode = 137
)

// Infrastructure reports whether the code means grading itself broke, as
// opposed to the submitted answer failing.
func (rc ReturnCode) Infrastructure() bool {
	switch rc {
	case ReturnCodeSyntaxError, ReturnCodeLoadError, ReturnCodeUnreachable, ReturnCodeInternal:
		return true
	}
	return false
}

// GradingOutcome is the result of grading one code question.
type GradingOutcome struct {
	QuestionID    string     `json:"question_id"`
	QuestionIndex int        `json:"question_index"`
	ReturnCode    ReturnCode `json:"return_code"`
	Passed        bool       `json:"passed"`
	Result        string     `json:"result"`
}

// Failures returns the labels stored on the graded answer.
func (o GradingOutcome) Failures() []string {
	switch o.ReturnCode {
	case ReturnCodeExecuted:
		if o.Passed || o.Result == "" {
			return []string{}
		}
		return strings.Split(o.Result, ";")
	case ReturnCodeSyntaxError:
		return []string{"Could not parse user code."}
	case ReturnCodeLoadError:
		return []string{"Could not load user code."}
	case ReturnCodeResourceExceeded:
		return []string{"Timed out or ran out of memory."}
	case ReturnCodeBypass:
		return []string{"Bypass detected."}
	default:
		return []string{"Internal error."}
	}
}
