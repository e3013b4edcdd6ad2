package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type QuestionType string

const (
	QuestionTypeCheckbox QuestionType = "checkbox"
	QuestionTypeSelect   QuestionType = "select"
	QuestionTypeRadio    QuestionType = "radio"
	QuestionTypeCode     QuestionType = "code"
	QuestionTypeTextarea QuestionType = "textarea"
	QuestionTypeText     QuestionType = "text"
	QuestionTypeRange    QuestionType = "range"
	QuestionTypeSection  QuestionType = "section"
	QuestionTypeTimezone QuestionType = "timezone"
	QuestionTypeVote     QuestionType = "vote"
)

type dataKind int

const (
	dataList dataKind = iota
	dataString
)

// requiredQuestionData lists the data keys each question type must carry.
var requiredQuestionData = map[QuestionType]map[string]dataKind{
	QuestionTypeRadio:    {"options": dataList},
	QuestionTypeCheckbox: {"options": dataList},
	QuestionTypeSelect:   {"options": dataList},
	QuestionTypeRange:    {"options": dataList},
	QuestionTypeVote:     {"options": dataList},
	QuestionTypeCode:     {"language": dataString},
	QuestionTypeSection:  {"text": dataString},
}

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeCheckbox, QuestionTypeSelect, QuestionTypeRadio, QuestionTypeCode,
		QuestionTypeTextarea, QuestionTypeText, QuestionTypeRange, QuestionTypeSection,
		QuestionTypeTimezone, QuestionTypeVote:
		return true
	}
	return false
}

// Question is a single form question. Data holds the type-specific blob.
type Question struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     QuestionType    `json:"type"`
	Data     json.RawMessage `json:"data"`
	Required bool            `json:"required"`
}

func (q *Question) UnmarshalJSON(b []byte) error {
	type plain Question
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	p.Type = QuestionType(strings.ToLower(string(p.Type)))
	*q = Question(p)
	return nil
}

// Validate checks the type and the data keys the type requires.
func (q Question) Validate() error {
	if !q.Type.Valid() {
		return fmt.Errorf("%q is not a valid question type", q.Type)
	}
	required, ok := requiredQuestionData[q.Type]
	if !ok {
		return nil
	}

	var data map[string]json.RawMessage
	if len(q.Data) > 0 {
		if err := json.Unmarshal(q.Data, &data); err != nil {
			return fmt.Errorf("question data must be an object: %w", err)
		}
	}
	for key, kind := range required {
		raw, ok := data[key]
		if !ok {
			return fmt.Errorf("required question data key '%s' not provided", key)
		}
		switch kind {
		case dataList:
			var list []json.RawMessage
			if err := json.Unmarshal(raw, &list); err != nil || list == nil {
				return fmt.Errorf("question data key '%s' expects a list", key)
			}
		case dataString:
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("question data key '%s' expects a string", key)
			}
		}
	}

	if q.Type == QuestionTypeCode {
		if _, err := q.CodeData(); err != nil {
			return err
		}
	}
	return nil
}

// Options returns the option labels of a choice question.
func (q Question) Options() []string {
	var data struct {
		Options []any `json:"options"`
	}
	if len(q.Data) == 0 || json.Unmarshal(q.Data, &data) != nil {
		return nil
	}
	out := make([]string, 0, len(data.Options))
	for _, o := range data.Options {
		out = append(out, fmt.Sprint(o))
	}
	return out
}

// CodeData is the data blob of a code question.
type CodeData struct {
	Language  string         `json:"language"`
	Unittests *UnitTestSuite `json:"unittests,omitempty"`
}

// CodeData decodes the data blob of a code question.
func (q Question) CodeData() (*CodeData, error) {
	if q.Type != QuestionTypeCode {
		return nil, fmt.Errorf("question %s is not a code question", q.ID)
	}
	var cd CodeData
	if len(q.Data) > 0 {
		if err := json.Unmarshal(q.Data, &cd); err != nil {
			return nil, fmt.Errorf("decode code question data: %w", err)
		}
	}
	return &cd, nil
}

func (q Question) withRedactedTests() (Question, error) {
	if len(q.Data) == 0 {
		return q, nil
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(q.Data, &data); err != nil {
		return q, err
	}
	rawSuite, ok := data["unittests"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawSuite), []byte("null")) {
		return q, nil
	}
	var suite UnitTestSuite
	if err := json.Unmarshal(rawSuite, &suite); err != nil {
		return q, err
	}
	redacted, err := json.Marshal(suite.Redacted())
	if err != nil {
		return q, err
	}
	data["unittests"] = redacted
	blob, err := json.Marshal(data)
	if err != nil {
		return q, err
	}
	q.Data = blob
	return q, nil
}

// HiddenTestPrefix marks a test whose name is withheld from non-admins.
const HiddenTestPrefix = "#"

// Fixture method names that are not tests themselves.
const (
	FixtureSetUp    = "setUp"
	FixtureTearDown = "tearDown"
)

// UnitTest is one entry of a code question's test suite.
type UnitTest struct {
	Name   string
	Body   string
	Hidden bool
	// Alias is the public name of a hidden test ("hidden_test_N").
	Alias string
}

// IsFixture reports whether the entry is a setUp/tearDown hook.
func (t UnitTest) IsFixture() bool {
	return t.Name == FixtureSetUp || t.Name == FixtureTearDown
}

// PublicName is the name shown to non-admins.
func (t UnitTest) PublicName() string {
	if t.Hidden {
		return t.Alias
	}
	return t.Name
}

func (t UnitTest) key() string {
	if t.Hidden {
		return HiddenTestPrefix + t.Name
	}
	return t.Name
}

// UnitTestSuite holds the tests of a code question in declaration order.
// A suite decoded from a redacted view has only Count set.
type UnitTestSuite struct {
	AllowFailure bool
	Tests        []UnitTest
	Count        int
	redacted     bool
}

// RedactedSuite is the public shape of a suite: the mapping becomes its size.
type RedactedSuite struct {
	AllowFailure bool `json:"allow_failure"`
	Tests        int  `json:"tests"`
}

// Redacted returns the public view of the suite.
func (s *UnitTestSuite) Redacted() RedactedSuite {
	return RedactedSuite{AllowFailure: s.AllowFailure, Tests: s.Count}
}

// IsRedacted reports whether the test bodies were stripped before decoding.
func (s *UnitTestSuite) IsRedacted() bool {
	return s.redacted
}

// Runnable reports whether the suite has at least one real test to execute.
func (s *UnitTestSuite) Runnable() bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tests {
		if !t.IsFixture() {
			return true
		}
	}
	return false
}

// HiddenAliases maps hidden test names to their public alias.
func (s *UnitTestSuite) HiddenAliases() map[string]string {
	aliases := make(map[string]string)
	for _, t := range s.Tests {
		if t.Hidden {
			aliases[t.Name] = t.Alias
		}
	}
	return aliases
}

func (s *UnitTestSuite) UnmarshalJSON(b []byte) error {
	var raw struct {
		AllowFailure bool            `json:"allow_failure"`
		Tests        json.RawMessage `json:"tests"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode unittests: %w", err)
	}

	*s = UnitTestSuite{AllowFailure: raw.AllowFailure}

	tests := bytes.TrimSpace(raw.Tests)
	if len(tests) == 0 || bytes.Equal(tests, []byte("null")) {
		return nil
	}
	if tests[0] != '{' {
		if err := json.Unmarshal(tests, &s.Count); err != nil {
			return fmt.Errorf("unittests.tests must be an object or a count: %w", err)
		}
		s.redacted = true
		return nil
	}

	// Decode token by token so declaration order survives.
	dec := json.NewDecoder(bytes.NewReader(tests))
	if _, err := dec.Token(); err != nil {
		return err
	}
	hidden := 0
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errors.New("unittests.tests has a non-string key")
		}
		var body string
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("test %q: body must be a string", key)
		}

		t := UnitTest{Name: strings.TrimLeft(key, HiddenTestPrefix), Body: body}
		if strings.HasPrefix(key, HiddenTestPrefix) {
			hidden++
			t.Hidden = true
			t.Alias = fmt.Sprintf("hidden_test_%d", hidden)
		}
		s.Tests = append(s.Tests, t)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	s.Count = len(s.Tests)
	return nil
}

func (s UnitTestSuite) MarshalJSON() ([]byte, error) {
	if s.redacted {
		return json.Marshal(s.Redacted())
	}

	var buf bytes.Buffer
	buf.WriteString(`{"allow_failure":`)
	if s.AllowFailure {
		buf.WriteString("true")
	} else {
		buf.WriteString("false")
	}
	buf.WriteString(`,"tests":{`)
	for i, t := range s.Tests {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(t.key())
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(t.Body)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}
