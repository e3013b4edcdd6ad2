package service

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/validator"
)

// collectAnswers fills optional gaps with nil and returns the ids of the
// required questions that were left unanswered, in question order. A
// required answer given as JSON null counts as unanswered.
func collectAnswers(form *model.Form, raw map[string]json.RawMessage) (map[string]json.RawMessage, []string) {
	filled := make(map[string]json.RawMessage, len(form.Questions))
	var missing []string
	for _, q := range form.Questions {
		v, ok := raw[q.ID]
		if !ok || isNull(v) {
			if q.Required && q.Type != model.QuestionTypeSection {
				missing = append(missing, q.ID)
			}
			filled[q.ID] = nil
			continue
		}
		filled[q.ID] = v
	}
	return filled, missing
}

// decodeAnswers checks every answer against its question type and returns
// the decoded mapping. Answers to questions the form does not have are
// violations too.
func decodeAnswers(form *model.Form, raw, filled map[string]json.RawMessage) (map[string]any, []validator.FieldError) {
	var errs []validator.FieldError
	answers := make(map[string]any, len(filled))

	for _, q := range form.Questions {
		v := filled[q.ID]
		if v == nil {
			answers[q.ID] = nil
			continue
		}
		decoded, msg := checkAnswer(q, v)
		if msg != "" {
			errs = append(errs, validator.FieldError{Field: "response." + q.ID, Message: msg})
			continue
		}
		answers[q.ID] = decoded
	}

	unknown := make([]string, 0)
	for id := range raw {
		if _, ok := filled[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	slices.Sort(unknown)
	for _, id := range unknown {
		errs = append(errs, validator.FieldError{Field: "response." + id, Message: "form has no question with this id"})
	}
	return answers, errs
}

// checkAnswer decodes one answer and returns a message when its shape does
// not fit the question type.
func checkAnswer(q model.Question, raw json.RawMessage) (any, string) {
	switch q.Type {
	case model.QuestionTypeText, model.QuestionTypeTextarea, model.QuestionTypeCode, model.QuestionTypeTimezone:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, "must be a string"
		}
		return s, ""

	case model.QuestionTypeRadio, model.QuestionTypeSelect:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, "must be a string"
		}
		if opts := q.Options(); len(opts) > 0 && !slices.Contains(opts, s) {
			return nil, fmt.Sprintf("%q is not one of the options", s)
		}
		return s, ""

	case model.QuestionTypeRange:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, "must be a string or a number"
		}
		switch v.(type) {
		case string, float64:
			return v, ""
		}
		return nil, "must be a string or a number"

	case model.QuestionTypeCheckbox:
		// Either the list of ticked options or an option to bool mapping.
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, ""
		}
		var ticks map[string]bool
		if err := json.Unmarshal(raw, &ticks); err == nil {
			return ticks, ""
		}
		return nil, "must be a list of options or an object of option flags"

	case model.QuestionTypeVote:
		var ranks map[string]float64
		if err := json.Unmarshal(raw, &ranks); err != nil {
			return nil, "must be an object of option rankings"
		}
		return ranks, ""

	case model.QuestionTypeSection:
		return nil, "section questions take no answer"
	}
	return nil, fmt.Sprintf("unsupported question type %q", q.Type)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
