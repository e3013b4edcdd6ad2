package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// FieldError is one violated rule. Field is the dotted JSON path below the
// validated value.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var (
	structOnce     sync.Once
	structValidate *govalidator.Validate
	structTrans    ut.Translator
)

func structEngine() (*govalidator.Validate, ut.Translator) {
	structOnce.Do(func() {
		v := govalidator.New(govalidator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonTagName)

		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		structTrans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, structTrans)
		structValidate = v
	})
	return structValidate, structTrans
}

// ValidateStruct runs the validate tags of v and returns every violation in
// field order. It does not depend on Setup.
func ValidateStruct(v interface{}) []FieldError {
	engine, trans := structEngine()
	err := engine.Struct(v)
	if err == nil {
		return nil
	}

	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return []FieldError{{Field: "", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(ve))
	for _, fe := range ve {
		out = append(out, FieldError{
			Field:   trimRoot(fe.Namespace()),
			Message: fe.Translate(trans),
		})
	}
	return out
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// trimRoot drops the struct type name that leads every namespace.
func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
