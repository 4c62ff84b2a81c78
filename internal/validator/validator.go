package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// Struct-level rule tags.
const (
	tagEndAfterStart = "end_after_start"
	tagOneCorrect    = "one_correct"
)

// trans is the singleton English translator for validation errors.
var trans ut.Translator

// Setup registers the validator with English translations on Gin's binding engine.
// Call once during application startup.
func Setup() {
	if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
		// Use JSON tag name for field names in error messages.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		// Register English translations.
		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		v.RegisterStructValidation(validateAssessment, model.CreateAssessmentRequest{})
		v.RegisterStructValidation(validateQuestion, model.QuestionRequest{})
		registerMessage(v, tagEndAfterStart, "{0} must not be before start")
		registerMessage(v, tagOneCorrect, "{0} must contain exactly one correct option")
	}
}

func registerMessage(v *govalidator.Validate, tag, text string) {
	_ = v.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error { return ut.Add(tag, text, true) },
		func(ut ut.Translator, fe govalidator.FieldError) string {
			msg, _ := ut.T(tag, fe.Field())
			return msg
		},
	)
}

// validateAssessment rejects windows that close before they open.
func validateAssessment(sl govalidator.StructLevel) {
	req := sl.Current().Interface().(model.CreateAssessmentRequest)
	if !req.Start.IsZero() && !req.End.IsZero() && req.End.Before(req.Start) {
		sl.ReportError(req.End, "end", "End", tagEndAfterStart, "")
	}
}

// validateQuestion enforces exactly one correct option per question.
func validateQuestion(sl govalidator.StructLevel) {
	req := sl.Current().Interface().(model.QuestionRequest)
	correct := 0
	for _, o := range req.Options {
		if o.IsCorrect {
			correct++
		}
	}
	if len(req.Options) > 0 && correct != 1 {
		sl.ReportError(req.Options, "options", "Options", tagOneCorrect, "")
	}
}

// TranslateErrors takes a binding/validation error and returns a map of
// field path → human-readable error message. Nested fields keep their position,
// e.g. "questions[1].options". If the error is not a validation error, it
// returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fieldPath(fe)] = fe.Translate(trans)
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe govalidator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
