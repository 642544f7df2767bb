package validate

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/apperr"
)

var (
	requiredTag  = "required"
	requiredText = "this field is required"

	once       sync.Once
	validate   *validator.Validate
	translator ut.Translator
)

func instance() (*validator.Validate, ut.Translator) {
	once.Do(func() {
		english := en.New()
		translator, _ = ut.New(english, english).GetTranslator("en")
		validate = validator.New()
		_ = en_translations.RegisterDefaultTranslations(validate, translator)

		// Use JSON tag names for errors instead of Go struct names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		_ = validate.RegisterTranslation(
			requiredTag, translator,
			func(t ut.Translator) error { return t.Add(requiredTag, requiredText, true) },
			func(t ut.Translator, fe validator.FieldError) string {
				s, _ := t.T(requiredTag, fe.Field())
				return s
			},
		)
	})
	return validate, translator
}

// Struct validates s against its `validate` tags and returns an
// *apperr.ValidationError listing every failing field.
func Struct(s interface{}) error {
	v, trans := instance()
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.NewValidationError(err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fe.Field(), Error: fe.Translate(trans)})
	}
	return apperr.NewValidationError(nil, fields...)
}
