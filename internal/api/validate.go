package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"

	"github.com/mathgaling/tutor/internal/platform/apperr"
)

// requestValidator checks decoded request bodies and reports failures by
// their JSON field names.
type requestValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func newRequestValidator() *requestValidator {
	english := en.New()
	uni := ut.New(english, english)
	translator, _ := uni.GetTranslator("en")

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := entranslations.RegisterDefaultTranslations(v, translator); err != nil {
		panic(err)
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &requestValidator{validate: v, translator: translator}
}

// Struct validates s and converts failures into an *apperr.ValidationError.
func (rv *requestValidator) Struct(s any) error {
	err := rv.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &apperr.ValidationError{Msg: "invalid request"}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, apperr.FieldError{
			Field:   fe.Field(),
			Message: fe.Translate(rv.translator),
		})
	}
	return out
}
