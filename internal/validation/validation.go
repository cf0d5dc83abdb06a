// Package validation checks form input structs and reports French,
// user-facing messages per field.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Errors maps a JSON field name to a user-facing message.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s: %s", f, e[f])
	}
	return "données invalides (" + strings.Join(parts, "; ") + ")"
}

var phonePattern = regexp.MustCompile(`^[0-9+().\- ]{6,20}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Struct validates s against its `validate` tags.
// It returns nil or an Errors value.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := make(Errors, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = message(fe)
	}
	return out
}

// message renders a French message for one failed rule.
func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_if":
		return "Ce champ est obligatoire"
	case "email":
		return "Adresse email invalide"
	case "phone":
		return "Numéro de téléphone invalide"
	case "max":
		return fmt.Sprintf("%s caractères maximum", fe.Param())
	case "min":
		return fmt.Sprintf("%s caractères minimum", fe.Param())
	case "oneof":
		return "Valeur non autorisée"
	case "gtfield":
		return "Doit être postérieure à la date de début"
	case "alphanum":
		return "Lettres et chiffres uniquement"
	default:
		return "Valeur invalide"
	}
}

// Field builds a single-field Errors value.
func Field(name, msg string) Errors {
	return Errors{name: msg}
}
