package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// v is the package-level singleton validator. It is initialised once at
// package load time. Any custom type registrations must be made during init()
// before the first call to Struct.
var v = validator.New()

// projectKey matches Jira project keys: an uppercase letter followed by
// uppercase letters, digits or underscores.
var projectKey = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

func init() {
	_ = v.RegisterValidation("projectkey", func(fl validator.FieldLevel) bool {
		return projectKey.MatchString(fl.Field().String())
	})
}

// FieldErrors maps a struct field name to a user-facing message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	msgs := make([]string, 0, len(fe))
	for f, m := range fe {
		msgs = append(msgs, fmt.Sprintf("%s: %s", f, m))
	}
	return strings.Join(msgs, "; ")
}

// Struct validates the given struct using its validate tags.
// Tag failures are returned as FieldErrors.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		out := make(FieldErrors, len(ve))
		for _, fe := range ve {
			if _, seen := out[fe.Field()]; !seen {
				out[fe.Field()] = message(fe)
			}
		}
		return out
	}
	return nil
}

// Fields extracts FieldErrors from err, or nil.
func Fields(err error) FieldErrors {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "url":
		return "Enter a valid URL."
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "len":
		return fmt.Sprintf("Ensure this value has exactly %s characters.", fe.Param())
	case "numeric":
		return "Enter digits only."
	case "oneof":
		return "Select a valid choice."
	case "projectkey":
		return "Enter a Jira project key such as PROJ."
	case "gte":
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	default:
		return fmt.Sprintf("failed '%s'", fe.Tag())
	}
}
