package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrValidation wraps every struct-tag validation failure, so callers can
// errors.Is their way to "the document is shaped wrong" without parsing
// messages.
var ErrValidation = errors.New("config: validation failed")

// validate is shared so validator can cache struct metadata across reloads.
//
//nolint:gochecknoglobals // validator instances are designed to be singletons
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report field names as they appear in the config document, not as Go
	// identifiers.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ","); name != "" && name != "-" {
			return name
		}
		return field.Name
	})
	return v
}

// ValidateStruct checks target against its validate tags. All failing
// fields are reported together; a host operator fixing a config document
// should not have to iterate one error at a time.
func ValidateStruct(target any) error {
	err := validate.Struct(target)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	lines := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		line := fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			line += "=" + fe.Param()
		}
		lines = append(lines, line)
	}
	return fmt.Errorf("%w:\n%s", ErrValidation, strings.Join(lines, "\n"))
}
