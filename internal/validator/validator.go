// Package validator checks request structs against their `validate` tags
// with go-playground/validator and reports failures by JSON field name.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator wraps the shared go-playground instance.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator. All Validators share one underlying instance so
// struct metadata is parsed once.
func New() *Validator {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		instance.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return &Validator{v: instance}
}

func (v *Validator) Validate(s any) error {
	return v.v.Struct(s)
}

func (v *Validator) ValidateVar(field any, tag string) error {
	return v.v.Var(field, tag)
}

// ValidationErrors maps each failing field to a readable message. Errors that
// did not come from validation land under "_error".
func (v *Validator) ValidationErrors(err error) map[string]string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_error": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = message(fe)
	}
	return out
}

// Check validates s and returns an INVALID_ARGUMENT apperr listing every
// failing field in name order.
func (v *Validator) Check(s any) error {
	err := v.Validate(s)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return apperr.Internal(err)
	}
	fields := v.ValidationErrors(err)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+fields[name])
	}
	return apperr.Invalid("%s", strings.Join(parts, "; "))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "iso3166_1_alpha2":
		return "must be a two-letter ISO country code"
	case "oneof":
		return "must be one of " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("may have at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return "failed " + fe.Tag() + " validation"
}

// ---------------------------------------------------------------------------
// Package-level helpers
// ---------------------------------------------------------------------------

func Validate(s any) error { return New().Validate(s) }

func ValidateVar(field any, tag string) error { return New().ValidateVar(field, tag) }

func GetValidationErrors(err error) map[string]string { return New().ValidationErrors(err) }

func Check(s any) error { return New().Check(s) }
