// Package validator adapts go-playground/validator to echo's request
// validation hook.
package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator implements echo.Validator on top of go-playground/validator.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator whose reported field names follow the wire names
// from query and json struct tags, so a validation error points at the
// parameter the caller actually sent.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("query"); name != "" && name != "-" {
			return name
		}
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: v}
}

// Validate checks the struct's validate tags and returns the raw
// validator.ValidationErrors for callers that need per-field details.
func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
