// Package validator wraps go-playground/validator with one-time
// initialization and a stable error shape, so typed constructors across
// the recovery core can enforce their invariants declaratively via
// `validate` struct tags.
package validator

import (
	"errors"
	"fmt"
	"sync"

	gvalidator "github.com/go-playground/validator/v10"
)

// ErrValidation is the sentinel heading every validation failure chain.
// Callers detect invalid input with errors.Is(err, ErrValidation).
var ErrValidation = errors.New("validation error")

var (
	validate *gvalidator.Validate
	initOnce sync.Once
)

// Init prepares the shared validator instance. Safe to call more than
// once; only the first call takes effect.
func Init() {
	initOnce.Do(func() {
		validate = gvalidator.New(gvalidator.WithRequiredStructEnabled())
	})
}

// Validate checks the struct's `validate` tags and returns a joined
// error chain headed by ErrValidation describing every violated field,
// or nil when the value is valid.
func Validate(v any) error {
	Init()

	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrors gvalidator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	errs := []error{ErrValidation}
	for _, fe := range fieldErrors {
		errs = append(errs, fmt.Errorf("field '%s' with value '%v' violates the '%s' rule", fe.Field(), fe.Value(), fe.Tag()))
	}
	return errors.Join(errs...)
}
