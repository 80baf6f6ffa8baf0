package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks struct tags on v and wraps failures as ErrInvalidInput.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := ValidationFields(ve)
	parts := make([]string, 0, len(fields))
	for f, tag := range fields {
		parts = append(parts, f+"="+tag)
	}
	sort.Strings(parts)
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(parts, ", "))
}

// ValidationFields maps each failing field to the tag it failed.
func ValidationFields(ve validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
