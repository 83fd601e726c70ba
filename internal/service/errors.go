package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/policy"
)

var (
	// ErrNotFound means the entity does not exist or is soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the access policy denied the operation.
	ErrForbidden = errors.New("forbidden")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string
	Rule    string
	Value   any
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects field failures for one request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return e.Fields[0].Error()
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Fields), strings.Join(msgs, "; "))
}

// Add records a failure on field.
func (e *ValidationError) Add(field, rule string, value any, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Rule: rule, Value: value, Message: message})
}

// HasErrors returns true if there are validation errors
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// Err returns e as an error, or nil when nothing was recorded.
func (e *ValidationError) Err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

func invalid(field, rule string, value any, message string) error {
	v := &ValidationError{}
	v.Add(field, rule, value, message)
	return v
}

// denied converts a policy decision into an error wrapping ErrForbidden.
func denied(d policy.Decision) error {
	if d.Reason == "" {
		return ErrForbidden
	}
	return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
}

// storeErr maps db.ErrNotFound onto ErrNotFound and wraps everything else.
func storeErr(op string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound) || errors.Is(err, ErrNotFound)
}
