package apperr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrIdentityMissing = errors.New("no user identity resolvable")
	ErrStepNotFound    = errors.New("wizard step not found")
	ErrStepIncomplete  = errors.New("answer at least one question on this step before continuing")
	ErrNoQuestions     = errors.New("no questions loaded for this step")
)

// FieldError is used to indicate an error with a specific field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is raised for malformed wire values or missing required
// data before a submission. It is never sent to the backend.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

func (err *ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) == 0 {
			return "validation failed"
		}
		msgs := make([]string, 0, len(err.Fields))
		for _, f := range err.Fields {
			msgs = append(msgs, f.Field+": "+f.Error)
		}
		return strings.Join(msgs, "; ")
	}
	return err.Err.Error()
}

func (err *ValidationError) Unwrap() error { return err.Err }

// TransportError wraps a fetch rejection or a non-2xx backend status.
type TransportError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (err *TransportError) Error() string {
	switch {
	case err.Err != nil:
		return fmt.Sprintf("%s: %v", err.Op, err.Err)
	case err.Body != "":
		return fmt.Sprintf("%s: backend returned %d: %s", err.Op, err.Status, err.Body)
	default:
		return fmt.Sprintf("%s: backend returned %d", err.Op, err.Status)
	}
}

func (err *TransportError) Unwrap() error { return err.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
