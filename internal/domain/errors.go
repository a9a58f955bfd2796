package domain

import (
	"errors"
	"fmt"
)

// Validation failures raised while defining or resolving a model. Every
// concrete failure is a *ModelError whose Kind is one of these sentinels, so
// callers can match with errors.Is.
var (
	ErrKeyNotFound                   = errors.New("key not found")
	ErrCyclicParameterDependency     = errors.New("cyclic parameter dependency")
	ErrUnknownParameter              = errors.New("unknown parameter")
	ErrInvalidComplementCount        = errors.New("invalid complement count")
	ErrRowSumMismatch                = errors.New("row sum mismatch")
	ErrInvalidProbability            = errors.New("invalid probability")
	ErrInvalidInitialPopulation      = errors.New("invalid initial population")
	ErrStateNotInMatrix              = errors.New("state not in matrix")
	ErrInvalidDistributionParameters = errors.New("invalid distribution parameters")
	ErrConservation                  = errors.New("population not conserved")
)

// ModelError describes a validation failure with enough context to locate it
// in a model definition.
type ModelError struct {
	Kind    error  // one of the Err* sentinels
	Subject string // parameter, state, row or table the failure refers to
	Reason  string
	Err     error // optional underlying cause
}

func (e *ModelError) Error() string {
	msg := e.Kind.Error()
	if e.Subject != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Subject)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *ModelError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// NewModelError creates a new ModelError.
func NewModelError(kind error, subject, reason string, err error) error {
	return &ModelError{
		Kind:    kind,
		Subject: subject,
		Reason:  reason,
		Err:     err,
	}
}
