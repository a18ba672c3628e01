package app

import (
	"errors"
	"fmt"
	"net/http"

	"pawconnect/channels/internal/store"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("storage failure")
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	kind    error
	cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() []error {
	var errs []error
	if e.kind != nil {
		errs = append(errs, e.kind)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// notFound covers both missing entities and entities the principal may not
// see. Callers cannot tell the two apart.
func notFound() error {
	err := domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	err.kind = ErrNotFound
	return err
}

func validationError(message string) error {
	err := domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
	err.kind = ErrValidation
	return err
}

func storageFailure(cause error) error {
	err := domainError(http.StatusBadGateway, "STORAGE_FAILURE", "Object storage unavailable", nil)
	err.kind = ErrStorage
	err.cause = cause
	return err
}

// lookupErr turns a store miss into notFound and wraps anything else.
func lookupErr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound()
	}
	return fmt.Errorf("%s: %w", what, err)
}
