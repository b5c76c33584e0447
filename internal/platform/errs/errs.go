// Package errs defines the error-kind taxonomy shared by every component:
// validation, transient infrastructure, data contract, resource exhaustion,
// lease/concurrency, and cancellation. Callers classify with the Is* helpers
// and match with errors.Is against the sentinels below.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a looked-up entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks a validation error: bad input at the boundary.
	// Never retried; reported to the caller with an actionable message.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict marks a concurrent-modification or uniqueness conflict.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable marks a transient infrastructure error (DB down, bus
	// disconnected, vector index 5xx, filesystem EIO) surfaced to the
	// caller only once the retry budget is exhausted.
	ErrUnavailable = errors.New("unavailable")

	// ErrDataContract marks a data contract violation: a metric row with
	// a non-finite value, a rule envelope outside its declared invariants,
	// a manifest referencing a missing directory. Logged and dropped; the
	// pipeline advances.
	ErrDataContract = errors.New("data contract violation")

	// ErrResourceExhausted marks backpressure: spool full under retention,
	// job queue at its per-user cap, DB pool timeout.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrLeaseExpired marks an analysis lease that expired before the
	// executor finished, or a manifest file-lock timeout.
	ErrLeaseExpired = errors.New("lease expired")

	// ErrCanceled marks cooperative cancellation. Always terminal; never
	// surfaced to the caller as a failure, but produces a canceled
	// terminal state for the affected resource.
	ErrCanceled = errors.New("canceled")
)

// NotFoundError wraps ErrNotFound with the entity and key that were missing.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
	}
	return fmt.Sprintf("%s not found", e.Entity)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// ValidationError wraps ErrInvalidInput with the field that failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidation builds a ValidationError.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ResourceExhaustedError wraps ErrResourceExhausted, citing the limit hit.
type ResourceExhaustedError struct {
	Resource string
	Limit    int64
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("%s exhausted (limit=%d)", e.Resource, e.Limit)
}

func (e *ResourceExhaustedError) Unwrap() error { return ErrResourceExhausted }

// NewResourceExhausted builds a ResourceExhaustedError.
func NewResourceExhausted(resource string, limit int64) error {
	return &ResourceExhaustedError{Resource: resource, Limit: limit}
}

// DataContractError wraps ErrDataContract with a structured report of what
// the pipeline rejected so callers can log it and move on.
type DataContractError struct {
	Subject string
	Reason  string
}

func (e *DataContractError) Error() string {
	return fmt.Sprintf("data contract violation on %s: %s", e.Subject, e.Reason)
}

func (e *DataContractError) Unwrap() error { return ErrDataContract }

// NewDataContract builds a DataContractError.
func NewDataContract(subject, reason string) error {
	return &DataContractError{Subject: subject, Reason: reason}
}

func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool      { return errors.Is(err, ErrInvalidInput) }
func IsConflict(err error) bool          { return errors.Is(err, ErrConflict) }
func IsUnavailable(err error) bool       { return errors.Is(err, ErrUnavailable) }
func IsDataContract(err error) bool      { return errors.Is(err, ErrDataContract) }
func IsResourceExhausted(err error) bool { return errors.Is(err, ErrResourceExhausted) }
func IsLeaseExpired(err error) bool      { return errors.Is(err, ErrLeaseExpired) }
func IsCanceled(err error) bool          { return errors.Is(err, ErrCanceled) }
