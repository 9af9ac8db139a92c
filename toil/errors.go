/*
errors.go - Error taxonomy for the TOIL engine

PURPOSE:
  Five error families, each distinguishable by errors.Is for transport mapping
  and retry decisions:

    ErrValidation     caller-fixable input or missing configuration
    ErrPermission     authorization failure (distinct from validation so
                      clients can render it differently)
    ErrConflict       state-machine guard violated (cancel with consumption,
                      duplicate submit)
    ErrNotFound       referenced record does not exist
    ErrInfrastructure transient lock/persistence failure; the only retryable
                      family

  Every structured error carries a stable code and a human-readable message.
  Approval guards fail with their own codes rather than one generic
  permission error so each failure is user-actionable.

USAGE:
  if toil.IsRetryable(err) { requeue() }

  var perm *toil.PermissionError
  if errors.As(err, &perm) { render(perm.Code) }
*/
package toil

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation     = errors.New("validation error")
	ErrPermission     = errors.New("permission denied")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrInfrastructure = errors.New("infrastructure error")
)

// Stable error codes. These are part of the API contract.
const (
	CodeSupervisorMissing         = "toil.supervisor_missing"
	CodeSupervisorIdentityMissing = "toil.supervisor_identity_missing"
	CodeSupervisorDisabled        = "toil.supervisor_disabled"
	CodeNotSupervisor             = "toil.not_supervisor"
	CodeInvalidTransition         = "toil.invalid_transition"
	CodeDuplicateSubmit           = "toil.duplicate_submit"
	CodeAllocationConsumed        = "toil.allocation_consumed"
	CodeInsufficientBalance       = "toil.insufficient_balance"
	CodeInvalidInput              = "toil.invalid_input"
	CodeNotFound                  = "toil.not_found"
	CodeStorageFailure            = "toil.storage_failure"
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func (e *ValidationError) Unwrap() error { return ErrValidation }

type PermissionError struct {
	Code     string
	Message  string
	CallerID string
}

func (e *PermissionError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func (e *PermissionError) Unwrap() error { return ErrPermission }

type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func (e *ConflictError) Unwrap() error { return ErrConflict }

type NotFoundError struct {
	Kind string // "timesheet", "employee", "allocation", ...
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InfrastructureError wraps a transient persistence or locking failure.
// The job queue retries these and only these.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *InfrastructureError) Unwrap() error { return ErrInfrastructure }

// Cause returns the underlying failure for logging.
func (e *InfrastructureError) Cause() error { return e.Err }

// InsufficientBalanceError reports a consumption attempt beyond the available
// balance, with the figures the caller needs to correct the request.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: requested %s days, %s available",
		CodeInsufficientBalance, e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrValidation }

// ConsumedAllocationError blocks cancellation of a timesheet whose allocation
// has already been drawn on. It names the consumed amount so the caller knows
// to cancel dependent leave applications first.
type ConsumedAllocationError struct {
	AllocationID AllocationID
	Consumed     decimal.Decimal
}

func (e *ConsumedAllocationError) Error() string {
	return fmt.Sprintf("%s: allocation %s has %s days consumed; cancel dependent leave applications first",
		CodeAllocationConsumed, e.AllocationID, e.Consumed)
}

func (e *ConsumedAllocationError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports whether the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}

// IsClientError reports whether the error is the caller's to fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPermission) ||
		errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrorCode extracts the stable code from any engine error.
func ErrorCode(err error) string {
	var (
		v  *ValidationError
		p  *PermissionError
		c  *ConflictError
		nf *NotFoundError
		ib *InsufficientBalanceError
		ca *ConsumedAllocationError
	)
	switch {
	case errors.As(err, &v):
		return v.Code
	case errors.As(err, &p):
		return p.Code
	case errors.As(err, &c):
		return c.Code
	case errors.As(err, &ib):
		return CodeInsufficientBalance
	case errors.As(err, &ca):
		return CodeAllocationConsumed
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.Is(err, ErrInfrastructure):
		return CodeStorageFailure
	}
	return ""
}
