/*
errors.go - Centralized error taxonomy for the obligation engine

PURPOSE:
  All error types in one place. Every validation failure is raised at the
  call that violates it, before anything is written.

ERROR CATEGORIES:
  1. Not found    - unknown account, obligation or transaction
  2. Validation   - amounts, dates, installment counts, statuses
  3. Conflict     - references still in use, duplicate idempotency keys

USAGE:
  if errors.Is(err, generic.ErrObligationInUse) {
      var inUse *generic.InUseError
      errors.As(err, &inUse) // inUse.References lists blocking transactions
  }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrUnknownAccount     = errors.New("unknown account")
	ErrUnknownObligation  = errors.New("unknown obligation")
	ErrUnknownTransaction = errors.New("unknown transaction")

	ErrInvalidDateRange              = errors.New("invalid date range: start after end")
	ErrInvalidAmount                 = errors.New("invalid amount: must be positive")
	ErrInvalidInstallmentCount       = errors.New("invalid installment count")
	ErrInstallmentCountBelowProgress = errors.New("installment count below completed installments")
	ErrInstallmentCountExceeded      = errors.New("completed installments exceed installment count")
	ErrInvalidDate                   = errors.New("invalid date")
	ErrInvalidFrequency              = errors.New("invalid frequency")
	ErrInvalidStatus                 = errors.New("invalid status transition")
	ErrInvalidRetargetMode           = errors.New("invalid retarget mode")
	ErrRequiredField                 = errors.New("required field missing")
	ErrInvalidField                  = errors.New("invalid field value")

	// ErrConflictingLinks is returned when a transaction would reference both
	// an EMI and a recurring template.
	ErrConflictingLinks = errors.New("transaction links to both an EMI and a recurring template")

	ErrObligationInUse = errors.New("obligation still referenced by transactions")
	ErrAccountInUse    = errors.New("account still referenced")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Generation treats it as "already done".
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError names the input field that failed validation.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %v", e.Field, e.Err) }
func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

// InUseError lists what still references an obligation or account.
type InUseError struct {
	ID         string
	References []string
	Err        error // ErrObligationInUse or ErrAccountInUse
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("%v: %s (referenced by %s)", e.Err, e.ID, strings.Join(e.References, ", "))
}

func (e *InUseError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownAccount) ||
		errors.Is(err, ErrUnknownObligation) ||
		errors.Is(err, ErrUnknownTransaction)
}

// IsConflict returns true if the request clashes with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrObligationInUse) ||
		errors.Is(err, ErrAccountInUse) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInstallmentCount) ||
		errors.Is(err, ErrInstallmentCountBelowProgress) ||
		errors.Is(err, ErrInstallmentCountExceeded) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidFrequency) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidRetargetMode) ||
		errors.Is(err, ErrRequiredField) ||
		errors.Is(err, ErrInvalidField) ||
		errors.Is(err, ErrConflictingLinks)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnknownAccount, "unknown_account"},
	{ErrUnknownObligation, "unknown_obligation"},
	{ErrUnknownTransaction, "unknown_transaction"},
	{ErrInvalidDateRange, "invalid_date_range"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidInstallmentCount, "invalid_installment_count"},
	{ErrInstallmentCountBelowProgress, "installment_count_below_progress"},
	{ErrInstallmentCountExceeded, "installment_count_exceeded"},
	{ErrInvalidDate, "invalid_date"},
	{ErrInvalidFrequency, "invalid_frequency"},
	{ErrInvalidStatus, "invalid_status"},
	{ErrInvalidRetargetMode, "invalid_retarget_mode"},
	{ErrRequiredField, "required_field"},
	{ErrInvalidField, "invalid_field"},
	{ErrConflictingLinks, "conflicting_links"},
	{ErrObligationInUse, "obligation_in_use"},
	{ErrAccountInUse, "account_in_use"},
	{ErrDuplicateIdempotencyKey, "duplicate_idempotency_key"},
}

// Code returns a stable machine-readable code for a taxonomy error, or
// "internal" for anything else.
func Code(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
