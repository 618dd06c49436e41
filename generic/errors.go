/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Input errors - bad contract parameters, bad periods, bad rates
  2. Lookup errors - referenced client/contract/payment missing
  3. Store errors - optimistic locking conflicts

"NOTHING TO DO" IS NOT AN ERROR:
  A second accrual run on the same day and an empty report are successful
  results. They are reported through result values (arrears.Result.Skipped,
  a zero-valued report.Report), never through this file.

USAGE:
    if errors.Is(err, generic.ErrNotFound) {
        // 404
    }

SEE ALSO:
  - billing/schedule.go: ErrInvalidContractParameters
  - report/report.go: ErrInvalidPeriod
  - store/sqlite/sqlite.go: ErrConcurrentModification
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidContractParameters is returned when a contract cannot be
	// expanded into a schedule (duration < 1, non-finite or non-positive value).
	ErrInvalidContractParameters = errors.New("invalid contract parameters")

	// ErrInvalidPeriod is returned when a period is malformed (start after end).
	ErrInvalidPeriod = errors.New("invalid period: start after end")

	// ErrInvalidRate is returned when a client penalty or interest rate is
	// outside [0, 1].
	ErrInvalidRate = errors.New("invalid rate: must be a fraction between 0 and 1")

	// ErrValidation is the umbrella for field-level input errors.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is the umbrella for missing referenced records.
	ErrNotFound = errors.New("not found")

	// ErrClientNotFound is returned when a referenced client doesn't exist.
	ErrClientNotFound = fmt.Errorf("client %w", ErrNotFound)

	// ErrContractNotFound is returned when a referenced contract doesn't exist.
	ErrContractNotFound = fmt.Errorf("contract %w", ErrNotFound)

	// ErrPaymentNotFound is returned when a referenced payment doesn't exist.
	ErrPaymentNotFound = fmt.Errorf("payment %w", ErrNotFound)

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ContractParametersError explains why a schedule could not be generated.
type ContractParametersError struct {
	Reason string
}

func (e *ContractParametersError) Error() string {
	return fmt.Sprintf("invalid contract parameters: %s", e.Reason)
}

func (e *ContractParametersError) Unwrap() error {
	return ErrInvalidContractParameters
}

// VersionConflictError reports the stale version a writer held.
type VersionConflictError struct {
	PaymentID string
	Expected  int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("payment %s was modified concurrently (expected version %d)", e.PaymentID, e.Expected)
}

func (e *VersionConflictError) Unwrap() error {
	return ErrConcurrentModification
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidContractParameters) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
