/*
errors.go - Error taxonomy for the reconciliation core

PURPOSE:
  All error types in one place. The transport layer maps them to responses:
  rejected before any write (validation, eligibility), rejected for one
  shipment only (conflict), applied with warnings (partial sync), and fatal
  for the current operation (storage).

ERROR CATEGORIES:
  1. ValidationError  - document or entry breaks a rule, no writes made
  2. EligibilityError - a referenced shipment cannot be billed, no writes made
  3. ConflictError    - one shipment already billed elsewhere
  4. PartialSyncWarning - shipment write failed after the document persisted
  5. StorageError     - store unavailable, never retried here

USAGE:
    if errors.Is(err, finance.ErrValidation) {
        var ve *finance.ValidationError
        errors.As(err, &ve) // ve.Rule names the violated rule
    }

SEE ALSO:
  - api/handlers.go: HTTP status mapping
*/
package finance

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	// ErrIneligible is returned when a shipment on a new invoice is on hold,
	// has no run number, is missing, or belongs to another account.
	ErrIneligible = errors.New("shipment ineligible for billing")

	// ErrConflict is returned when a shipment is already billed by another
	// document, or a concurrent mutation holds the same document/batch.
	ErrConflict = errors.New("conflict")

	ErrNotFound = errors.New("not found")

	// ErrDuplicateDocument is returned when a document number already exists.
	ErrDuplicateDocument = errors.New("duplicate document number")

	// ErrStorage marks failures of the underlying store.
	ErrStorage = errors.New("storage unavailable")

	// ErrLockHeld is returned by a Locker when the key is held elsewhere.
	ErrLockHeld = errors.New("lock held")

	// ErrAlreadyBilled is returned by ShipmentStore.MarkBilled when the
	// optimistic isBilled == false check fails.
	ErrAlreadyBilled = errors.New("shipment already billed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the rule a document or entry violated.
type ValidationError struct {
	Rule    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Rule, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(rule, field, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Eligibility failure reasons.
const (
	ReasonNotFound        = "not_found"
	ReasonOnHold          = "on_hold"
	ReasonMissingRun      = "missing_run_number"
	ReasonAccountMismatch = "account_mismatch"
)

type IneligibleShipment struct {
	AWB    AWB
	Reason string
}

// EligibilityError lists every shipment that blocked the invoice.
type EligibilityError struct {
	Shipments []IneligibleShipment
}

func (e *EligibilityError) Error() string {
	parts := make([]string, len(e.Shipments))
	for i, s := range e.Shipments {
		parts[i] = fmt.Sprintf("%s (%s)", s.AWB, s.Reason)
	}
	return "shipments ineligible for billing: " + strings.Join(parts, ", ")
}

func (e *EligibilityError) Unwrap() error { return ErrIneligible }

// ConflictError reports a shipment that was already billed by HeldBy, or a
// document/batch key locked by a concurrent request (AWB empty).
type ConflictError struct {
	AWB    AWB
	HeldBy string
	Key    string
}

func (e *ConflictError) Error() string {
	if e.AWB != "" {
		return fmt.Sprintf("shipment %s already billed on %s", e.AWB, e.HeldBy)
	}
	return fmt.Sprintf("concurrent mutation in progress for %s", e.Key)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// PartialSyncWarning records a shipment write that failed after the owning
// document or batch was already persisted.
type PartialSyncWarning struct {
	AWB AWB
	Op  string
	Err error
}

func (w *PartialSyncWarning) Error() string {
	return fmt.Sprintf("%s %s: %v", w.Op, w.AWB, w.Err)
}

func (w *PartialSyncWarning) Unwrap() error { return w.Err }

// StorageError wraps a store failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// storageErr wraps err unless it already carries a domain meaning.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateDocument) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the request was rejected before any write.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrIneligible)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicateDocument)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
