// Package services defines the business logic of the support agent: the
// audited tool layer, the chat driver and session locking.
// This file centralizes the service-level error taxonomy so that handlers can
// map every failure to a stable HTTP status and error code.
//
// Each specific error wraps exactly one kind sentinel. Callers dispatch on the
// kind with errors.Is; translation into user-facing messages or HTTP status
// codes is performed at the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Error kinds. Only ErrSystem is transient; every other kind is a
// deterministic outcome of the input and must not be retried unchanged.
var (
	// ErrValidation reports a malformed payload or slot value.
	ErrValidation = errors.New("validation error")

	// ErrNotFound reports an unknown order, case, session or record.
	ErrNotFound = errors.New("not found")

	// ErrPolicyDenied reports that the policy engine excludes the requested
	// action. It is a decision, not a fault.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrIdempotencyConflict reports a reused idempotency key with a
	// different payload. Nothing was written.
	ErrIdempotencyConflict = errors.New("idempotency conflict")

	// ErrEvidenceRejected reports evidence that cannot be used for a case.
	ErrEvidenceRejected = errors.New("evidence rejected")

	// ErrGuardrailTriggered reports input refused by the guardrail filter.
	ErrGuardrailTriggered = errors.New("guardrail triggered")

	// ErrSystem reports storage or dependency unavailability. Callers may
	// retry with the same idempotency key.
	ErrSystem = errors.New("system error")
)

// kindError ties a specific error to its kind.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKind(kind error, msg string) error { return &kindError{kind: kind, msg: msg} }

// Specific errors.
var (
	ErrOrderNotFound    = newKind(ErrNotFound, "order not found")
	ErrItemNotFound     = newKind(ErrNotFound, "item not found in order")
	ErrSessionNotFound  = newKind(ErrNotFound, "session not found")
	ErrCaseNotFound     = newKind(ErrNotFound, "case not found")
	ErrRMANotFound      = newKind(ErrNotFound, "rma not found")
	ErrEvidenceNotFound = newKind(ErrNotFound, "evidence not found")

	ErrEmptyIdentifier     = newKind(ErrValidation, "identifier is required")
	ErrInvalidMethod       = newKind(ErrValidation, "method must be refund, return, replacement or cancel")
	ErrMissingKey          = newKind(ErrValidation, "idempotency key is required")
	ErrInvalidReason       = newKind(ErrValidation, "unknown reason")
	ErrInvalidItems        = newKind(ErrValidation, "exactly one item must be selected")
	ErrEmptyMessage        = newKind(ErrValidation, "message has no text or control values")
	ErrTooLong             = newKind(ErrValidation, "message too long")
	ErrLabelForCancel      = newKind(ErrValidation, "cancellations have no shipping label")
	ErrInvalidAmount       = newKind(ErrValidation, "amount must be positive")
	ErrTestOrdersDisabled  = newKind(ErrValidation, "test orders are disabled")
	ErrEvidenceEmpty       = newKind(ErrValidation, "evidence file is empty")
	ErrEvidenceTooLarge    = newKind(ErrValidation, "evidence file exceeds the upload limit")
	ErrInvalidEvidenceKind = newKind(ErrValidation, "evidence file name is invalid")
	ErrSessionClosed       = newKind(ErrValidation, "session is closed")

	ErrOrderNotEligible = newKind(ErrPolicyDenied, "order status does not allow this method")

	ErrReturnConflict           = newKind(ErrIdempotencyConflict, "idempotency key already used for a different return")
	ErrEscalationConflict       = newKind(ErrIdempotencyConflict, "idempotency key already used for a different escalation")
	ErrDuplicateOrder           = newKind(ErrIdempotencyConflict, "order already exists")
	ErrEvidenceAlreadyValidated = newKind(ErrIdempotencyConflict, "evidence already validated for this order item; upload new evidence")

	ErrEvidenceWrongCase = newKind(ErrEvidenceRejected, "evidence belongs to another case")

	ErrSessionBusy = newKind(ErrSystem, "session is busy")
)

// Retryable reports whether err is transient. Only system errors are.
func Retryable(err error) bool { return errors.Is(err, ErrSystem) }

// systemErr wraps a storage or dependency failure as ErrSystem while keeping
// the cause inspectable.
func systemErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isKind(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrSystem, err))
}

func isKind(err error) bool {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrPolicyDenied, ErrIdempotencyConflict, ErrEvidenceRejected, ErrGuardrailTriggered, ErrSystem} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// Kind returns the kind sentinel of err, or ErrSystem for unclassified
// errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrPolicyDenied, ErrIdempotencyConflict, ErrEvidenceRejected, ErrGuardrailTriggered} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrSystem
}
