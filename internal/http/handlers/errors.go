// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants and the mapping from
// service error kinds to HTTP statuses. Codes give clients a stable,
// machine-readable taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Every error kind of the services package maps to exactly one status:
//     validation and guardrail 400, not found 404, idempotency conflict 409,
//     policy denied and evidence rejected 422, system 503 with Retry-After.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "idempotency_conflict",
//	  "message": "idempotency key already used for a different return"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-agent/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTooLarge         = "payload_too_large"

	// Domain-specific:
	ErrCodeValidation          = "validation_error"
	ErrCodePolicyDenied        = "policy_denied"
	ErrCodeIdempotencyConflict = "idempotency_conflict"
	ErrCodeEvidenceRejected    = "evidence_rejected"
	ErrCodeGuardrail           = "guardrail_triggered"
	ErrCodeUnavailable         = "service_unavailable"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "1"

// statusFor maps a service error to an HTTP status and code.
func statusFor(err error) (int, string) {
	switch services.Kind(err) {
	case services.ErrValidation:
		if errors.Is(err, services.ErrEvidenceTooLarge) {
			return http.StatusRequestEntityTooLarge, ErrCodeTooLarge
		}
		return http.StatusBadRequest, ErrCodeValidation
	case services.ErrGuardrailTriggered:
		return http.StatusBadRequest, ErrCodeGuardrail
	case services.ErrNotFound:
		return http.StatusNotFound, ErrCodeNotFound
	case services.ErrIdempotencyConflict:
		return http.StatusConflict, ErrCodeIdempotencyConflict
	case services.ErrPolicyDenied:
		return http.StatusUnprocessableEntity, ErrCodePolicyDenied
	case services.ErrEvidenceRejected:
		return http.StatusUnprocessableEntity, ErrCodeEvidenceRejected
	}
	if services.Retryable(err) {
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// failErr writes the envelope for a service error. System failures keep
// their cause in the log and send a generic message.
func failErr(c *gin.Context, err error) {
	status, code := statusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", retryAfterSeconds)
		failCause(c, status, code, "temporarily unavailable, retry later", err)
	case http.StatusInternalServerError:
		failCause(c, status, code, "internal error", err)
	default:
		fail(c, status, code, err.Error())
	}
}
