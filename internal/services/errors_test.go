package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tbourn/go-support-agent/internal/repo"
)

func TestKindAndRetryable(t *testing.T) {
	cases := []struct {
		err       error
		kind      error
		retryable bool
		label     string
	}{
		{ErrOrderNotFound, ErrNotFound, false, "not_found"},
		{ErrInvalidMethod, ErrValidation, false, "validation"},
		{ErrOrderNotEligible, ErrPolicyDenied, false, "policy_denied"},
		{ErrReturnConflict, ErrIdempotencyConflict, false, "conflict"},
		{ErrEvidenceWrongCase, ErrEvidenceRejected, false, "evidence_rejected"},
		{fmt.Errorf("%w: timeout", ErrSessionBusy), ErrSystem, true, "busy"},
		{systemErr("get order", errors.New("disk full")), ErrSystem, true, "system"},
		{errors.New("unclassified"), ErrSystem, false, "system"},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.kind {
			t.Fatalf("Kind(%v) = %v; want %v", tc.err, got, tc.kind)
		}
		if got := Retryable(tc.err); got != tc.retryable {
			t.Fatalf("Retryable(%v) = %v; want %v", tc.err, got, tc.retryable)
		}
		if got := outcomeLabel(tc.err); got != tc.label {
			t.Fatalf("outcomeLabel(%v) = %q; want %q", tc.err, got, tc.label)
		}
	}
	if outcomeLabel(nil) != "ok" {
		t.Fatalf("nil error should be ok")
	}
}

func TestSystemErr_KeepsClassifiedAndCause(t *testing.T) {
	if got := systemErr("op", ErrItemNotFound); got != ErrItemNotFound {
		t.Fatalf("classified errors must pass through, got %v", got)
	}
	err := systemErr("get session", repo.ErrTerminalSession)
	if !errors.Is(err, ErrSystem) || !errors.Is(err, repo.ErrTerminalSession) {
		t.Fatalf("cause lost: %v", err)
	}
	if systemErr("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestNotFoundOr(t *testing.T) {
	if got := notFoundOr(repo.ErrNotFound, ErrCaseNotFound, "op"); got != ErrCaseNotFound {
		t.Fatalf("got %v; want ErrCaseNotFound", got)
	}
	if got := notFoundOr(errors.New("boom"), ErrCaseNotFound, "op"); !errors.Is(got, ErrSystem) {
		t.Fatalf("got %v; want ErrSystem", got)
	}
}
