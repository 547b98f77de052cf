package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatWriteBack,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatWriteBack, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := &DomainError{Category: ErrCatWorker, Code: "X", Message: "msg"}
	err.WithDetail("k", "v")
	if err.Details == nil || err.Details["k"] != "v" {
		t.Fatalf("expected details to be set")
	}
}

func TestErrorFactories_Retryable(t *testing.T) {
	tests := []struct {
		name      string
		err       *DomainError
		retryable bool
	}{
		{"claim denied", ErrClaimDenied(Cell(4, 3), "other"), false},
		{"worker failure", ErrWorkerFailure(WorkerClaude, "boom"), true},
		{"empty result", ErrEmptyResult(Cell(4, 3)), true},
		{"write back", ErrWriteBack(Cell(4, 3), errors.New("io")), true},
		{"structural", ErrStructural(CodeMissingMenuRow, "no menu"), false},
		{"retry ceiling", ErrRetryCeilingExceeded("grp-B", 10), false},
		{"validation", ErrValidation("C", "m"), false},
		{"timeout", ErrTimeout("m"), true},
		{"rate limit", ErrRateLimit("m"), true},
		{"store", ErrStore("get", errors.New("io")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestIsStructural_Wrapped(t *testing.T) {
	err := fmt.Errorf("analyzing: %w", ErrStructural(CodeMissingAIRow, "no ai row"))
	if !IsStructural(err) {
		t.Fatal("wrapped structural error should be detected")
	}
	if IsStructural(ErrEmptyResult(Cell(1, 1))) {
		t.Fatal("empty result is not structural")
	}
	if IsStructural(nil) {
		t.Fatal("nil is not structural")
	}
	if GetCategory(errors.New("plain")) != ErrCatInternal {
		t.Fatal("plain errors should be internal")
	}
}
