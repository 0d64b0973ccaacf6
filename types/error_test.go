package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrToolTimeout, "call exceeded deadline").
		WithCause(root).
		WithStage("collect").
		WithRetryable(true)

	if GetErrorCode(err) != ErrToolTimeout {
		t.Fatalf("expected code %s, got %s", ErrToolTimeout, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if err.Stage != "collect" {
		t.Fatalf("expected stage attribution, got %q", err.Stage)
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_Fatality(t *testing.T) {
	t.Parallel()

	if !IsFatal(NewError(ErrUnknownSubgraph, "no such subgraph")) {
		t.Fatalf("unknown subgraph must be fatal")
	}
	if !IsFatal(NewError(ErrGraphCompilation, "bad graph")) {
		t.Fatalf("compilation errors must be fatal")
	}
	if IsFatal(NewError(ErrStageFailure, "stage blew up")) {
		t.Fatalf("stage failures must not abort the run")
	}
	if IsFatal(errors.New("plain")) {
		t.Fatalf("plain errors are not fatal")
	}
}

func TestNewErrorf(t *testing.T) {
	t.Parallel()

	err := NewErrorf(ErrToolSessionMissing, "no session for server %q", "jira")
	if err.Message != `no session for server "jira"` {
		t.Fatalf("unexpected message %q", err.Message)
	}
}
