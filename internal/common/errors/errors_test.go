package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(KindSessionNotFound, "no such session")
	if got := err.Error(); got != "SESSION_NOT_FOUND: no such session" {
		t.Errorf("unexpected message: %q", got)
	}

	wrapped := Wrap(KindProcessDied, "debugger exited", fmt.Errorf("exit status 1"))
	if got := wrapped.Error(); got != "PROCESS_DIED: debugger exited: exit status 1" {
		t.Errorf("unexpected wrapped message: %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("broken pipe")
	err := Wrap(KindInternal, "write failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if New(KindInternal, "no cause").Unwrap() != nil {
		t.Error("expected nil unwrap without a cause")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", InvalidArgument("bad"), KindInvalidArgument},
		{"constructor", SessionNotFound("sess-000001-abcd1234"), KindSessionNotFound},
		{"wrapped in fmt", fmt.Errorf("context: %w", Cancelled("stopped")), KindCancelled},
		{"foreign", fmt.Errorf("plain"), KindInternal},
		{"nil cause wrap", CapacityExceeded(10), KindCapacityExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := CommandTimeout("deadline exceeded")
	if !Is(err, KindCommandTimeout) {
		t.Error("expected kind match")
	}
	if Is(err, KindCancelled) {
		t.Error("expected kind mismatch")
	}
	if Is(fmt.Errorf("plain"), KindCommandTimeout) {
		t.Error("foreign errors must not match specific kinds")
	}
	if !Is(fmt.Errorf("plain"), KindInternal) {
		t.Error("foreign errors classify as internal")
	}
}

func TestJSONRPCCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{InvalidArgument("missing dumpPath"), CodeInvalidParams},
		{SessionNotFound("sess-000001-abcd1234"), CodeInternalError},
		{CommandTimeout("too slow"), CodeInternalError},
		{fmt.Errorf("plain"), CodeInternalError},
	}
	for _, tt := range tests {
		if got := JSONRPCCode(tt.err); got != tt.want {
			t.Errorf("JSONRPCCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
