package errors

import (
	"errors"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err:  New(KindInvalidRequest, "test message", errors.New("underlying error")),
			want: "invalid_request: test message: underlying error",
		},
		{
			name: "error without cause",
			err:  New(KindFatal, "test message", nil),
			want: "fatal: test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(KindFatal, "msg", cause)
	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, 404},
		{KindUnauthenticated, 401},
		{KindForbidden, 403},
		{KindInvalidRequest, 400},
		{KindConflict, 409},
		{KindRateLimited, 429},
		{KindPeerUnavailable, 502},
		{KindPeerGone, 410},
		{KindStateMachineViolation, 409},
		{KindFatal, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "x", nil)
			if got := Code(err); got != tt.want {
				t.Errorf("Code() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := Code(errors.New("plain")); got != 500 {
		t.Errorf("Code(plain error) = %v, want 500", got)
	}
}

func TestErrorIsKindOnly(t *testing.T) {
	err := NewNotFoundError("actor missing", nil)
	if !errors.Is(err, NotFound) {
		t.Errorf("expected errors.Is to match sentinel NotFound")
	}
	if errors.Is(err, Forbidden) {
		t.Errorf("did not expect errors.Is to match sentinel Forbidden")
	}
}

func TestAs(t *testing.T) {
	wrapped := &wrapError{inner: NewConflictError("cas failed", nil)}
	var e *Error
	if !As(wrapped, &e) {
		t.Fatalf("expected As to unwrap to *Error")
	}
	if e.Kind != KindConflict {
		t.Errorf("Kind = %v, want %v", e.Kind, KindConflict)
	}
}

type wrapError struct{ inner error }

func (w *wrapError) Error() string { return w.inner.Error() }
func (w *wrapError) Unwrap() error { return w.inner }
