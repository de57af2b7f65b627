package apierror

import (
	"errors"
	"fmt"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindTokenRejected, 401},
		{KindPermissionDenied, 403},
		{KindNotFound, 404},
		{KindValidationError, 400},
		{KindRateLimited, 429},
		{KindConflict, 409},
		{KindUpstreamUnavailable, 503},
		{KindServerError, 500},
		{Kind("unknown"), 500},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestAsPreservesKindThroughWrap(t *testing.T) {
	original := NotFound("conversation %s not found", "abc")
	wrapped := fmt.Errorf("loading conversation: %w", original)

	got, ok := As(wrapped)
	if !ok {
		t.Fatal("As() did not find wrapped *Error")
	}
	if got.Kind != KindNotFound {
		t.Errorf("Kind = %s, want %s", got.Kind, KindNotFound)
	}
}

func TestAsRejectsGenericError(t *testing.T) {
	if _, ok := As(errors.New("boom")); ok {
		t.Error("As() should not classify a generic error")
	}
}

func TestIsMatchesByKindOnly(t *testing.T) {
	a := TokenRejected("expired")
	b := TokenRejected("malformed")
	if !errors.Is(a, b) {
		t.Error("two TokenRejected errors with different messages should satisfy errors.Is by Kind")
	}
	if errors.Is(a, NotFound("x")) {
		t.Error("TokenRejected should not satisfy errors.Is against NotFound")
	}
}

func TestValidationErrorCarriesFields(t *testing.T) {
	err := ValidationError(map[string]string{"content": "too long"}, "invalid payload")
	if err.Kind != KindValidationError {
		t.Errorf("Kind = %s, want %s", err.Kind, KindValidationError)
	}
	if err.Fields["content"] != "too long" {
		t.Errorf("Fields[content] = %q, want %q", err.Fields["content"], "too long")
	}
}

func TestWrapKeepsCauseForUnwrap(t *testing.T) {
	cause := errors.New("driver timeout")
	err := ServerError(cause, "persisting message")
	if !errors.Is(err, cause) {
		t.Error("ServerError should unwrap to the original cause")
	}
}
