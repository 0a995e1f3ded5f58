package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cause := errors.New("timeout")
	tests := []struct {
		err  error
		want int
	}{
		{Validation("bad leverage %d", 0), http.StatusBadRequest},
		{Auth("expired"), http.StatusUnauthorized},
		{NotFound("order %s", "x"), http.StatusNotFound},
		{Exchange(cause, "place order"), http.StatusBadRequest},
		{Conflict("cap reached"), http.StatusConflict},
		{fmt.Errorf("wrapped: %w", Auth("bad signature")), http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestIsKind(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("open: %w", Exchange(cause, "place order"))
	if !errors.Is(err, ErrExchange) {
		t.Fatal("expected exchange kind")
	}
	if errors.Is(err, ErrAuth) {
		t.Fatal("must not match other kinds")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause must stay reachable")
	}
}
