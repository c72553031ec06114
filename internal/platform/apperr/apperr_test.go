package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestErrorsIs_MatchesKind(t *testing.T) {
	err := OverAllocation("amount %s exceeds balance", "10.00")
	if !errors.Is(err, ErrOverAllocation) {
		t.Error("expected errors.Is to match ErrOverAllocation")
	}
	if errors.Is(err, ErrInvalidAmount) {
		t.Error("did not expect match against ErrInvalidAmount")
	}
}

func TestErrorsIs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("allocate: %w", NotFound("invoice", "abc"))
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected wrapped NotFound to match")
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("expected KindNotFound, got %s", KindOf(err))
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(KindConflict, nil, "x") != nil {
		t.Error("expected nil when wrapping nil")
	}
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindDataInconsistency, cause, "enrollment %d", 3)
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	if !errors.Is(err, ErrDataInconsistency) {
		t.Error("expected kind match")
	}
}

func TestToHTTP(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{InvalidInput("bad qty"), http.StatusBadRequest},
		{InvalidAmount("amount must be positive"), http.StatusBadRequest},
		{NotFound("payment", 1), http.StatusNotFound},
		{OverAllocation("too much"), http.StatusConflict},
		{Conflict("version"), http.StatusConflict},
		{DataInconsistency("province"), http.StatusUnprocessableEntity},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		he, ok := ToHTTP(tt.err).(*echo.HTTPError)
		if !ok {
			t.Fatalf("expected *echo.HTTPError for %v", tt.err)
		}
		if he.Code != tt.code {
			t.Errorf("ToHTTP(%v) code = %d, want %d", tt.err, he.Code, tt.code)
		}
	}
	if ToHTTP(nil) != nil {
		t.Error("expected nil for nil error")
	}
}
