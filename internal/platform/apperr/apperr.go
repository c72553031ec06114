// Package apperr defines the error kinds surfaced by the billing engine and
// their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies an engine error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNoEligiblePlan
	KindDataInconsistency
	KindOverAllocation
	KindInvalidAmount
	KindMissingField
	KindNotFound
	KindConflict
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindInvalidInput:      "invalid_input",
	KindNoEligiblePlan:    "no_eligible_plan",
	KindDataInconsistency: "data_inconsistency",
	KindOverAllocation:    "over_allocation",
	KindInvalidAmount:     "invalid_amount",
	KindMissingField:      "missing_field",
	KindNotFound:          "not_found",
	KindConflict:          "conflict",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Error is an engine error with a kind and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrNoEligiblePlan    = &Error{Kind: KindNoEligiblePlan}
	ErrDataInconsistency = &Error{Kind: KindDataInconsistency}
	ErrOverAllocation    = &Error{Kind: KindOverAllocation}
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount}
	ErrMissingField      = &Error{Kind: KindMissingField}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
)

func newf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...interface{}) error {
	return newf(KindInvalidInput, format, args...)
}

func NoEligiblePlan(format string, args ...interface{}) error {
	return newf(KindNoEligiblePlan, format, args...)
}

func DataInconsistency(format string, args ...interface{}) error {
	return newf(KindDataInconsistency, format, args...)
}

func OverAllocation(format string, args ...interface{}) error {
	return newf(KindOverAllocation, format, args...)
}

func InvalidAmount(format string, args ...interface{}) error {
	return newf(KindInvalidAmount, format, args...)
}

func MissingField(format string, args ...interface{}) error {
	return newf(KindMissingField, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newf(KindConflict, format, args...)
}

// NotFound reports a missing record of the given resource type.
func NotFound(resource string, id interface{}) error {
	return newf(KindNotFound, "%s %v not found", resource, id)
}

// Wrap attaches a kind to an underlying error.
func Wrap(k Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps a kind to a response status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidInput, KindInvalidAmount, KindMissingField:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindOverAllocation, KindConflict:
		return http.StatusConflict
	case KindDataInconsistency, KindNoEligiblePlan:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into an echo HTTP error. Unclassified errors become a
// generic 500 so internals do not leak to clients.
func ToHTTP(err error) error {
	if err == nil {
		return nil
	}
	k := KindOf(err)
	if k == KindUnknown {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return echo.NewHTTPError(HTTPStatus(k), map[string]string{
		"kind":    k.String(),
		"message": err.Error(),
	})
}
