package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rxledger/rxledger/internal/platform/apperr"
)

// Recovery turns a handler panic into an error response. A panic whose value
// is a classified engine error keeps that error's status; anything else is a
// bare 500.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)

				rid, _ := c.Get("request_id").(string)
				tenant, _ := c.Get("tenant_id").(string)
				panicErr, isErr := r.(error)
				kind := apperr.KindUnknown
				if isErr {
					kind = apperr.KindOf(panicErr)
				}

				logger.Error().
					Str("request_id", rid).
					Str("tenant_id", tenant).
					Str("method", c.Request().Method).
					Str("path", c.Path()).
					Str("kind", kind.String()).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(stack[:n])).
					Msg("panic recovered")

				if kind != apperr.KindUnknown {
					err = apperr.ToHTTP(panicErr)
					return
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
