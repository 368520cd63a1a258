package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pethealth/pethealth/internal/platform/auth"
)

const panicStackSize = 4096

// Recovery turns a handler panic into a 500 and logs the request and caller.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				stack := make([]byte, panicStackSize)
				stack = stack[:runtime.Stack(stack, false)]

				rid, _ := c.Get("request_id").(string)
				ev := logger.Error().
					Str("request_id", rid).
					Str("user_id", auth.UserIDFromContext(requestContext(c))).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Bytes("stack", stack)
				if perr, ok := r.(error); ok {
					ev = ev.Err(perr)
				} else {
					ev = ev.Str("panic", fmt.Sprint(r))
				}
				ev.Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}

func requestContext(c echo.Context) context.Context {
	if req := c.Request(); req != nil {
		return req.Context()
	}
	return context.Background()
}
