package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pethealth/pethealth/internal/platform/apperr"
)

// ErrorHandler renders every error as the JSON envelope the API uses:
// {"success": false, "error": "...", "kind": "..."}.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if !errors.As(err, &he) {
			he = apperr.HTTPError(err)
		}

		var body apperr.Body
		switch msg := he.Message.(type) {
		case apperr.Body:
			body = msg
		case string:
			body = apperr.Body{Error: msg, Kind: kindForStatus(he.Code)}
		default:
			body = apperr.Body{Error: fmt.Sprint(msg), Kind: kindForStatus(he.Code)}
		}
		body.Success = false

		if he.Code >= http.StatusInternalServerError && he.Internal != nil {
			logger.Error().Err(he.Internal).Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(he.Code)
		} else {
			writeErr = c.JSON(he.Code, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

func kindForStatus(code int) apperr.Kind {
	switch {
	case code == http.StatusNotFound:
		return apperr.KindNotFound
	case code == http.StatusConflict:
		return apperr.KindConflict
	case code >= 500:
		return apperr.KindInternal
	}
	return apperr.KindValidation
}
