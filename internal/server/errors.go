package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const internalErrorMessage = "Internal Server Error"

// errorHandler renders every error as {"error": msg}. Anything that is not an
// *echo.HTTPError, and every 5xx, is reported without detail.
func errorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := internalErrorMessage
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
			if he.Internal != nil {
				err = he.Internal
			}
		}
		if code >= http.StatusInternalServerError {
			msg = internalErrorMessage
		}

		req := c.Request()
		ev := log.Warn()
		if code >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Err(err).
			Int("status", code).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("remote_ip", c.RealIP()).
			Msg("request failed")

		if c.Response().Committed {
			return
		}
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}
