package httpapi

import (
	"net/http"

	"hujra/internal/blob"
	"hujra/internal/core"
	"hujra/pkg/domain"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var errConfirmRequired = echo.NewHTTPError(http.StatusPreconditionRequired,
	"import replaces every record; repeat with confirm=true")

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string             `json:"error"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var httpErr *echo.HTTPError
	var ruleErr domain.RuleViolationError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, blob.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidBackupFormat), errors.Is(err, domain.ErrMalformedValue):
		return http.StatusBadRequest
	case errors.As(err, &ruleErr):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrArchiveUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func newErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := statusFor(err)
		body := errorBody{Error: err.Error()}

		var httpErr *echo.HTTPError
		var ruleErr domain.RuleViolationError
		switch {
		case errors.As(err, &httpErr):
			if msg, ok := httpErr.Message.(string); ok {
				body.Error = msg
			} else {
				body.Error = http.StatusText(code)
			}
		case errors.As(err, &ruleErr):
			body.Violations = ruleErr.Result.Violations
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("path", c.Request().URL.Path),
				zap.String("method", c.Request().Method),
				zap.Error(err))
			if code == http.StatusInternalServerError {
				body.Error = http.StatusText(code)
			}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, body)
		}
		if werr != nil {
			logger.Warn("write error response", zap.Error(werr))
		}
	}
}
