package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/assetvault/server/internal/errors"
	"github.com/hrygo/assetvault/server/internal/observability"
)

// ErrorResponse is the JSON body of every failed API request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondError renders err as an ErrorResponse with the status its code maps to.
// Only the classified message is returned; causes stay in the server log.
func RespondError(c echo.Context, err error) error {
	code := apperrors.CodeOf(err)
	status := apperrors.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		if reqCtx, ok := observability.FromContext(c.Request().Context()); ok {
			reqCtx.Error("request failed", err, slog.String("path", c.Path()))
		} else {
			slog.Error("request failed",
				slog.String("path", c.Path()),
				slog.String(observability.LogFieldErrorCode, string(code)),
				slog.String("error", err.Error()))
		}
	}
	return c.JSON(status, ErrorResponse{Code: string(code), Message: apperrors.PublicMessage(err)})
}
