package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch ragerr.Kind(err) {
	case ragerr.KindInvalidParameter:
		return http.StatusBadRequest
	case ragerr.KindStoreNotFound:
		return http.StatusNotFound
	case ragerr.KindNameCollision:
		return http.StatusConflict
	case ragerr.KindDimensionMismatch:
		return http.StatusUnprocessableEntity
	case ragerr.KindEmbeddingService:
		return http.StatusBadGateway
	case ragerr.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every error as ErrorResponse. Echo's own errors
// (404 routes, bad bodies) keep their status.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	body := ErrorResponse{Error: err.Error(), Kind: ragerr.Kind(err)}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		body.Kind = ragerr.KindInvalidParameter
		if msg, ok := he.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = http.StatusText(he.Code)
		}
		if status == http.StatusNotFound {
			body.Kind = "route_not_found"
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
