package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/domain"
	"github.com/garlicbreadcleric/increadable/internal/middleware"
	"github.com/garlicbreadcleric/increadable/internal/reader"
	"github.com/garlicbreadcleric/increadable/internal/usecases"
)

// statusFor maps domain errors to HTTP statuses
func statusFor(err error) (int, string) {
	var validation *domain.ValidationError
	var transport *domain.TransportError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "document not found"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "document already exists"
	case errors.As(err, &transport):
		return http.StatusBadGateway, "remote document service unavailable"
	case errors.Is(err, reader.ErrNotLoaded), errors.Is(err, usecases.ErrLoadAborted):
		return http.StatusConflict, "document is not loaded"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timeout"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(middleware.RequestIDHeader, requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// respondFailure logs err and writes the mapped error response
func respondFailure(w http.ResponseWriter, logger *zap.Logger, r *http.Request, op string, err error) {
	requestID := middleware.GetRequestID(r.Context())
	status, message := statusFor(err)

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("op", op),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Debug("request rejected", fields...)
	}

	middleware.WriteError(w, status, message, requestID)
}

// NotFound is the fallback for unknown routes
func NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, http.StatusNotFound, "not found", middleware.GetRequestID(r.Context()))
}
