// Package errorhandler writes error responses and logs them with the
// request's logger.
package errorhandler

import (
	"context"
	"net/http"

	"github.com/storyquest/storyquest-api/internal/pkg/logger"
	"github.com/storyquest/storyquest-api/internal/pkg/response"
)

// HandleError logs err and sends a formatted error response. Statuses below
// 500 are logged at warn level, the rest at error level.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	l := logger.FromContext(ctx)
	event := l.Warn()
	if status >= http.StatusInternalServerError {
		event = l.Error()
	}
	if err != nil {
		event = event.Err(err)
	}
	event.
		Str("error_code", code).
		Int("status_code", status).
		Msg("Request error")

	response.Error(w, status, code, message)
}

// HandleInternal logs err and sends a generic 500.
func HandleInternal(ctx context.Context, w http.ResponseWriter, err error) {
	logger.FromContext(ctx).Error().Err(err).Msg("Unhandled request error")
	response.InternalError(w)
}

// HandleValidation logs field errors and sends a 422.
func HandleValidation(ctx context.Context, w http.ResponseWriter, fields map[string]string) {
	logger.FromContext(ctx).Warn().Interface("validation_errors", fields).Msg("Validation error")
	response.ValidationError(w, fields)
}

// HandlePaymentRequired logs a rejected debit and sends a 402.
func HandlePaymentRequired(ctx context.Context, w http.ResponseWriter, required, available int) {
	logger.FromContext(ctx).Info().
		Int("required", required).
		Int("available", available).
		Msg("Insufficient credits")
	response.PaymentRequired(w, required, available)
}
