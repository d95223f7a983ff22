package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/storyquest/storyquest-api/internal/pkg/idempotency"
)

// CORSHandler returns a configured CORS handler for Chi
func CORSHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", idempotency.HeaderKey},
		ExposedHeaders:   []string{"X-Request-ID", idempotency.HeaderReplayed},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	})
}
