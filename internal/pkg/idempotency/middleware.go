package idempotency

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/storyquest/storyquest-api/internal/pkg/response"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	maxKeyLength = 128
)

// Middleware guards a handler with store. scope namespaces keys, normally by
// the authenticated user. Requests without the header pass straight through.
// Responses with status >= 500 release the key so the client can retry,
// unless the handler called Hold.
func Middleware(store Store, scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				response.BadRequest(w, "Idempotency-Key is too long")
				return
			}
			key = scope(r) + ":" + r.URL.Path + ":" + key

			cached, err := store.Begin(r.Context(), key)
			switch {
			case errors.Is(err, ErrInProgress):
				response.Conflict(w, "A request with this Idempotency-Key is in progress")
				return
			case err != nil:
				log.Error().Err(err).Msg("idempotency store unavailable")
				response.InternalError(w)
				return
			case cached != nil:
				replay(w, cached)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				// the handler may have panicked; free the key for a retry
				if !completed {
					release(store, key)
				}
			}()

			next.ServeHTTP(rec, r)

			ctx := context.WithoutCancel(r.Context())
			if rec.held {
				log.Warn().Str("key", key).Int("status", rec.status).Msg("idempotency key held until expiry")
				completed = true
				return
			}
			if rec.status >= http.StatusInternalServerError {
				release(store, key)
				completed = true
				return
			}
			entry := &Entry{Status: rec.status, ContentType: rec.Header().Get("Content-Type"), Body: rec.body.Bytes()}
			if err := store.Complete(ctx, key, entry); err != nil {
				log.Error().Err(err).Str("key", key).Msg("failed to store idempotent response")
				release(store, key)
			}
			completed = true
		})
	}
}

// Hold keeps the key of the current request claimed until it expires. Call it
// before writing a failure whose side effects may still land, so a retry gets
// 409 instead of running the operation a second time. It is a no-op outside
// Middleware.
func Hold(w http.ResponseWriter) {
	if rec, ok := w.(*recorder); ok {
		rec.held = true
	}
}

func replay(w http.ResponseWriter, e *Entry) {
	if e.ContentType != "" {
		w.Header().Set("Content-Type", e.ContentType)
	}
	w.Header().Set(HeaderReplayed, strconv.FormatBool(true))
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}

func release(store Store, key string) {
	if err := store.Release(context.Background(), key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to release idempotency key")
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
	held   bool
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
