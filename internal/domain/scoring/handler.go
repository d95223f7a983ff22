package scoring

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/middleware"
	"github.com/storyquest/storyquest-api/internal/pkg/errorhandler"
	"github.com/storyquest/storyquest-api/internal/pkg/response"
)

type Handler struct {
	aggregator *Aggregator
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

// Progress handles GET /scores/progress
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	p, err := h.aggregator.Progress(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			errorhandler.HandleError(r.Context(), w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", err)
			return
		}
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}

	response.OK(w, p)
}

// Reconcile handles POST /admin/scores/{userID}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	rec, err := h.aggregator.Reconcile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			errorhandler.HandleError(r.Context(), w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", err)
			return
		}
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}

	response.OK(w, rec)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/progress", h.Progress)
	return r
}

func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware, middleware.RequireAdmin())
	r.Post("/{userID}/reconcile", h.Reconcile)
	return r
}
