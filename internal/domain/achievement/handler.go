package achievement

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/middleware"
	"github.com/storyquest/storyquest-api/internal/pkg/errorhandler"
	"github.com/storyquest/storyquest-api/internal/pkg/response"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// List handles GET /achievements
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	records, err := h.engine.List(r.Context(), userID)
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}
	if records == nil {
		records = []Record{}
	}

	response.OK(w, records)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.List)
	return r
}
