package submission

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/domain/scoring"
	"github.com/storyquest/storyquest-api/internal/middleware"
	"github.com/storyquest/storyquest-api/internal/pkg/errorhandler"
	"github.com/storyquest/storyquest-api/internal/pkg/response"
	"github.com/storyquest/storyquest-api/internal/pkg/validator"
)

type Handler struct {
	workflow *Workflow
}

func NewHandler(workflow *Workflow) *Handler {
	return &Handler{workflow: workflow}
}

// Create handles POST /submissions
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CreateInput
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fields := validator.Validate(req); fields != nil {
		errorhandler.HandleValidation(r.Context(), w, fields)
		return
	}

	s, err := h.workflow.Create(r.Context(), userID, req)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}

	response.Created(w, s)
}

// Get handles GET /submissions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, submissionID, ok := ids(w, r)
	if !ok {
		return
	}

	s, err := h.workflow.Get(r.Context(), userID, submissionID)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}

	response.OK(w, s)
}

// Analyze handles POST /submissions/{id}/analyze
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	userID, submissionID, ok := ids(w, r)
	if !ok {
		return
	}

	out, err := h.workflow.Analyze(r.Context(), userID, submissionID)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}

	response.OK(w, out)
}

// Reanalyze handles POST /submissions/{id}/reanalyze
func (h *Handler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	userID, submissionID, ok := ids(w, r)
	if !ok {
		return
	}

	out, err := h.workflow.Reanalyze(r.Context(), userID, submissionID)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}

	response.OK(w, out)
}

func ids(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}

	submissionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid submission id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, submissionID, true
}

func handleError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		errorhandler.HandleError(ctx, w, http.StatusNotFound, "NOT_FOUND", "Submission not found", err)
	case errors.Is(err, ErrNotOwner):
		errorhandler.HandleError(ctx, w, http.StatusForbidden, "FORBIDDEN", "Submission belongs to another user", err)
	case errors.Is(err, scoring.ErrAlreadyScored):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "ALREADY_SCORED", "Submission already analyzed, use reanalyze", err)
	case errors.Is(err, scoring.ErrNotScored):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "NOT_SCORED", "Submission has not been analyzed yet", err)
	case errors.Is(err, scoring.ErrScoreConflict):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "SCORE_CONFLICT", "Submission was scored concurrently, retry", err)
	case errors.Is(err, ErrContentBlocked):
		errorhandler.HandleError(ctx, w, http.StatusUnprocessableEntity, "CONTENT_BLOCKED", "Submission did not pass the content safety check", err)
	case errors.Is(err, ErrCollaboratorFailure):
		errorhandler.HandleError(ctx, w, http.StatusBadGateway, "ANALYSIS_FAILED", "Writing analysis is unavailable, try again later", err)
	default:
		errorhandler.HandleInternal(ctx, w, err)
	}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/analyze", h.Analyze)
	r.Post("/{id}/reanalyze", h.Reanalyze)
	return r
}
