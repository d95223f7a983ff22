package media

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/domain/credit"
	"github.com/storyquest/storyquest-api/internal/domain/submission"
	"github.com/storyquest/storyquest-api/internal/middleware"
	"github.com/storyquest/storyquest-api/internal/pkg/errorhandler"
	"github.com/storyquest/storyquest-api/internal/pkg/idempotency"
	"github.com/storyquest/storyquest-api/internal/pkg/response"
	"github.com/storyquest/storyquest-api/internal/pkg/validator"
)

type Handler struct {
	svc         *Service
	idempotency idempotency.Store
}

// NewHandler creates media handler. Generate requests carrying an
// Idempotency-Key are deduplicated through store.
func NewHandler(svc *Service, store idempotency.Store) *Handler {
	return &Handler{svc: svc, idempotency: store}
}

// Generate handles POST /media/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req GenerateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fields := validator.Validate(req); fields != nil {
		errorhandler.HandleValidation(r.Context(), w, fields)
		return
	}

	result, err := h.svc.Generate(r.Context(), userID, req)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}

	response.Created(w, result)
}

// List handles GET /media?submission_id=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var submissionID *uuid.UUID
	if raw := r.URL.Query().Get("submission_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "invalid submission_id")
			return
		}
		submissionID = &id
	}

	artifacts, err := h.svc.ListArtifacts(r.Context(), userID, submissionID)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}
	if artifacts == nil {
		artifacts = []Artifact{}
	}

	response.OK(w, artifacts)
}

func handleError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credit.ErrInsufficientFunds), errors.Is(err, credit.ErrUserNotFound):
		credit.HandleError(ctx, w, err)
	case errors.Is(err, ErrUnknownOperation):
		errorhandler.HandleError(ctx, w, http.StatusBadRequest, "UNKNOWN_OPERATION", "Unknown media kind", err)
	case errors.Is(err, ErrInvalidStyle):
		errorhandler.HandleError(ctx, w, http.StatusBadRequest, "INVALID_STYLE", "Unknown media style", err)
	case errors.Is(err, ErrInvalidImageIndex):
		errorhandler.HandleError(ctx, w, http.StatusBadRequest, "INVALID_IMAGE_INDEX", "Image index must be between 1 and 6", err)
	case errors.Is(err, submission.ErrNotFound):
		errorhandler.HandleError(ctx, w, http.StatusNotFound, "NOT_FOUND", "Submission not found", err)
	case errors.Is(err, submission.ErrNotOwner):
		errorhandler.HandleError(ctx, w, http.StatusForbidden, "FORBIDDEN", "Submission belongs to another user", err)
	case errors.Is(err, ErrSubmissionNotScored):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "NOT_SCORED", "Submission must be analyzed before generating media", err)
	case errors.Is(err, ErrRefundFailed):
		idempotency.Hold(w)
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "REFUND_FAILED", "Generation failed and the refund could not be completed", err)
	case errors.Is(err, ErrCollaboratorFailure):
		errorhandler.HandleError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", "Media generation failed, credits were refunded", err)
	case errors.Is(err, ErrAbandoned):
		// the reservation may still commit
		idempotency.Hold(w)
		errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "OPERATION_PENDING", "Request cancelled, the operation is still completing", err)
	case errors.Is(err, ErrShuttingDown):
		errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down, retry shortly", err)
	default:
		errorhandler.HandleInternal(ctx, w, err)
	}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.List)
	r.With(idempotency.Middleware(h.idempotency, middleware.UserScope)).Post("/generate", h.Generate)
	return r
}
