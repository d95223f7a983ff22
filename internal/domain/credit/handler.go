package credit

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storyquest/storyquest-api/internal/middleware"
	"github.com/storyquest/storyquest-api/internal/pkg/errorhandler"
	"github.com/storyquest/storyquest-api/internal/pkg/response"
	"github.com/storyquest/storyquest-api/internal/pkg/validator"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

type grantRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Amount int       `json:"amount" validate:"required,gte=1"`
	Reason string    `json:"reason" validate:"required,max=200"`
}

// Balance handles GET /credits/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	balance, err := h.svc.Balance(r.Context(), userID)
	if err != nil {
		HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, map[string]interface{}{"balance": balance})
}

// Transactions handles GET /credits/transactions?limit=&offset=
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	txs, err := h.svc.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		HandleError(r.Context(), w, err)
		return
	}

	response.WithMeta(w, txs, response.Meta{
		Limit:   limit,
		Offset:  offset,
		Count:   len(txs),
		HasNext: len(txs) == limit,
	})
}

// Grant handles POST /admin/credits/grant
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fields := validator.Validate(req); fields != nil {
		errorhandler.HandleValidation(r.Context(), w, fields)
		return
	}

	balance, err := h.svc.Credit(r.Context(), req.UserID, req.Amount, TransactionMeta{
		Type:   TransactionTypeAdminGrant,
		Reason: "admin:" + req.Reason,
	})
	if err != nil {
		HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, map[string]interface{}{"user_id": req.UserID, "balance": balance})
}

// HandleError writes the response for a ledger error.
func HandleError(ctx context.Context, w http.ResponseWriter, err error) {
	var insufficient *InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		errorhandler.HandlePaymentRequired(ctx, w, insufficient.Required, insufficient.Available)
	case errors.Is(err, ErrInsufficientFunds):
		errorhandler.HandleError(ctx, w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "Not enough credits", err)
	case errors.Is(err, ErrInvalidAmount):
		errorhandler.HandleError(ctx, w, http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero", err)
	case errors.Is(err, ErrUserNotFound):
		errorhandler.HandleError(ctx, w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", err)
	default:
		errorhandler.HandleInternal(ctx, w, err)
	}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.Transactions)
	return r
}

func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware, middleware.RequireAdmin())
	r.Post("/grant", h.Grant)
	return r
}
