package order

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pass-ticketing/internal/common"
	"github.com/noah-isme/pass-ticketing/internal/store"
)

type Lister interface {
	ListOrders(ctx context.Context, userID uuid.UUID) ([]store.OrderWithPass, error)
}

type Handler struct {
	Store  Lister
	Logger zerolog.Logger
}

// List handles GET /api/orders: the caller's orders, newest first, each with its pass.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	uID, err := uuid.Parse(userID)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user identity", nil)
		return
	}
	orders, err := h.Store.ListOrders(r.Context(), uID)
	if err != nil {
		h.Logger.Error().Err(err).Str("user_id", userID).Msg("list orders")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "Failed to fetch orders", nil)
		return
	}
	if orders == nil {
		orders = []store.OrderWithPass{}
	}
	common.JSON(w, http.StatusOK, orders)
}
