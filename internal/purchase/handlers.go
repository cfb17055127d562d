package purchase

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/pass-ticketing/internal/common"
	"github.com/noah-isme/pass-ticketing/internal/store"
)

type Handler struct {
	Svc *Service
}

type body struct {
	ExpectedAmount int64  `json:"expected_amount" validate:"required,min=1"`
	Version        *int64 `json:"version" validate:"omitempty,min=0"`
}

type gatewayOrderView struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	AmountINR int64  `json:"amount_inr"`
	Currency  string `json:"currency"`
}

type response struct {
	RazorpayOrder  gatewayOrderView   `json:"razorpay_order"`
	Pass           *store.PassSummary `json:"pass,omitempty"`
	UpgradeDetails *UpgradeDetails    `json:"upgrade_details,omitempty"`
	OrderStatus    store.OrderStatus  `json:"order_status"`
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.Svc.Buy)
}

func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.Svc.Upgrade)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, run func(context.Context, Request) (Result, error)) {
	if h.Svc == nil || h.Svc.Store == nil || h.Svc.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "purchase service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	passID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || passID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid pass id", nil)
		return
	}
	var in body
	if err := common.DecodeAndValidate(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := run(r.Context(), Request{UserID: userID, PassID: passID, ExpectedAmount: in.ExpectedAmount, Version: in.Version})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, render(res))
}

func render(res Result) response {
	out := response{
		RazorpayOrder: gatewayOrderView{
			ID:        res.GatewayOrder.ID,
			Amount:    res.GatewayOrder.Amount,
			AmountINR: res.AmountMajor,
			Currency:  res.GatewayOrder.Currency,
		},
		UpgradeDetails: res.Upgrade,
		OrderStatus:    store.OrderPending,
	}
	if res.Upgrade == nil {
		pass := res.Pass
		out.Pass = &pass
	}
	return out
}
