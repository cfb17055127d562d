package payment

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pass-ticketing/internal/common"
	"github.com/noah-isme/pass-ticketing/internal/obs"
	"github.com/noah-isme/pass-ticketing/internal/reconcile"
	"github.com/noah-isme/pass-ticketing/internal/signature"
)

// Reconciler applies captured payments to orders.
type Reconciler interface {
	Reconcile(ctx context.Context, externalRef, paymentRef string) (reconcile.Result, error)
}

// Webhook handles payment provider callbacks: signature verification, event
// filtering and reconciliation.
type Webhook struct {
	Secret     string
	Reconciler Reconciler
	Logger     zerolog.Logger
	// Source labels metrics with the deployment receiving the callback.
	Source string
}

type ackResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	OrderID string `json:"order_id,omitempty"`
}

func (h Webhook) source() string {
	if h.Source == "" {
		return "api"
	}
	return h.Source
}

// Handle processes a Razorpay callback.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Secret == "" || h.Reconciler == nil {
		h.Logger.Error().Bool("secret_configured", h.Secret != "").Bool("store_configured", h.Reconciler != nil).Msg("webhook not configured")
		obs.CountPaymentWebhook(h.source(), "not_configured")
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	if err := signature.Verify(body, SignatureFromRequest(r), h.Secret); err != nil {
		h.Logger.Warn().Err(err).Msg("webhook signature rejected")
		obs.CountPaymentWebhook(h.source(), "invalid_signature")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	ev, err := ParseEvent(body)
	if err != nil {
		obs.CountPaymentWebhook(h.source(), "malformed")
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
		return
	}
	if !ev.Captured() {
		obs.CountPaymentWebhook(h.source(), "ignored")
		common.JSON(w, http.StatusOK, ackResponse{OK: true, Message: "Event ignored"})
		return
	}

	payment := ev.Payment()
	logger := h.Logger.With().Str("external_ref", payment.OrderID).Str("payment_ref", payment.ID).Logger()
	res, err := h.Reconciler.Reconcile(r.Context(), payment.OrderID, payment.ID)
	if err != nil {
		if errors.Is(err, reconcile.ErrOrderNotFound) {
			obs.CountPaymentWebhook(h.source(), "order_not_found")
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found", nil)
			return
		}
		if errors.Is(err, reconcile.ErrFallbackIncomplete) {
			// a redelivery only replays; stock must be corrected by hand
			logger.Error().Err(err).Msg("order paid without stock decrement")
			obs.CountPaymentWebhook(h.source(), "stock_unreconciled")
			common.JSONError(w, http.StatusInternalServerError, "STOCK_NOT_UPDATED", "Payment recorded but stock was not updated", nil)
			return
		}
		logger.Error().Err(err).Msg("reconcile failed")
		obs.CountPaymentWebhook(h.source(), "error")
		common.WriteError(w, common.Internal(err))
		return
	}
	if res.AlreadyProcessed {
		obs.CountPaymentWebhook(h.source(), "replay")
		common.JSON(w, http.StatusOK, ackResponse{OK: true, Message: "Already processed", OrderID: res.OrderID.String()})
		return
	}
	logger.Info().Str("order_id", res.OrderID.String()).Str("path", res.Path).Msg("payment confirmed")
	obs.CountPaymentWebhook(h.source(), "confirmed")
	common.JSON(w, http.StatusOK, ackResponse{OK: true, Message: "Payment confirmed", OrderID: res.OrderID.String()})
}

// Status reports whether the webhook can process callbacks.
func (h Webhook) Status(w http.ResponseWriter, _ *http.Request) {
	configured := h.Secret != ""
	storeReady := h.Reconciler != nil
	message := "Webhook endpoint is ready"
	if !configured || !storeReady {
		message = "Webhook endpoint is missing configuration"
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"webhook_configured": configured,
		"store_configured":   storeReady,
		"message":            message,
	})
}
