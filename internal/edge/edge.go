// Package edge is the standalone payment callback receiver. It verifies the
// signature itself and then either forwards the untouched body to the API or
// reconciles in process.
package edge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pass-ticketing/internal/common"
	"github.com/noah-isme/pass-ticketing/internal/obs"
	"github.com/noah-isme/pass-ticketing/internal/payment"
	"github.com/noah-isme/pass-ticketing/internal/signature"
)

const maxRelayBody = 64 << 10

// Doer sends an HTTP request.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Forwarder relays verified callbacks to the API webhook endpoint.
type Forwarder struct {
	URL    string
	Client Doer
}

// Forward posts body with its signature unchanged and returns the upstream reply.
func (f Forwarder) Forward(ctx context.Context, body []byte, sig string) (int, []byte, error) {
	if f.URL == "" || f.Client == nil {
		return 0, nil, errors.New("edge: forwarder not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("edge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(payment.HeaderRazorpaySignature, sig)
	resp, err := f.Client.Do(ctx, req)
	if err != nil {
		return 0, nil, fmt.Errorf("edge: forward: %w", err)
	}
	defer resp.Body.Close()
	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		return 0, nil, fmt.Errorf("edge: read reply: %w", err)
	}
	return resp.StatusCode, reply, nil
}

// Handler receives callbacks. With a Forwarder it verifies then relays;
// otherwise Local handles the request end to end.
type Handler struct {
	Secret    string
	Forwarder *Forwarder
	Local     http.Handler
	Logger    zerolog.Logger
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if h.Forwarder == nil {
		if h.Local == nil {
			common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
			return
		}
		h.Local.ServeHTTP(w, r)
		return
	}
	if h.Secret == "" {
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	sig := payment.SignatureFromRequest(r)
	if err := signature.Verify(body, sig, h.Secret); err != nil {
		h.Logger.Warn().Err(err).Msg("edge signature rejected")
		obs.CountPaymentWebhook("edge", "invalid_signature")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	status, reply, err := h.Forwarder.Forward(r.Context(), body, sig)
	if err != nil {
		h.Logger.Error().Err(err).Msg("forward callback")
		obs.CountPaymentWebhook("edge", "forward_failed")
		common.JSONError(w, http.StatusBadGateway, "FORWARD_FAILED", "unable to deliver callback", nil)
		return
	}
	obs.CountPaymentWebhook("edge", "forwarded")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(reply)
}
