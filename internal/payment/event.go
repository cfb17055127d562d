package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// EventPaymentCaptured is the only event kind that changes order state.
const EventPaymentCaptured = "payment.captured"

// Signature headers, in lookup order.
const (
	HeaderRazorpaySignature = "X-Razorpay-Signature"
	HeaderSignature         = "X-Signature"
)

var (
	// ErrMalformedEvent indicates the body is not a JSON callback envelope.
	ErrMalformedEvent = errors.New("payment: malformed webhook payload")
	// ErrMissingReference indicates a captured payment without its payment or order id.
	ErrMissingReference = errors.New("payment: missing payment or order id")
)

// PaymentEntity is the payment object carried by Razorpay callbacks.
type PaymentEntity struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// Event is a decoded Razorpay callback.
type Event struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// Captured reports whether the event confirms a payment.
func (e Event) Captured() bool {
	return e.Event == EventPaymentCaptured
}

// Payment returns the embedded payment entity.
func (e Event) Payment() PaymentEntity {
	return e.Payload.Payment.Entity
}

// ParseEvent decodes a callback body. Captured events must carry both ids.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, ErrMalformedEvent
	}
	if strings.TrimSpace(ev.Event) == "" {
		return Event{}, ErrMalformedEvent
	}
	if ev.Captured() {
		p := ev.Payment()
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.OrderID) == "" {
			return Event{}, ErrMissingReference
		}
	}
	return ev, nil
}

// SignatureFromRequest returns the signature header value.
func SignatureFromRequest(r *http.Request) string {
	if sig := strings.TrimSpace(r.Header.Get(HeaderRazorpaySignature)); sig != "" {
		return sig
	}
	return strings.TrimSpace(r.Header.Get(HeaderSignature))
}
