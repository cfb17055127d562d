// Package gateway creates payment orders with Razorpay.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/pass-ticketing/internal/resilience"
)

const defaultBaseURL = "https://api.razorpay.com"

var (
	// ErrNotConfigured indicates the key id or secret is missing.
	ErrNotConfigured = errors.New("gateway: razorpay credentials not configured")
	// ErrGatewayAuth indicates the gateway rejected our credentials. It is a deployment fault, not a client one.
	ErrGatewayAuth = errors.New("gateway: razorpay authentication failed")
)

// RequestError carries a per-request rejection reported by the gateway.
type RequestError struct {
	Status      int
	Code        string
	Description string
}

func (e *RequestError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("gateway: razorpay returned %d", e.Status)
	}
	return fmt.Sprintf("gateway: razorpay returned %d: %s", e.Status, e.Description)
}

// OrderRequest describes an order to create. Amount is in paise.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the gateway's view of a created order.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Config holds the credentials and endpoint of the Razorpay account.
type Config struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration
}

// Razorpay is a client for the Orders API. It is safe for concurrent use.
type Razorpay struct {
	cfg  Config
	http resilience.HTTPClient
}

// NewRazorpay builds a client. Every call is bounded by cfg.Timeout and
// guarded by breaker. Order creation is never retried here.
func NewRazorpay(cfg Config, breaker *resilience.Breaker) *Razorpay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &Razorpay{
		cfg: cfg,
		http: resilience.HTTPClient{
			Client:      client,
			Breaker:     breaker,
			MaxAttempts: 1,
			Timeout:     cfg.Timeout,
		},
	}
}

// Configured reports whether credentials are present.
func (r *Razorpay) Configured() bool {
	return r != nil && r.cfg.KeyID != "" && r.cfg.KeySecret != ""
}

// CreateOrder creates a gateway order.
func (r *Razorpay) CreateOrder(ctx context.Context, in OrderRequest) (Order, error) {
	if !r.Configured() {
		return Order{}, ErrNotConfigured
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return Order{}, fmt.Errorf("encode order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return Order{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)

	resp, err := r.http.Do(ctx, req)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Order{}, fmt.Errorf("read order response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Order{}, ErrGatewayAuth
	case resp.StatusCode >= 300:
		return Order{}, decodeRequestError(resp.StatusCode, body)
	}

	var out Order
	if err := json.Unmarshal(body, &out); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	if out.ID == "" {
		return Order{}, errors.New("gateway: order response missing id")
	}
	return out, nil
}

func decodeRequestError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	return &RequestError{Status: status, Code: envelope.Error.Code, Description: envelope.Error.Description}
}

// Receipt kinds.
const (
	KindPurchase = "p"
	KindUpgrade  = "up"
)

const maxReceiptLen = 40

// Receipt builds the merchant receipt for an order: u{user prefix}_{kind}{pass}_{last 8 digits of unix ms}.
func Receipt(userID string, passID int64, kind string, now time.Time) string {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	if len(millis) > 8 {
		millis = millis[len(millis)-8:]
	}
	receipt := "u" + short + "_" + kind + strconv.FormatInt(passID, 10) + "_" + millis
	if len(receipt) > maxReceiptLen {
		receipt = receipt[:maxReceiptLen]
	}
	return receipt
}
