package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pass-ticketing/internal/resilience"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Razorpay {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewRazorpay(Config{KeyID: "rzp_test", KeySecret: "secret", BaseURL: srv.URL, Timeout: time.Second}, resilience.NewBreaker(resilience.BreakerConfig{Target: "razorpay_test", MinRequests: 10, FailureRatio: 0.9, OpenFor: time.Second}))
}

func TestCreateOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "rzp_test", user)
		require.Equal(t, "secret", pass)

		var in OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, int64(100000), in.Amount)
		require.Equal(t, "INR", in.Currency)
		require.Equal(t, "upgrade", in.Notes["type"])

		_ = json.NewEncoder(w).Encode(Order{ID: "order_abc", Amount: in.Amount, Currency: in.Currency, Receipt: in.Receipt, Status: "created"})
	})

	out, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100000, Currency: "INR", Receipt: "r1", Notes: map[string]string{"type": "upgrade"}})
	require.NoError(t, err)
	require.Equal(t, "order_abc", out.ID)
	require.Equal(t, "created", out.Status)
}

func TestCreateOrderAuthFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`))
	})
	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR"})
	require.ErrorIs(t, err, ErrGatewayAuth)
}

func TestCreateOrderRequestError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount must be at least INR 1.00"}}`))
	})
	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 1, Currency: "INR"})
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	require.Equal(t, http.StatusBadRequest, reqErr.Status)
	require.Equal(t, "BAD_REQUEST_ERROR", reqErr.Code)
	require.Contains(t, reqErr.Description, "INR 1.00")
}

func TestCreateOrderServerErrorSurfacesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR"})
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	require.Equal(t, http.StatusServiceUnavailable, reqErr.Status)
}

func TestCreateOrderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	client := NewRazorpay(Config{KeyID: "k", KeySecret: "s", BaseURL: srv.URL, Timeout: 30 * time.Millisecond}, nil)
	start := time.Now()
	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR"})
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestCreateOrderNotConfigured(t *testing.T) {
	client := NewRazorpay(Config{}, nil)
	require.False(t, client.Configured())
	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestReceipt(t *testing.T) {
	now := time.UnixMilli(1718000123456)
	require.Equal(t, "u3f2a9c1d_p2_00123456", Receipt("3f2a9c1d-1111-2222-3333-444455556666", 2, KindPurchase, now))
	require.Equal(t, "uabc_up12_00123456", Receipt("abc", 12, KindUpgrade, now))

	long := Receipt("3f2a9c1d-1111", 1234567890123456789, KindUpgrade, now)
	require.LessOrEqual(t, len(long), 40)
}
