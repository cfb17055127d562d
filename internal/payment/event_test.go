package payment

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":50000,"currency":"INR"}}}}`))
	require.NoError(t, err)
	require.True(t, ev.Captured())
	require.Equal(t, "order_1", ev.Payment().OrderID)
	require.Equal(t, int64(50000), ev.Payment().Amount)

	ev, err = ParseEvent([]byte(`{"event":"order.paid","payload":{}}`))
	require.NoError(t, err)
	require.False(t, ev.Captured())

	_, err = ParseEvent([]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"order_id":"order_1"}}}}`))
	require.ErrorIs(t, err, ErrMissingReference)

	_, err = ParseEvent([]byte(`[]`))
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestSignatureFromRequestPrefersProviderHeader(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.Header.Set(HeaderSignature, "generic")
	require.Equal(t, "generic", SignatureFromRequest(r))
	r.Header.Set(HeaderRazorpaySignature, "provider")
	require.Equal(t, "provider", SignatureFromRequest(r))
}
