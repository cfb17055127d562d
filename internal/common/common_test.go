package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, Conflict("OUT_OF_STOCK", "Pass is sold out"))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"OUT_OF_STOCK"`)
	require.Contains(t, rec.Body.String(), `"message":"Pass is sold out"`)
}

func TestWriteErrorHidesUnexpectedErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: connection refused"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
	require.Contains(t, rec.Body.String(), `"code":"INTERNAL"`)

	rec = httptest.NewRecorder()
	WriteError(rec, Internal(errors.New("boom")))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestGatewayErrorStatus(t *testing.T) {
	require.Equal(t, http.StatusBadGateway, GatewayError("GATEWAY_ERROR", "x", 0, nil).HTTPStatus)
	require.Equal(t, http.StatusBadRequest, GatewayError("GATEWAY_ERROR", "x", 400, nil).HTTPStatus)
}

func TestHasCodeThroughWrap(t *testing.T) {
	err := errors.Join(errors.New("ctx"), NotFound("PASS_NOT_FOUND", "Pass not found"))
	require.True(t, HasCode(err, "PASS_NOT_FOUND"))
	require.False(t, HasCode(err, "ORDER_NOT_FOUND"))
}

type buyInput struct {
	PassID         string `json:"pass_id" validate:"required"`
	ExpectedAmount int64  `json:"expected_amount" validate:"min=0"`
}

func TestDecodeAndValidate(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"expected_amount":-1}`))
	var in buyInput
	err := DecodeAndValidate(r, &in)
	appErr, ok := AsAppError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	details, ok := appErr.Details.([]string)
	require.True(t, ok)
	require.Len(t, details, 2)
	require.Contains(t, details[0], `"pass_id"`)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	require.True(t, HasCode(DecodeAndValidate(r, &in), "BAD_REQUEST"))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"pass_id":"p1","expected_amount":500}`))
	require.NoError(t, DecodeAndValidate(r, &in))
	require.Equal(t, int64(500), in.ExpectedAmount)
}

func TestIdempotencyRejectsReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	h := Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/passes/p1/buy", nil)
		req.Header.Set(IdempotencyHeader, "k-1")
		req = req.WithContext(WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusCreated, send("u1"))
	require.Equal(t, http.StatusConflict, send("u1"))
	require.Equal(t, http.StatusCreated, send("u2"))
	require.Equal(t, 2, calls)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	require.Equal(t, "10.0.0.1", ClientIP(r))
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	require.Equal(t, "1.2.3.4", ClientIP(r))
}
