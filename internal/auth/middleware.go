package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pass-ticketing/internal/common"
)

// TokenVerifier resolves a bearer credential to a user id.
type TokenVerifier interface {
	ParseAccessToken(token string) (string, error)
}

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Verifier TokenVerifier
	Logger   zerolog.Logger
}

// RequireAuth enforces that a valid bearer token is present before executing the next handler.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Verifier == nil {
			common.WriteError(w, common.Internal(nil))
			return
		}
		token := BearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authorization header", nil)
			return
		}
		userID, err := m.Verifier.ParseAccessToken(token)
		if err != nil {
			m.Logger.Debug().Err(err).Str("path", r.URL.Path).Msg("token rejected")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), userID)))
	})
}

// BearerToken returns the credential from the Authorization header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// HandshakeToken returns the credential a WebSocket client presented at connect
// time: the Authorization header, a token query parameter, or the
// "bearer, <token>" subprotocol pair browsers can set.
func HandshakeToken(r *http.Request) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		if unescaped, err := url.QueryUnescape(token); err == nil {
			return unescaped
		}
		return token
	}
	protocols := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	for i := 0; i+1 < len(protocols); i++ {
		if strings.EqualFold(strings.TrimSpace(protocols[i]), "bearer") {
			return strings.TrimSpace(protocols[i+1])
		}
	}
	return ""
}
