package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pass-ticketing/internal/auth"
)

var errMissingToken = errors.New("realtime: missing bearer token")

// Handler upgrades authenticated requests and joins them to the hub.
type Handler struct {
	Hub      *Hub
	Verifier auth.TokenVerifier
	Logger   zerolog.Logger
	Upgrader websocket.Upgrader
}

// NewHandler builds a handler accepting cross-origin clients from allowedOrigins.
// An empty list accepts any origin.
func NewHandler(hub *Hub, verifier auth.TokenVerifier, logger zerolog.Logger, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return &Handler{
		Hub:      hub,
		Verifier: verifier,
		Logger:   logger,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{"bearer"},
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	userID, authErr := h.authenticate(r)
	if authErr != nil {
		h.Logger.Info().Err(authErr).Msg("rejecting unauthenticated realtime connection")
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"), deadline)
		_ = conn.Close()
		return
	}

	s := newSession(userID, conn, h.Hub.queueSize)
	h.Hub.join(s)
	defer h.Hub.leave(s)

	hello, _ := json.Marshal(map[string]string{"user_id": userID})
	frame, _ := json.Marshal(Message{Event: "connected", Data: hello})
	s.enqueue(frame)

	go s.writeLoop()
	s.readLoop()
}

func (h *Handler) authenticate(r *http.Request) (string, error) {
	token := auth.HandshakeToken(r)
	if token == "" || h.Verifier == nil {
		return "", errMissingToken
	}
	return h.Verifier.ParseAccessToken(token)
}
