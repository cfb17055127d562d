package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pass-ticketing/internal/events"
)

type staticVerifier map[string]string

func (v staticVerifier) ParseAccessToken(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func newServer(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zerolog.Nop(), 4)
	h := NewHandler(hub, staticVerifier{"tok-alice": "alice", "tok-bob": "bob"}, zerolog.Nop(), nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestConnectSendsConnectedEvent(t *testing.T) {
	hub, url := newServer(t)
	conn := dial(t, url+"?token=tok-alice")

	msg := readMessage(t, conn)
	require.Equal(t, "connected", msg.Event)
	require.JSONEq(t, `{"user_id":"alice"}`, string(msg.Data))
	require.Eventually(t, func() bool { return hub.Sessions("alice") == 1 }, time.Second, 5*time.Millisecond)
}

func TestUnauthenticatedConnectionIsClosed(t *testing.T) {
	hub, url := newServer(t)
	for _, suffix := range []string{"", "?token=forged"} {
		conn := dial(t, url+suffix)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	}
	require.Zero(t, hub.Sessions(""))
}

func TestNotifyReachesOnlyOwner(t *testing.T) {
	hub, url := newServer(t)
	alice := dial(t, url+"?token=tok-alice")
	bob := dial(t, url+"?token=tok-bob")
	readMessage(t, alice)
	readMessage(t, bob)
	require.Eventually(t, func() bool { return hub.Sessions("alice") == 1 && hub.Sessions("bob") == 1 }, time.Second, 5*time.Millisecond)

	payload := json.RawMessage(`{"order_id":"o1","status":"success","pass_id":2}`)
	require.Equal(t, 1, hub.Notify(context.Background(), "alice", Message{Event: events.TopicOrderUpdate, Data: payload}))

	msg := readMessage(t, alice)
	require.Equal(t, events.TopicOrderUpdate, msg.Event)
	require.JSONEq(t, string(payload), string(msg.Data))

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	require.Error(t, err, "bob must not receive alice's update")
}

func TestNotifyOfflineUserIsNoop(t *testing.T) {
	hub := NewHub(zerolog.Nop(), 1)
	require.Zero(t, hub.Notify(context.Background(), "nobody", Message{Event: "x", Data: json.RawMessage(`{}`)}))
}

func TestSessionQueueDropsWhenFull(t *testing.T) {
	s := &session{send: make(chan []byte, 1), done: make(chan struct{})}
	require.True(t, s.enqueue([]byte("a")))
	require.False(t, s.enqueue([]byte("b")))
}

func TestRedisFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub, url := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := hub.SubscribeRedis(ctx, client)
	require.NoError(t, err)
	defer func() { _ = stop() }()

	alice := dial(t, url+"?token=tok-alice")
	readMessage(t, alice)
	require.Eventually(t, func() bool { return hub.Sessions("alice") == 1 }, time.Second, 5*time.Millisecond)

	bus := &events.Bus{Notifiers: []events.Notifier{RedisPublisher{R: client}}}
	_, err = bus.Emit(ctx, events.TopicOrderUpdate, "alice", events.OrderUpdate{OrderID: "o9", Status: "success", PassID: 3})
	require.NoError(t, err)

	msg := readMessage(t, alice)
	require.Equal(t, events.TopicOrderUpdate, msg.Event)
	var update events.OrderUpdate
	require.NoError(t, json.Unmarshal(msg.Data, &update))
	require.Equal(t, "o9", update.OrderID)
}
