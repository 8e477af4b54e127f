package ws

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shobu13/kindly-kappa/internal/bugs"
	"github.com/shobu13/kindly-kappa/internal/events"
	"github.com/shobu13/kindly-kappa/internal/protocol"
	"github.com/shobu13/kindly-kappa/internal/ratelimit"
	"github.com/shobu13/kindly-kappa/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	Type       protocol.EventType  `json:"type"`
	Data       json.RawMessage     `json:"data"`
	StatusCode protocol.StatusCode `json:"status_code"`
}

type testServer struct {
	*httptest.Server
	registry *room.Registry
	cancel   context.CancelFunc
}

func startServer(t *testing.T, connects *ratelimit.KeyedLimiters, opts Options) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	registry := room.NewRegistry()
	service := events.NewService(registry, bugs.NewEngine(rand.NewPCG(1, 2)))

	srv := httptest.NewServer(NewServer(ctx, service, connects, opts))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{Server: srv, registry: registry, cancel: cancel}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, typ protocol.EventType, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "data": data}))
}

func readEvent(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var r received
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

func requireClosed(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, code), "want close code %d, got %v", code, err)
}

func create(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	sendEvent(t, conn, protocol.EventConnect, map[string]any{
		"connection_type": "create",
		"difficulty":      1,
		"room_code":       code,
		"username":        "alice",
	})
	assert.Equal(t, protocol.EventSync, readEvent(t, conn).Type)
	assert.Equal(t, protocol.EventConnect, readEvent(t, conn).Type)
}

func TestSessionLifecycle(t *testing.T) {
	s := startServer(t, nil, DefaultOptions())

	a := s.dial(t)
	create(t, a, "abc")

	b := s.dial(t)
	sendEvent(t, b, protocol.EventConnect, map[string]any{
		"connection_type": "join",
		"room_code":       "abc",
		"username":        "bob",
	})

	state := readEvent(t, b)
	require.Equal(t, protocol.EventSync, state.Type)
	assert.Equal(t, protocol.Success, state.StatusCode)
	var sync protocol.SyncData
	require.NoError(t, json.Unmarshal(state.Data, &sync))
	assert.Equal(t, 1, sync.Difficulty)
	require.Len(t, sync.Collaborators, 1)
	assert.Equal(t, "alice", sync.Collaborators[0].Username)

	joined := readEvent(t, a)
	assert.Equal(t, protocol.EventConnect, joined.Type)
	assert.Contains(t, string(joined.Data), `"username":"bob"`)

	sendEvent(t, a, protocol.EventMove, map[string]any{"position": []int{0, 3}})
	moved := readEvent(t, b)
	assert.Equal(t, protocol.EventMove, moved.Type)
	assert.Contains(t, string(moved.Data), `"position":[0,3]`)

	require.NoError(t, b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	left := readEvent(t, a)
	assert.Equal(t, protocol.EventDisconnect, left.Type)
	assert.Contains(t, string(left.Data), `"username":"bob"`)

	assert.Eventually(t, func() bool { return s.registry.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestLastMemberClosesRoom(t *testing.T) {
	s := startServer(t, nil, DefaultOptions())

	a := s.dial(t)
	create(t, a, "abc")
	assert.Equal(t, 1, s.registry.RoomCount())

	sendEvent(t, a, protocol.EventDisconnect, map[string]any{})
	requireClosed(t, a, websocket.CloseNormalClosure)
	assert.Eventually(t, func() bool { return s.registry.RoomCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRejectedFirstEventCloses(t *testing.T) {
	s := startServer(t, nil, DefaultOptions())

	t.Run("not a connect", func(t *testing.T) {
		conn := s.dial(t)
		sendEvent(t, conn, protocol.EventMove, map[string]any{"position": []int{0, 0}})

		failed := readEvent(t, conn)
		assert.Equal(t, protocol.EventError, failed.Type)
		assert.Equal(t, protocol.InvalidRequestData, failed.StatusCode)
		requireClosed(t, conn, int(protocol.InvalidRequestData))
	})

	t.Run("unknown room", func(t *testing.T) {
		conn := s.dial(t)
		sendEvent(t, conn, protocol.EventConnect, map[string]any{
			"connection_type": "join",
			"room_code":       "nope",
			"username":        "bob",
		})

		failed := readEvent(t, conn)
		assert.Equal(t, protocol.RoomNotFound, failed.StatusCode)
		requireClosed(t, conn, int(protocol.RoomNotFound))
	})
}

func TestRateLimitDisconnects(t *testing.T) {
	s := startServer(t, nil, Options{MessagesPerSecond: 0.001, MessageBurst: 1, MaxViolations: 2})

	conn := s.dial(t)
	create(t, conn, "abc")

	for i := 0; i < 3; i++ {
		sendEvent(t, conn, protocol.EventMove, map[string]any{"position": []int{0, i}})
	}
	requireClosed(t, conn, websocket.ClosePolicyViolation)
	assert.Eventually(t, func() bool { return s.registry.RoomCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionLimit(t *testing.T) {
	connects := ratelimit.NewKeyedLimiters(0.001, 1, time.Minute)
	defer connects.Stop()
	s := startServer(t, connects, DefaultOptions())

	s.dial(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestShutdownClosesSessions(t *testing.T) {
	s := startServer(t, nil, DefaultOptions())

	conn := s.dial(t)
	create(t, conn, "abc")

	s.cancel()
	requireClosed(t, conn, websocket.CloseGoingAway)
}

func TestClientSend(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), done: make(chan struct{})}
	resp := protocol.NewResponse(protocol.EventMove, protocol.MoveData{})

	require.NoError(t, c.Send(resp))
	assert.ErrorIs(t, c.Send(resp), errSlowClient)

	<-c.send
	c.shutdown(websocket.CloseNormalClosure, "")
	assert.ErrorIs(t, c.Send(resp), errClientClosed)
}
