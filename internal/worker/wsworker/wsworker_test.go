package wsworker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/retry"
)

var upgrader = websocket.Upgrader{}

func echoServer(t *testing.T, onConnect func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		onConnect(conn)
	}))
}

func wsURL(httpURL string) string {
	return "ws" + httpURL[len("http"):]
}

func TestParseConfigDefaults(t *testing.T) {
	cfg := parseConfig(map[string]any{"url": "ws://localhost/feed"})
	assert.Equal(t, "ws://localhost/feed", cfg.URL)
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
	assert.Empty(t, cfg.Headers)
}

func TestParseConfigOverrides(t *testing.T) {
	cfg := parseConfig(map[string]any{
		"url":               "ws://localhost/feed",
		"headers":           map[string]any{"Authorization": "Bearer x"},
		"handshake_timeout": float64(2000),
	})
	assert.Equal(t, "Bearer x", cfg.Headers["Authorization"])
	assert.Equal(t, 2*time.Second, cfg.HandshakeTimeout)
}

func TestReceivedMessageEmitsSuccessEnvelope(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	})
	defer srv.Close()

	inbox := make(chan envelope.Envelope, 4)
	w, err := New("m1", map[string]any{"url": wsURL(srv.URL)}, inbox)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	select {
	case e := <-inbox:
		require.True(t, e.IsSuccess())
		assert.Equal(t, "hello", e.Data["message"])
	case <-time.After(2 * time.Second):
		t.Fatal("no success envelope received")
	}
}

func TestConnectionCloseEmitsErrorAndDoesNotAutoReconnect(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		_ = conn.Close()
	})
	defer srv.Close()

	inbox := make(chan envelope.Envelope, 4)
	w, err := New("m1", map[string]any{"url": wsURL(srv.URL)}, inbox)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	select {
	case e := <-inbox:
		require.False(t, e.IsSuccess())
		assert.Equal(t, envelope.ErrorNetwork, e.Error.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no error envelope received after connection close")
	}

	select {
	case <-inbox:
		t.Fatal("worker reconnected without an explicit recover command")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDialFailureEmitsNetworkError(t *testing.T) {
	inbox := make(chan envelope.Envelope, 1)
	w, err := New("m1", map[string]any{"url": "ws://127.0.0.1:1/feed"}, inbox)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	select {
	case e := <-inbox:
		require.False(t, e.IsSuccess())
		assert.Equal(t, envelope.ErrorNetwork, e.Error.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a network error envelope from a failed dial")
	}
}

func TestRecoverShutdownStopsReconnect(t *testing.T) {
	inbox := make(chan envelope.Envelope, 4)
	w, err := New("m1", map[string]any{"url": "ws://127.0.0.1:1/feed"}, inbox)
	require.NoError(t, err)
	ws := w.(*Worker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ws.Start(ctx)

	<-inbox // dial failure envelope

	ws.Recover(retry.Action{Command: retry.CommandShutdown})

	select {
	case <-ctx.Done():
		t.Fatal("worker context should be its own child, not the parent's")
	default:
	}

	ws.mu.Lock()
	cancelled := ws.ctx.Err() != nil
	ws.mu.Unlock()
	assert.True(t, cancelled)
}
