package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/auth"
)

func newWSServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", hub.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestServeWS(t *testing.T) {
	t.Run("should upgrade and register a connection", func(t *testing.T) {
		router := newRecordingRouter()
		origins := auth.ParseAllowedOrigins("", []string{"http://localhost:3000"})
		hub := NewHub(router, origins, nil)
		srv := newWSServer(t, hub)

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

		require.NoError(t, conn.Close())
		require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("should refuse a disallowed origin during the handshake", func(t *testing.T) {
		router := newRecordingRouter()
		origins := auth.ParseAllowedOrigins("http://app.example.com", nil)
		hub := NewHub(router, origins, nil)
		srv := newWSServer(t, hub)

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		header := map[string][]string{"Origin": {"http://evil.example.com"}}
		conn, resp, err := websocket.DefaultDialer.Dial(url, header)
		require.Error(t, err)
		if resp != nil {
			resp.Body.Close()
		}
		require.Nil(t, conn)
		assert.Zero(t, hub.ConnectionCount())
	})

	t.Run("should round-trip an envelope over a real socket", func(t *testing.T) {
		router := newRecordingRouter()
		origins := auth.ParseAllowedOrigins("", []string{"http://localhost:3000"})
		hub := NewHub(router, origins, nil)
		srv := newWSServer(t, hub)

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"event":"create-room","payload":{"hostName":"Alice"}}`)))

		select {
		case <-router.routedSignal:
		case <-time.After(2 * time.Second):
			t.Fatal("envelope never reached the router")
		}
		assert.Equal(t, []string{"create-room"}, router.routedEvents())
	})
}

func TestByConnID(t *testing.T) {
	router := newRecordingRouter()
	hub := NewHub(router, nil, nil)
	ws := newFakeWS()
	client := hub.HandleConnection(ws)

	got, ok := hub.ByConnID(client.ConnID())
	require.True(t, ok)
	assert.Equal(t, client.ConnID(), got.ConnID())

	_, ok = hub.ByConnID("nope")
	assert.False(t, ok)

	client.Disconnect()
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	router := newRecordingRouter()
	hub := NewHub(router, nil, nil)
	hub.HandleConnection(newFakeWS())
	hub.HandleConnection(newFakeWS())
	require.Equal(t, 2, hub.ConnectionCount())

	require.NoError(t, hub.Shutdown(t.Context()))

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, router.disconnectCount())
}
