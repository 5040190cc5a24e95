package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/auth"
	"chat-relay/internal/media"
	"chat-relay/internal/mocks"
	"chat-relay/internal/protocol"
)

// newConnPair returns the two ends of a live websocket connection.
func newConnPair(t *testing.T) (serverConn, clientConn *websocket.Conn) {
	t.Helper()

	up := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server side of connection")
	}
	t.Cleanup(func() { serverConn.Close() })
	return serverConn, clientConn
}

func registeredClient(t *testing.T, hub *Hub, userID int64, username string) (*Client, *websocket.Conn) {
	t.Helper()
	serverConn, clientConn := newConnPair(t)
	c := NewClient(serverConn)
	c.UserID = userID
	c.Username = username
	hub.Register(c)
	return c, clientConn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Time{}))
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// newSessionServer stands up the full session handler behind a test server
// and returns the websocket URL to dial.
func newSessionServer(t *testing.T, users *mocks.UserRepositoryMock, messages *mocks.MessageRepositoryMock) (url string, hub *Hub, mediaDir string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub = NewHub()
	mediaDir = t.TempDir()
	store, err := media.NewStore(mediaDir)
	require.NoError(t, err)

	handler := NewSessionHandler(hub, auth.NewService(users), messages, store, NewSyncer(messages), nil, 10*1024*1024)

	router := gin.New()
	router.GET("/ws", handler.Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", hub, mediaDir
}

func dialSession(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForRegistered blocks until the hub holds n clients; session registration
// happens on the server goroutine after LOGIN_SUCCESS is written.
func waitForRegistered(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients (have %d)", n, hub.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
