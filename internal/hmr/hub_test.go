package hmr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devloop-dev/devloop/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelError, Output: io.Discard})
}

// startTestHub runs a hub behind an httptest server and returns its ws URL.
func startTestHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub(prometheus.NewRegistry(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.handleConnection))
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialClient(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return hub.ClientCount() == want
	}, 3*time.Second, 10*time.Millisecond, "expected %d registered clients", want)
}

func readMessage(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return string(data)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub, url := startTestHub(t)

	first := dialClient(t, url)
	second := dialClient(t, url)
	waitForClients(t, hub, 2)

	hub.Broadcast(MessageReloadCSS)

	assert.Equal(t, MessageReloadCSS, readMessage(t, first))
	assert.Equal(t, MessageReloadCSS, readMessage(t, second))
}

func TestSubprotocolNegotiated(t *testing.T) {
	hub, url := startTestHub(t)

	conn := dialClient(t, url)
	assert.Equal(t, Subprotocol, conn.Subprotocol())
	waitForClients(t, hub, 1)
}

func TestDisconnectRemovesClient(t *testing.T) {
	hub, url := startTestHub(t)

	conn := dialClient(t, url)
	survivor := dialClient(t, url)
	waitForClients(t, hub, 2)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, hub, 1)

	// Broadcasting after the disconnect must still reach the survivor and
	// must not be attempted against the closed handle.
	hub.Broadcast(MessageReloadJS)
	assert.Equal(t, MessageReloadJS, readMessage(t, survivor))
}

func TestClientMessagesAreIgnored(t *testing.T) {
	hub, url := startTestHub(t)

	conn := dialClient(t, url)
	waitForClients(t, hub, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("hello server")))

	// The connection stays registered and broadcasts keep flowing.
	hub.Broadcast(MessageReloadCSS)
	assert.Equal(t, MessageReloadCSS, readMessage(t, conn))
}

func TestShutdownClosesConnections(t *testing.T) {
	hub, url := startTestHub(t)

	conn := dialClient(t, url)
	waitForClients(t, hub, 1)

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Equal(t, 0, hub.ClientCount())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "connection should be closed by shutdown")
}

func TestClientScript(t *testing.T) {
	script := ClientScript("localhost", 3010, false)
	assert.Contains(t, script, `"ws://localhost:3010"`)
	assert.Contains(t, script, Subprotocol)
	assert.Contains(t, script, MessageReloadCSS)
	assert.Contains(t, script, MessageReloadJS)

	secure := ClientScript("localhost", 3010, true)
	assert.Contains(t, secure, `"wss://localhost:3010"`)
}

func TestStartSecureUsesTLSListener(t *testing.T) {
	hub := NewHub(prometheus.NewRegistry(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// TLS material that fails to load proves the secure listener path is
	// taken; a plain listener would bind and return nil.
	err := hub.Start(ctx, "127.0.0.1", 0, "/nonexistent/cert.pem", "/nonexistent/key.pem")
	require.Error(t, err)
}

func TestStartPlainListenerWithoutTLSMaterial(t *testing.T) {
	hub := NewHub(prometheus.NewRegistry(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, hub.Start(ctx, "127.0.0.1", 0, "", ""))
	require.NoError(t, hub.Shutdown(context.Background()))
}

func TestNopBroadcasterNeverBlocks(t *testing.T) {
	done := make(chan struct{})
	go func() {
		var b NopBroadcaster
		for i := 0; i < 100; i++ {
			b.Broadcast(MessageReloadCSS)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NopBroadcaster blocked")
	}
}
