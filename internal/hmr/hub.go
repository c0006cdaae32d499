// Package hmr implements the live-reload broadcast server. Browser clients
// connect on the serving port plus a fixed offset using a distinguishing
// sub-protocol token; the hub fans reload notifications out to every
// registered connection and removes connections the moment they disconnect
// or fail.
package hmr

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/devloop-dev/devloop/internal/logging"
)

// Subprotocol distinguishes live-reload traffic from unrelated websocket
// usage on the same page.
const Subprotocol = "devloop-hmr"

// The two reload notifications clients understand.
const (
	MessageReloadCSS = "reload-css"
	MessageReloadJS  = "reload-js"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// client is one registered live-reload connection.
type client struct {
	conn *websocket.Conn
	send chan string
}

// Hub owns the connection registry and fans out broadcasts.
type Hub struct {
	logger logging.Logger

	clientsMutex sync.RWMutex
	clients      map[*websocket.Conn]*client

	register   chan *client
	unregister chan *websocket.Conn
	broadcast  chan string

	httpServer   *http.Server
	serverMutex  sync.Mutex
	shutdownOnce sync.Once

	connectedGauge prometheus.Gauge
}

// NewHub creates a live-reload hub.
func NewHub(reg prometheus.Registerer, logger logging.Logger) *Hub {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devloop_hmr_clients",
		Help: "Number of connected live-reload clients.",
	})
	reg.MustRegister(gauge)

	return &Hub{
		logger:         logger.WithComponent("hmr"),
		clients:        make(map[*websocket.Conn]*client),
		register:       make(chan *client),
		unregister:     make(chan *websocket.Conn),
		broadcast:      make(chan string),
		connectedGauge: gauge,
	}
}

// Start listens on host:port and runs the hub until ctx is cancelled. It
// returns once the listener is running. When TLS material is supplied the
// listener speaks HTTPS, matching the wss:// endpoint the injected client
// snippet connects to on secure pages.
func (h *Hub) Start(ctx context.Context, host string, port int, certFile, keyFile string) error {
	go h.run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleConnection)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	h.serverMutex.Lock()
	h.httpServer = server
	h.serverMutex.Unlock()

	errs := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" || keyFile != "" {
			err = server.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	// Give the listener a beat to surface bind errors.
	select {
	case err := <-errs:
		return fmt.Errorf("hmr server: %w", err)
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Broadcast sends msg to every registered connection. Send failures are
// isolated per connection and never abort delivery to the others.
func (h *Hub) Broadcast(msg string) {
	h.broadcast <- msg
}

// NopBroadcaster discards every notification. It stands in for the hub when
// live reload is disabled, so callers never block on a hub that is not
// running.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(string) {}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown closes all connections and stops the listener.
func (h *Hub) Shutdown(ctx context.Context) error {
	var err error
	h.shutdownOnce.Do(func() {
		h.clientsMutex.Lock()
		for conn, c := range h.clients {
			close(c.send)
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			delete(h.clients, conn)
		}
		h.connectedGauge.Set(0)
		h.clientsMutex.Unlock()

		h.serverMutex.Lock()
		server := h.httpServer
		h.serverMutex.Unlock()
		if server != nil {
			err = server.Shutdown(ctx)
		}
	})
	return err
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clientsMutex.Lock()
			h.clients[c.conn] = c
			h.connectedGauge.Set(float64(len(h.clients)))
			total := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Info(ctx, "client connected", "total", total)

		case conn := <-h.unregister:
			h.remove(ctx, conn)

		case msg := <-h.broadcast:
			h.clientsMutex.RLock()
			var failed []*websocket.Conn
			for conn, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Send buffer full; the connection is dead or hopelessly
					// behind. Mark it for removal and keep going.
					failed = append(failed, conn)
				}
			}
			h.clientsMutex.RUnlock()

			for _, conn := range failed {
				h.remove(ctx, conn)
			}
		}
	}
}

// remove drops a connection from the registry and closes it.
func (h *Hub) remove(ctx context.Context, conn *websocket.Conn) {
	h.clientsMutex.Lock()
	c, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		h.connectedGauge.Set(float64(len(h.clients)))
	}
	total := len(h.clients)
	h.clientsMutex.Unlock()

	if ok {
		close(c.send)
		conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Info(ctx, "client disconnected", "total", total)
	}
}

func (h *Hub) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
		// The hub binds a development port; origin enforcement would break
		// file:// and LAN workflows without protecting anything sensitive.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}

	if conn.Subprotocol() != Subprotocol {
		conn.Close(websocket.StatusPolicyViolation, "client must speak the "+Subprotocol+" subprotocol")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan string, 16),
	}

	go h.writePump(c)
	go h.readPump(c)

	h.register <- c
}

// readPump drains inbound messages. No client-to-server protocol exists;
// everything received is logged and discarded. Disconnects and transport
// errors unregister the connection.
func (h *Hub) readPump(c *client) {
	ctx := context.Background()
	defer func() {
		h.unregister <- c.conn
	}()

	c.conn.SetReadLimit(512)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				h.logger.Debug(ctx, "read ended", "reason", err.Error())
			}
			return
		}
		h.logger.Info(ctx, "message from client", "message", string(data))
	}
}

// writePump delivers queued broadcasts and keepalive pings to one client.
func (h *Hub) writePump(c *client) {
	ctx := context.Background()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, []byte(msg))
			cancel()
			if err != nil {
				// readPump will observe the broken connection and
				// unregister it.
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
