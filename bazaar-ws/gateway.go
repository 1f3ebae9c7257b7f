package bazaarws

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultAuthTimeout  = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultSendBuffer   = 64

	maxMessageSize = 64 << 10
)

var ErrSlowConsumer = errors.New("send buffer full")

// MessageFunc handles a protocol message the gateway does not handle itself.
// A returned error is reported to the client as an error message.
type MessageFunc func(ctx context.Context, conn registry.Connection, msg *Message) error

// Gateway terminates websocket connections and registers them with Registry.
//
// A client must send connection_init within AuthTimeout of the upgrade. The
// credential is taken from the upgrade request and the init payload using
// Extract; rejected clients are closed with CloseUnauthorized and leave no trace
// in the registry.
type Gateway struct {
	Registry     *registry.Registry
	Extract      registry.CredentialExtractor // DefaultExtractor when nil
	Logger       zerolog.Logger
	AuthTimeout  time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	OnMessage    MessageFunc
	Upgrader     websocket.Upgrader
	// Evictions closes connections evicted under the per identity quota. It
	// must reach every transport sharing Registry; the gateway itself when nil.
	Evictions Transport

	mu       sync.Mutex
	clients  map[string]*client
	shutdown bool
	wg       sync.WaitGroup
}

func (g *Gateway) extractor() registry.CredentialExtractor {
	if g.Extract == nil {
		return DefaultExtractor
	}
	return g.Extract
}

func (g *Gateway) evictions() Transport {
	if g.Evictions == nil {
		return g
	}
	return g.Evictions
}

func (g *Gateway) authTimeout() time.Duration {
	if g.AuthTimeout <= 0 {
		return DefaultAuthTimeout
	}
	return g.AuthTimeout
}

func (g *Gateway) pingInterval() time.Duration {
	if g.PingInterval <= 0 {
		return DefaultPingInterval
	}
	return g.PingInterval
}

func (g *Gateway) writeTimeout() time.Duration {
	if g.WriteTimeout <= 0 {
		return DefaultWriteTimeout
	}
	return g.WriteTimeout
}

func (g *Gateway) sendBuffer() int {
	if g.SendBuffer <= 0 {
		return DefaultSendBuffer
	}
	return g.SendBuffer
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	g.mu.Lock()
	if g.shutdown {
		g.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	conn, err := g.Upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied to the client
		g.Logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(g, uuid.NewString(), conn)
	g.add(c)
	c.logger.Debug().Str("remote_addr", req.RemoteAddr).Msg("connection opened")

	go c.writePump()
	c.readPump(req)
}

func (g *Gateway) add(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients == nil {
		g.clients = make(map[string]*client)
	}
	g.clients[c.id] = c
}

func (g *Gateway) remove(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients[c.id] == c {
		delete(g.clients, c.id)
	}
}

func (g *Gateway) client(connectionID string) *client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clients[connectionID]
}

func (g *Gateway) snapshot() []*client {
	g.mu.Lock()
	defer g.mu.Unlock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	return clients
}

// Emit queues an event for one authenticated connection.
func (g *Gateway) Emit(_ context.Context, connectionID, event string, payload interface{}) error {
	c := g.client(connectionID)
	if c == nil {
		return ErrGone
	}
	msg, err := EventMessage(event, payload)
	if err != nil {
		return err
	}
	return c.emit(msg)
}

// Close closes a connection with the close code for reason. The connection is
// closed at most once; later calls are ignored.
func (g *Gateway) Close(connectionID string, reason registry.Reason) {
	if c := g.client(connectionID); c != nil {
		c.close(CloseCode(reason), string(reason))
	}
}

// ConnectionIDs returns the ids of open, authenticated connections.
func (g *Gateway) ConnectionIDs() []string {
	var ids []string
	for _, c := range g.snapshot() {
		if c.authenticated() {
			ids = append(ids, c.id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ConnectionCount returns the number of open sockets, authenticated or not.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

func (g *Gateway) SendToIdentity(ctx context.Context, identity, event string, payload interface{}) int {
	return SendToIdentity(ctx, g.Registry, g, identity, event, payload)
}

// Shutdown stops accepting connections, closes open ones with CloseGoingAway
// and waits for their handlers to return.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.shutdown = true
	g.mu.Unlock()

	for _, c := range g.snapshot() {
		c.close(CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
