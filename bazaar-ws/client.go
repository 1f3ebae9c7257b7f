package bazaarws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type client struct {
	id      string
	gateway *Gateway
	conn    *websocket.Conn
	logger  zerolog.Logger

	send chan []byte
	done chan struct{}

	// mu orders the ack ahead of any event emitted once the registry knows
	// the connection.
	mu       sync.Mutex
	identity string
	authed   atomic.Bool

	closeOnce sync.Once
	closeCode int
	closeText string
}

func newClient(g *Gateway, id string, conn *websocket.Conn) *client {
	return &client{
		id:      id,
		gateway: g,
		conn:    conn,
		logger:  g.Logger.With().Str("connection_id", id).Logger(),
		send:    make(chan []byte, g.sendBuffer()),
		done:    make(chan struct{}),
	}
}

func (c *client) authenticated() bool {
	return c.authed.Load()
}

// close asks the write pump to send a close frame and drop the socket.
func (c *client) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

func (c *client) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return ErrGone
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn().Msg("send buffer full, closing slow consumer")
		c.close(websocket.ClosePolicyViolation, "slow consumer")
		return ErrSlowConsumer
	}
}

func (c *client) emit(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == "" {
		return ErrGone
	}
	return c.enqueue(msg)
}

func (c *client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.gateway.writeTimeout())); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.gateway.pingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.flush()
			if c.closeCode != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.gateway.writeTimeout()))
			}
			return
		}
	}
}

// flush writes whatever was queued before the connection was closed.
func (c *client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) readPump(req *http.Request) {
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	defer c.finish()

	c.conn.SetReadLimit(maxMessageSize)
	if !c.handshake(ctx, req) {
		return
	}

	pongWait := 2 * c.gateway.pingInterval()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("connection dropped")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(ctx, data)
	}
}

// handshake waits for connection_init and authenticates the connection.
func (c *client) handshake(ctx context.Context, req *http.Request) bool {
	deadline := time.Now().Add(c.gateway.authTimeout())
	_ = c.conn.SetReadDeadline(deadline)

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.logger.Info().Msg("connection_init not received in time")
			c.close(CloseInitTimeout, "connection initialisation timeout")
			return false
		}
		c.close(websocket.CloseNormalClosure, "")
		return false
	}

	msg, err := ParseMessage(data)
	if err != nil || msg.Type != MsgConnectionInit {
		c.close(CloseUnauthorized, "unauthorized")
		return false
	}

	authCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	handshake := NewHTTPHandshake(req, msg.InitPayload())

	c.mu.Lock()
	auth, ok := c.gateway.Registry.Authenticate(authCtx, c.id, handshake, c.gateway.extractor())
	if ok {
		c.identity = auth.Connection.Identity
		c.authed.Store(true)
		_ = c.enqueue(AckMessage())
	}
	c.mu.Unlock()

	if !ok {
		c.close(CloseUnauthorized, registry.FailureReason(auth.Err))
		return false
	}
	if auth.Evicted != nil {
		c.gateway.evictions().Close(auth.Evicted.ID, registry.ReasonQuota)
	}
	return true
}

func (c *client) handle(ctx context.Context, data []byte) {
	c.gateway.Registry.Touch(c.id)

	msg, err := ParseMessage(data)
	if err != nil {
		_ = c.enqueue(ErrorMessage("", err.Error()))
		return
	}

	switch msg.Type {
	case MsgPing:
		_ = c.enqueue(PongMessage())
	case MsgPong:
	case MsgConnectionInit:
		c.close(CloseAlreadyInitiated, "too many initialisation requests")
	default:
		if c.gateway.OnMessage == nil {
			_ = c.enqueue(ErrorMessage(msg.ID, "unsupported message type "+msg.Type))
			return
		}
		conn, ok := c.gateway.Registry.Lookup(c.id)
		if !ok {
			return
		}
		if err := c.gateway.OnMessage(ctx, conn, msg); err != nil {
			_ = c.enqueue(ErrorMessage(msg.ID, err.Error()))
		}
	}
}

// finish releases the connection once its read loop ends. Deregistering is a
// no-op when the registry already dropped the connection.
func (c *client) finish() {
	c.close(websocket.CloseNormalClosure, "")
	c.gateway.remove(c)

	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()
	if identity != "" {
		c.gateway.Registry.Deregister(identity, c.id)
	}
	c.logger.Debug().Msg("connection closed")
}
