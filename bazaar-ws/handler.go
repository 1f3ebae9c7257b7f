package bazaarws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/rs/zerolog"
)

// Handler handles WebSocket API Gateway events.
type Handler struct {
	Registry    *registry.Registry
	Transport   *ManagementTransport
	Extract     registry.CredentialExtractor // DefaultExtractor when nil
	AuthTimeout time.Duration
	OnMessage   MessageFunc
	Logger      zerolog.Logger
	// Evictions closes connections evicted under the per identity quota. It
	// must reach every transport sharing Registry; Transport when nil.
	Evictions Transport
}

func (h *Handler) evictions() Transport {
	if h.Evictions == nil {
		return h.Transport
	}
	return h.Evictions
}

// HandleEvent routes an API Gateway WebSocket event to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := h.Logger.With().
		Str("connection_id", req.RequestContext.ConnectionID).
		Str("route", req.RequestContext.RouteKey).
		Logger()

	switch req.RequestContext.RouteKey {
	case "$connect":
		return h.handleConnect(ctx, logger, req)
	case "$disconnect":
		return h.handleDisconnect(logger, req)
	case "$default":
		return h.handleMessage(ctx, logger, req)
	default:
		logger.Warn().Msg("unknown route")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
	}
}

func (h *Handler) handleConnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID

	timeout := h.AuthTimeout
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	extract := h.Extract
	if extract == nil {
		extract = DefaultExtractor
	}

	auth, ok := h.Registry.Authenticate(ctx, connID, NewAPIGatewayHandshake(req), extract)
	if !ok {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusUnauthorized,
			Body:       registry.FailureReason(auth.Err),
		}, nil
	}

	h.Transport.Remember(connID, Endpoint(req))
	if auth.Evicted != nil {
		h.evictions().Close(auth.Evicted.ID, registry.ReasonQuota)
	}

	logger.Info().Str("identity", auth.Connection.Identity).Msg("connection established")
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

func (h *Handler) handleDisconnect(logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID

	if conn, ok := h.Registry.Lookup(connID); ok {
		h.Registry.Deregister(conn.Identity, connID)
	}
	h.Transport.Forget(connID)

	logger.Info().Msg("connection closed")
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

func (h *Handler) handleMessage(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID

	conn, ok := h.Registry.Lookup(connID)
	if !ok {
		logger.Warn().Msg("message from unregistered connection")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusForbidden}, nil
	}
	h.Registry.Touch(connID)

	msg, err := ParseMessage([]byte(req.Body))
	if err != nil {
		logger.Warn().Err(err).Msg("invalid message")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
	}

	var reply []byte
	switch msg.Type {
	case MsgConnectionInit:
		reply = AckMessage()
	case MsgPing:
		reply = PongMessage()
	case MsgPong:
	default:
		if h.OnMessage == nil {
			reply = ErrorMessage(msg.ID, "unsupported message type "+msg.Type)
		} else if err := h.OnMessage(ctx, conn, msg); err != nil {
			reply = ErrorMessage(msg.ID, err.Error())
		}
	}

	if reply != nil {
		if err := h.Transport.Post(ctx, connID, reply); err != nil {
			logger.Error().Err(err).Str("type", msg.Type).Msg("failed to reply")
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

// ServeHTTP accepts API Gateway websocket events forwarded by an HTTP
// integration and answers with the proxy response.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var event events.APIGatewayWebsocketProxyRequest
	if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
		http.Error(w, "invalid websocket event", http.StatusBadRequest)
		return
	}

	resp, err := h.HandleEvent(req.Context(), event)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
