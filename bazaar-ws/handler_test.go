package bazaarws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

type fakeManagementAPI struct {
	apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	mu      sync.Mutex
	posts   map[string][][]byte
	deleted []string
	gone    map[string]bool
}

func newFakeManagementAPI() *fakeManagementAPI {
	return &fakeManagementAPI{
		posts: map[string][][]byte{},
		gone:  map[string]bool{},
	}
}

func (f *fakeManagementAPI) PostToConnectionWithContext(_ aws.Context, input *apigatewaymanagementapi.PostToConnectionInput, _ ...request.Option) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.StringValue(input.ConnectionId)
	if f.gone[id] {
		return nil, awserr.New(apigatewaymanagementapi.ErrCodeGoneException, "gone", nil)
	}
	f.posts[id] = append(f.posts[id], input.Data)
	return &apigatewaymanagementapi.PostToConnectionOutput{}, nil
}

func (f *fakeManagementAPI) DeleteConnectionWithContext(_ aws.Context, input *apigatewaymanagementapi.DeleteConnectionInput, _ ...request.Option) (*apigatewaymanagementapi.DeleteConnectionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.StringValue(input.ConnectionId))
	return &apigatewaymanagementapi.DeleteConnectionOutput{}, nil
}

func (f *fakeManagementAPI) messages(t *testing.T, connectionID string) []Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var msgs []Message
	for _, data := range f.posts[connectionID] {
		msg, err := ParseMessage(data)
		assert.Nil(t, err)
		msgs = append(msgs, *msg)
	}
	return msgs
}

func newTestHandler(cfg registry.Config) (*Handler, *fakeManagementAPI, *registry.Registry) {
	api := newFakeManagementAPI()
	r, _ := newTestRegistry(cfg)
	transport := &ManagementTransport{
		Logger: zerolog.Nop(),
		NewClient: func(string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
			return api
		},
	}
	return &Handler{
		Registry:  r,
		Transport: transport,
		Logger:    zerolog.Nop(),
	}, api, r
}

func wsEvent(route, connectionID string) events.APIGatewayWebsocketProxyRequest {
	return events.APIGatewayWebsocketProxyRequest{
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			RouteKey:     route,
			ConnectionID: connectionID,
			DomainName:   "abc.execute-api.us-east-2.amazonaws.com",
			Stage:        "live",
		},
	}
}

func connectEvent(connectionID, token string) events.APIGatewayWebsocketProxyRequest {
	req := wsEvent("$connect", connectionID)
	req.QueryStringParameters = map[string]string{"token": token}
	return req
}

func messageEvent(connectionID, body string) events.APIGatewayWebsocketProxyRequest {
	req := wsEvent("$default", connectionID)
	req.Body = body
	return req
}

func TestHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("connect, ack, ping, disconnect", func(t *testing.T) {
		h, api, r := newTestHandler(registry.DefaultConfig())

		resp, err := h.HandleEvent(ctx, connectEvent("c1", "identity:u1"))
		assert.Nil(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, r.ConnectionCountForIdentity("u1"))
		assert.Equal(t, []string{"c1"}, h.Transport.ConnectionIDs())

		resp, err = h.HandleEvent(ctx, messageEvent("c1", `{"type":"connection_init"}`))
		assert.Nil(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		_, err = h.HandleEvent(ctx, messageEvent("c1", `{"type":"ping"}`))
		assert.Nil(t, err)

		msgs := api.messages(t, "c1")
		assert.Len(t, msgs, 2)
		assert.Equal(t, MsgConnectionAck, msgs[0].Type)
		assert.Equal(t, MsgPong, msgs[1].Type)

		resp, err = h.HandleEvent(ctx, wsEvent("$disconnect", "c1"))
		assert.Nil(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 0, r.TotalConnections())
		assert.Empty(t, h.Transport.ConnectionIDs())
	})

	t.Run("rejects bad token", func(t *testing.T) {
		h, _, r := newTestHandler(registry.DefaultConfig())

		resp, err := h.HandleEvent(ctx, connectEvent("c1", "forged"))
		assert.Nil(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid", resp.Body)
		assert.Equal(t, 0, r.TotalConnections())

		resp, err = h.HandleEvent(ctx, wsEvent("$connect", "c2"))
		assert.Nil(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "missing_credential", resp.Body)
	})

	t.Run("authorization header in any case", func(t *testing.T) {
		h, _, r := newTestHandler(registry.DefaultConfig())

		req := wsEvent("$connect", "c1")
		req.Headers = map[string]string{"authorization": "Bearer identity:u3"}
		resp, err := h.HandleEvent(ctx, req)
		assert.Nil(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, r.ConnectionCountForIdentity("u3"))
	})

	t.Run("quota eviction deletes the oldest", func(t *testing.T) {
		cfg := registry.DefaultConfig()
		cfg.MaxConnectionsPerIdentity = 1
		h, api, r := newTestHandler(cfg)

		_, err := h.HandleEvent(ctx, connectEvent("c1", "identity:u1"))
		assert.Nil(t, err)
		_, err = h.HandleEvent(ctx, connectEvent("c2", "identity:u1"))
		assert.Nil(t, err)

		assert.Equal(t, []string{"c1"}, api.deleted)
		msgs := api.messages(t, "c1")
		assert.Len(t, msgs, 1)
		assert.Equal(t, MsgError, msgs[0].Type)
		assert.Equal(t, []string{"c2"}, h.Transport.ConnectionIDs())

		conns := r.Connections("u1")
		assert.Len(t, conns, 1)
		assert.Equal(t, "c2", conns[0].ID)

		// API Gateway still reports the disconnect of the evicted connection
		_, err = h.HandleEvent(ctx, wsEvent("$disconnect", "c1"))
		assert.Nil(t, err)
		assert.Equal(t, 1, r.TotalConnections())
	})

	t.Run("message from unknown connection", func(t *testing.T) {
		h, _, _ := newTestHandler(registry.DefaultConfig())

		resp, err := h.HandleEvent(ctx, messageEvent("ghost", `{"type":"ping"}`))
		assert.Nil(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("invalid message", func(t *testing.T) {
		h, _, _ := newTestHandler(registry.DefaultConfig())
		_, _ = h.HandleEvent(ctx, connectEvent("c1", "identity:u1"))

		resp, err := h.HandleEvent(ctx, messageEvent("c1", `not json`))
		assert.Nil(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown route", func(t *testing.T) {
		h, _, _ := newTestHandler(registry.DefaultConfig())
		resp, err := h.HandleEvent(ctx, wsEvent("$weird", "c1"))
		assert.Nil(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("message hook", func(t *testing.T) {
		h, api, _ := newTestHandler(registry.DefaultConfig())
		h.OnMessage = func(_ context.Context, conn registry.Connection, msg *Message) error {
			return errors.New("rejected " + msg.Type + " from " + conn.Identity)
		}
		_, _ = h.HandleEvent(ctx, connectEvent("c1", "identity:u1"))

		_, err := h.HandleEvent(ctx, messageEvent("c1", `{"id":"3","type":"subscribe"}`))
		assert.Nil(t, err)

		msgs := api.messages(t, "c1")
		assert.Len(t, msgs, 1)
		assert.Equal(t, "3", msgs[0].ID)
		assert.JSONEq(t, `{"message":"rejected subscribe from u1"}`, string(msgs[0].Payload))
	})
}

func TestManagementTransport(t *testing.T) {
	ctx := context.Background()
	h, api, r := newTestHandler(registry.DefaultConfig())
	_, _ = h.HandleEvent(ctx, connectEvent("c1", "identity:u1"))
	_, _ = h.HandleEvent(ctx, connectEvent("c2", "identity:u1"))

	t.Run("send to identity drops gone connections", func(t *testing.T) {
		api.mu.Lock()
		api.gone["c2"] = true
		api.mu.Unlock()

		n := SendToIdentity(ctx, r, h.Transport, "u1", "order.shipped", map[string]string{"order": "o1"})
		assert.Equal(t, 2, n)

		msgs := api.messages(t, "c1")
		assert.Len(t, msgs, 1)
		assert.Equal(t, "order.shipped", msgs[0].Event)

		assert.Equal(t, 1, r.ConnectionCountForIdentity("u1"))
		assert.Equal(t, []string{"c1"}, h.Transport.ConnectionIDs())
	})

	t.Run("emit to unknown connection", func(t *testing.T) {
		err := h.Transport.Emit(ctx, "nope", "x", nil)
		assert.True(t, errors.Is(err, ErrGone))
	})

	t.Run("close is idempotent", func(t *testing.T) {
		h.Transport.Close("c1", registry.ReasonLifetime)
		h.Transport.Close("c1", registry.ReasonLifetime)

		api.mu.Lock()
		defer api.mu.Unlock()
		assert.Equal(t, []string{"c1"}, api.deleted)
	})
}

func TestHandlerHTTP(t *testing.T) {
	h, _, r := newTestHandler(registry.DefaultConfig())

	body, err := json.Marshal(connectEvent("c1", "identity:u1"))
	assert.Nil(t, err)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/apigw", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp events.APIGatewayProxyResponse
	assert.Nil(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, r.TotalConnections())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/apigw", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIsGoneException(t *testing.T) {
	assert.True(t, isGoneException(awserr.New(apigatewaymanagementapi.ErrCodeGoneException, "", nil)))
	assert.False(t, isGoneException(errors.New("timeout")))
}
