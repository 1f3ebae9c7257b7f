package bazaarws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/rs/zerolog"
)

const defaultCloseTimeout = 5 * time.Second

// ManagementTransport delivers to connections held open by API Gateway through
// its management API.
type ManagementTransport struct {
	Logger zerolog.Logger
	// NewClient builds the management client for an endpoint; a session based
	// client is used when nil.
	NewClient    func(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
	CloseTimeout time.Duration

	// mgmtClients caches management clients by endpoint
	mgmtMu      sync.RWMutex
	mgmtClients map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	// endpoints maps connection id to the endpoint that owns it
	endpointsMu sync.Mutex
	endpoints   map[string]string
}

// Endpoint returns the management endpoint of the stage that received req.
func Endpoint(req events.APIGatewayWebsocketProxyRequest) string {
	return fmt.Sprintf("https://%s/%s", req.RequestContext.DomainName, req.RequestContext.Stage)
}

// Remember records the endpoint of an authenticated connection.
func (m *ManagementTransport) Remember(connectionID, endpoint string) {
	m.endpointsMu.Lock()
	defer m.endpointsMu.Unlock()
	if m.endpoints == nil {
		m.endpoints = make(map[string]string)
	}
	m.endpoints[connectionID] = endpoint
}

func (m *ManagementTransport) Forget(connectionID string) {
	m.endpointsMu.Lock()
	defer m.endpointsMu.Unlock()
	delete(m.endpoints, connectionID)
}

func (m *ManagementTransport) endpoint(connectionID string) (string, bool) {
	m.endpointsMu.Lock()
	defer m.endpointsMu.Unlock()
	endpoint, ok := m.endpoints[connectionID]
	return endpoint, ok
}

func (m *ManagementTransport) ConnectionIDs() []string {
	m.endpointsMu.Lock()
	ids := make([]string, 0, len(m.endpoints))
	for id := range m.endpoints {
		ids = append(ids, id)
	}
	m.endpointsMu.Unlock()

	sort.Strings(ids)
	return ids
}

// Post writes raw data to a connection.
func (m *ManagementTransport) Post(ctx context.Context, connectionID string, data []byte) error {
	endpoint, ok := m.endpoint(connectionID)
	if !ok {
		return ErrGone
	}
	return m.post(ctx, endpoint, connectionID, data)
}

func (m *ManagementTransport) post(ctx context.Context, endpoint, connectionID string, data []byte) error {
	_, err := m.getManagementClient(endpoint).PostToConnectionWithContext(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	if err != nil {
		if isGoneException(err) {
			m.Forget(connectionID)
			return fmt.Errorf("posting to connection %v: %w", connectionID, ErrGone)
		}
		return fmt.Errorf("posting to connection %v: %w", connectionID, err)
	}
	return nil
}

func (m *ManagementTransport) Emit(ctx context.Context, connectionID, event string, payload interface{}) error {
	msg, err := EventMessage(event, payload)
	if err != nil {
		return err
	}
	return m.Post(ctx, connectionID, msg)
}

// Close tells the client why it is being disconnected, then deletes the
// connection. API Gateway has no close codes, so the reason travels in an
// error message.
func (m *ManagementTransport) Close(connectionID string, reason registry.Reason) {
	endpoint, ok := m.endpoint(connectionID)
	if !ok {
		return
	}
	m.Forget(connectionID)

	timeout := m.CloseTimeout
	if timeout <= 0 {
		timeout = defaultCloseTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger := m.Logger.With().Str("connection_id", connectionID).Str("reason", string(reason)).Logger()

	notice := ErrorMessage("", fmt.Sprintf("connection closed (%d): %v", CloseCode(reason), reason))
	if err := m.post(ctx, endpoint, connectionID, notice); err != nil && !errors.Is(err, ErrGone) {
		logger.Debug().Err(err).Msg("failed to send close notice")
	}

	_, err := m.getManagementClient(endpoint).DeleteConnectionWithContext(ctx, &apigatewaymanagementapi.DeleteConnectionInput{
		ConnectionId: aws.String(connectionID),
	})
	if err != nil && !isGoneException(err) {
		logger.Error().Err(err).Msg("failed to delete connection")
		return
	}
	logger.Debug().Msg("connection deleted")
}

func (m *ManagementTransport) getManagementClient(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	m.mgmtMu.RLock()
	if client, ok := m.mgmtClients[endpoint]; ok {
		m.mgmtMu.RUnlock()
		return client
	}
	m.mgmtMu.RUnlock()

	m.mgmtMu.Lock()
	defer m.mgmtMu.Unlock()

	// Double-check after acquiring write lock
	if client, ok := m.mgmtClients[endpoint]; ok {
		return client
	}

	if m.mgmtClients == nil {
		m.mgmtClients = make(map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI)
	}

	var client apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
	if m.NewClient != nil {
		client = m.NewClient(endpoint)
	} else {
		sess := session.Must(session.NewSession(aws.NewConfig().WithEndpoint(endpoint)))
		client = apigatewaymanagementapi.New(sess)
	}
	m.mgmtClients[endpoint] = client
	return client
}

// isGoneException checks if the error is a GoneException (HTTP 410),
// indicating the WebSocket connection no longer exists.
func isGoneException(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == apigatewaymanagementapi.ErrCodeGoneException {
		return true
	}
	return strings.Contains(err.Error(), "GoneException")
}
