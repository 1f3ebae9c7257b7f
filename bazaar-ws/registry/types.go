package registry

import (
	"context"
	"time"
)

// Connection is the registry's view of one authenticated transport session.
type Connection struct {
	ID             string    `json:"connectionId"`
	Identity       string    `json:"identity"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Stats summarises the registry at a point in time.
type Stats struct {
	TotalConnections              int     `json:"totalConnections"`
	UniqueIdentities              int     `json:"uniqueIdentities"`
	AverageConnectionsPerIdentity float64 `json:"averageConnectionsPerIdentity"`
}

// Reason explains why a connection left the registry.
type Reason string

const (
	ReasonDisconnect Reason = "disconnect"
	ReasonQuota      Reason = "quota"
	ReasonInactive   Reason = "inactive"
	ReasonLifetime   Reason = "lifetime"
	ReasonReplaced   Reason = "replaced"
)

// Handshake exposes the transport specific places a credential may be found.
type Handshake interface {
	Header(name string) string
	Auth(key string) string
	Query(name string) string
}

// CredentialExtractor returns the bearer credential found in a handshake, or ""
// when there is none.
type CredentialExtractor func(h Handshake) string

// Verifier validates a bearer credential and resolves the identity it belongs to.
type Verifier interface {
	Verify(ctx context.Context, credential string) (identity string, err error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, credential string) (string, error)

func (f VerifierFunc) Verify(ctx context.Context, credential string) (string, error) {
	return f(ctx, credential)
}

// Observer is notified after every registry mutation, in the order the
// mutations were applied. Calls are made outside the registry lock, so an
// observer may query the registry, but it must not mutate it: a mutation made
// from inside a notification waits for that notification to finish.
type Observer interface {
	Registered(conn Connection)
	Deregistered(conn Connection, reason Reason)
	AuthFailed(connectionID string, err error)
}

// Clock returns the current time. Tests substitute a manual clock.
type Clock func() time.Time

// Authentication is the outcome of Authenticate.
type Authentication struct {
	Connection Connection
	// Evicted is the connection removed to make room under the per identity
	// quota. The caller owns closing its transport.
	Evicted *Connection
	Err     error
}
