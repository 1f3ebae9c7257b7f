// Package bazaarws connects websocket transports to the connection registry.
//
// Two transports are provided: Gateway terminates websockets directly with
// gorilla/websocket, and Handler plus ManagementTransport serve connections
// held open by AWS API Gateway. Both authenticate through the registry on
// connect, touch it on every protocol message, and deregister on disconnect.
package bazaarws

import (
	"context"
	"errors"

	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
)

// ErrGone is returned when a message is addressed to a connection that no
// longer exists on the transport.
var ErrGone = errors.New("connection gone")

// Transport is what the registry's collaborators need from a connection transport.
type Transport interface {
	// Emit delivers a named event to one connection.
	Emit(ctx context.Context, connectionID, event string, payload interface{}) error
	// Close ends a connection, reporting why it was removed from the registry.
	Close(connectionID string, reason registry.Reason)
	// ConnectionIDs lists the open, authenticated connections.
	ConnectionIDs() []string
}

// SendToIdentity emits event to every connection of identity through t and
// deregisters connections the transport reports as gone. It returns the number
// of connections addressed.
func SendToIdentity(ctx context.Context, r *registry.Registry, t Transport, identity, event string, payload interface{}) int {
	return r.RouteToIdentity(identity, payload, func(connectionID string, payload interface{}) {
		if err := t.Emit(ctx, connectionID, event, payload); errors.Is(err, ErrGone) {
			r.Deregister(identity, connectionID)
		}
	})
}

// Sweeper returns a task that expires connections and closes them on t. It
// reports the number of connections swept to onSwept, when set.
func Sweeper(r *registry.Registry, t Transport, onSwept func(ctx context.Context, swept int)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		swept := r.SweepExpiredFunc(r.Now(), func(conn registry.Connection, reason registry.Reason) {
			t.Close(conn.ID, reason)
		})
		if onSwept != nil {
			onSwept(ctx, swept)
		}
		return nil
	}
}

// Transports combines transports whose connection ids do not overlap. Emit goes
// to the first transport that holds the connection.
type Transports []Transport

func (ts Transports) Emit(ctx context.Context, connectionID, event string, payload interface{}) error {
	for _, t := range ts {
		if err := t.Emit(ctx, connectionID, event, payload); !errors.Is(err, ErrGone) {
			return err
		}
	}
	return ErrGone
}

func (ts Transports) Close(connectionID string, reason registry.Reason) {
	for _, t := range ts {
		t.Close(connectionID, reason)
	}
}

func (ts Transports) ConnectionIDs() []string {
	var ids []string
	for _, t := range ts {
		ids = append(ids, t.ConnectionIDs()...)
	}
	return ids
}
