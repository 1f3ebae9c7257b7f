package bazaarws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/publish"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

type emitted struct {
	ConnectionID string
	Event        string
	Payload      string
}

type recordingTransport struct {
	mu      sync.Mutex
	emitted []emitted
	gone    map[string]bool
	failing map[string]bool
	closed  map[string]registry.Reason
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{
		gone:    map[string]bool{},
		failing: map[string]bool{},
		closed:  map[string]registry.Reason{},
	}
}

func (r *recordingTransport) Emit(_ context.Context, connectionID, event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone[connectionID] {
		return ErrGone
	}
	if r.failing[connectionID] {
		return errors.New("throttled")
	}
	b, _ := json.Marshal(payload)
	r.emitted = append(r.emitted, emitted{ConnectionID: connectionID, Event: event, Payload: string(b)})
	return nil
}

func (r *recordingTransport) Close(connectionID string, reason registry.Reason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed[connectionID] = reason
}

func (r *recordingTransport) ConnectionIDs() []string { return nil }

func envelope(t *testing.T, identity, event, payload string) []byte {
	t.Helper()
	b, err := json.Marshal(publish.Envelope{Identity: identity, Event: event, Payload: json.RawMessage(payload)})
	assert.Nil(t, err)
	return b
}

func authenticate(t *testing.T, r *registry.Registry, connectionID, identity string) {
	t.Helper()
	_, ok := r.Authenticate(context.Background(), connectionID, Handshake{Payload: map[string]interface{}{"token": "identity:" + identity}}, DefaultExtractor)
	assert.True(t, ok)
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("fans out to every connection of the identity", func(t *testing.T) {
		r, _ := newTestRegistry(registry.DefaultConfig())
		transport := newRecordingTransport()
		d := &Dispatcher{Registry: r, Transport: transport, Logger: zerolog.Nop(), Concurrency: 2}

		for _, id := range []string{"c1", "c2", "c3"} {
			authenticate(t, r, id, "u1")
		}
		authenticate(t, r, "c4", "u2")

		err := d.Dispatch(ctx, envelope(t, "u1", "order.paid", `{"order":"o1"}`))
		assert.Nil(t, err)

		assert.Len(t, transport.emitted, 3)
		seen := map[string]bool{}
		for _, e := range transport.emitted {
			seen[e.ConnectionID] = true
			assert.Equal(t, "order.paid", e.Event)
			assert.JSONEq(t, `{"order":"o1"}`, e.Payload)
		}
		assert.Equal(t, map[string]bool{"c1": true, "c2": true, "c3": true}, seen)
	})

	t.Run("gone connections are deregistered", func(t *testing.T) {
		r, _ := newTestRegistry(registry.DefaultConfig())
		transport := newRecordingTransport()
		transport.gone["c2"] = true
		d := &Dispatcher{Registry: r, Transport: transport, Logger: zerolog.Nop()}

		authenticate(t, r, "c1", "u1")
		authenticate(t, r, "c2", "u1")

		assert.Nil(t, d.Dispatch(ctx, envelope(t, "u1", "ping", `{}`)))
		assert.Equal(t, 1, r.ConnectionCountForIdentity("u1"))
		_, found := r.Lookup("c2")
		assert.False(t, found)
	})

	t.Run("other failures are reported", func(t *testing.T) {
		r, _ := newTestRegistry(registry.DefaultConfig())
		transport := newRecordingTransport()
		transport.failing["c1"] = true
		d := &Dispatcher{Registry: r, Transport: transport, Logger: zerolog.Nop()}

		authenticate(t, r, "c1", "u1")

		err := d.Dispatch(ctx, envelope(t, "u1", "ping", `{}`))
		assert.NotNil(t, err)
		assert.Equal(t, 1, r.TotalConnections())
	})

	t.Run("unknown identity and bad records", func(t *testing.T) {
		r, _ := newTestRegistry(registry.DefaultConfig())
		transport := newRecordingTransport()
		d := &Dispatcher{Registry: r, Transport: transport, Logger: zerolog.Nop()}

		assert.Nil(t, d.Dispatch(ctx, envelope(t, "nobody", "x", `{}`)))
		assert.Nil(t, d.Dispatch(ctx, envelope(t, "", "x", `{}`)))
		assert.NotNil(t, d.Dispatch(ctx, []byte("{")))
		assert.Empty(t, transport.emitted)
	})

	t.Run("kinesis batch continues past bad records", func(t *testing.T) {
		r, _ := newTestRegistry(registry.DefaultConfig())
		transport := newRecordingTransport()
		d := &Dispatcher{Registry: r, Transport: transport, Logger: zerolog.Nop()}
		authenticate(t, r, "c1", "u1")

		batch := events.KinesisEvent{
			Records: []events.KinesisEventRecord{
				{EventID: "1", Kinesis: events.KinesisRecord{Data: []byte("garbage")}},
				{EventID: "2", Kinesis: events.KinesisRecord{Data: envelope(t, "u1", "auction.closed", `{"auction":"a1"}`)}},
			},
		}
		assert.Nil(t, d.HandleKinesisEvent(ctx, batch))
		assert.Len(t, transport.emitted, 1)
		assert.Equal(t, "auction.closed", transport.emitted[0].Event)
	})
}
