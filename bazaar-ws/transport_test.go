package bazaarws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/tj/assert"
)

func TestTransports(t *testing.T) {
	a, b := newRecordingTransport(), newRecordingTransport()
	a.gone["c2"] = true
	b.failing["c3"] = true
	ts := Transports{a, b}

	assert.Nil(t, ts.Emit(context.Background(), "c1", "x", nil))
	assert.Len(t, a.emitted, 1)
	assert.Empty(t, b.emitted)

	assert.Nil(t, ts.Emit(context.Background(), "c2", "x", nil))
	assert.Len(t, b.emitted, 1)
	assert.Equal(t, "c2", b.emitted[0].ConnectionID)

	a.gone["c3"] = true
	assert.EqualError(t, ts.Emit(context.Background(), "c3", "x", nil), "throttled")

	a.gone["c4"], b.gone["c4"] = true, true
	assert.True(t, errors.Is(ts.Emit(context.Background(), "c4", "x", nil), ErrGone))

	ts.Close("c1", registry.ReasonInactive)
	assert.Equal(t, registry.ReasonInactive, a.closed["c1"])
	assert.Equal(t, registry.ReasonInactive, b.closed["c1"])
}

func TestSendToIdentity(t *testing.T) {
	r, _ := newTestRegistry(registry.DefaultConfig())
	authenticate(t, r, "c1", "alice")
	authenticate(t, r, "c2", "alice")
	authenticate(t, r, "c3", "bob")

	transport := newRecordingTransport()
	transport.gone["c2"] = true

	n := SendToIdentity(context.Background(), r, transport, "alice", "ping", map[string]int{"n": 1})
	assert.Equal(t, 2, n)
	assert.Len(t, transport.emitted, 1)
	assert.Equal(t, "c1", transport.emitted[0].ConnectionID)

	_, ok := r.Lookup("c2")
	assert.False(t, ok)
	assert.Equal(t, 1, r.ConnectionCountForIdentity("alice"))
}

func TestSweeper(t *testing.T) {
	r, clock := newTestRegistry(registry.Config{InactivityTimeout: time.Minute})
	authenticate(t, r, "c1", "alice")
	clock.Advance(30 * time.Second)
	authenticate(t, r, "c2", "alice")
	clock.Advance(45 * time.Second)

	transport := newRecordingTransport()
	var reported int
	sweep := Sweeper(r, transport, func(_ context.Context, swept int) { reported = swept })

	assert.Nil(t, sweep(context.Background()))
	assert.Equal(t, 1, reported)
	assert.Equal(t, map[string]registry.Reason{"c1": registry.ReasonInactive}, transport.closed)
	assert.Equal(t, 1, r.TotalConnections())
}
