package presencedao

import (
	"context"
	"time"

	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/rs/zerolog"
)

// Store is the subset of DAO the observer writes through.
type Store interface {
	Put(ctx context.Context, p Presence) error
	Delete(ctx context.Context, connectionID string) error
}

type op struct {
	put      *Presence
	deleteID string
}

// Observer mirrors registry membership into the presence table. Writes are
// queued and applied by Run so registry callers never wait on DynamoDB; when
// the queue is full the write is dropped and the record ages out through TTL.
type Observer struct {
	store  Store
	node   string
	ttl    time.Duration
	logger zerolog.Logger
	ops    chan op
}

func NewObserver(store Store, node string, ttl time.Duration, logger zerolog.Logger, buffer int) *Observer {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Observer{
		store:  store,
		node:   node,
		ttl:    ttl,
		logger: logger.With().Str("component", "presence").Logger(),
		ops:    make(chan op, buffer),
	}
}

func (o *Observer) Registered(conn registry.Connection) {
	p := Presence{
		ConnectionID: conn.ID,
		Identity:     conn.Identity,
		Node:         o.node,
		ConnectedAt:  conn.ConnectedAt.Unix(),
	}
	if o.ttl > 0 {
		p.TTL = conn.ConnectedAt.Add(o.ttl).Unix()
	}
	o.enqueue(op{put: &p})
}

func (o *Observer) Deregistered(conn registry.Connection, _ registry.Reason) {
	o.enqueue(op{deleteID: conn.ID})
}

func (o *Observer) AuthFailed(string, error) {}

func (o *Observer) enqueue(v op) {
	select {
	case o.ops <- v:
	default:
		o.logger.Warn().Msg("presence queue full, dropping write")
	}
}

// Run applies queued writes until ctx is cancelled.
func (o *Observer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-o.ops:
			o.apply(ctx, v)
		}
	}
}

func (o *Observer) apply(ctx context.Context, v op) {
	if v.put != nil {
		if err := o.store.Put(ctx, *v.put); err != nil {
			o.logger.Error().Err(err).Str("connection_id", v.put.ConnectionID).Msg("failed to record presence")
		}
		return
	}
	if err := o.store.Delete(ctx, v.deleteID); err != nil {
		o.logger.Error().Err(err).Str("connection_id", v.deleteID).Msg("failed to clear presence")
	}
}
