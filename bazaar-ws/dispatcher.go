package bazaarws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/publish"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	consumer "github.com/harlow/kinesis-consumer"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 50

// Dispatcher fans events read from the events stream out to the connections
// of the addressed identity.
type Dispatcher struct {
	Registry    *registry.Registry
	Transport   Transport
	Logger      zerolog.Logger
	Concurrency int // max concurrent emits per envelope (default 50)
}

// HandleKinesisEvent processes a batch of Kinesis records.
func (d *Dispatcher) HandleKinesisEvent(ctx context.Context, event events.KinesisEvent) error {
	for _, record := range event.Records {
		if err := d.Dispatch(ctx, record.Kinesis.Data); err != nil {
			d.Logger.Error().Err(err).
				Str("event_id", record.EventID).
				Msg("failed to process kinesis record")
			// Continue processing other records rather than failing the whole batch
		}
	}
	return nil
}

// Consume reads the stream with a kinesis consumer until ctx is cancelled.
func (d *Dispatcher) Consume(ctx context.Context, streamName string, opts ...consumer.Option) error {
	c, err := consumer.New(streamName, opts...)
	if err != nil {
		return fmt.Errorf("creating consumer for stream %v: %w", streamName, err)
	}

	d.Logger.Info().Str("stream", streamName).Msg("consuming events")
	err = c.Scan(ctx, func(record *consumer.Record) error {
		if err := d.Dispatch(ctx, record.Data); err != nil {
			d.Logger.Error().Err(err).
				Str("sequence_number", aws.StringValue(record.SequenceNumber)).
				Msg("failed to process kinesis record")
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Dispatch delivers one encoded publish.Envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var envelope publish.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unmarshalling envelope: %w", err)
	}
	if envelope.Identity == "" {
		d.Logger.Warn().Str("event", envelope.Event).Msg("envelope has empty identity, skipping")
		return nil
	}

	var ids []string
	d.Registry.RouteToIdentity(envelope.Identity, nil, func(connectionID string, _ interface{}) {
		ids = append(ids, connectionID)
	})
	if len(ids) == 0 {
		return nil
	}

	d.Logger.Debug().
		Str("identity", envelope.Identity).
		Str("event", envelope.Event).
		Int("connections", len(ids)).
		Msg("dispatching event")

	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			return d.emit(ctx, envelope, id)
		})
	}

	return g.Wait()
}

func (d *Dispatcher) emit(ctx context.Context, envelope publish.Envelope, connectionID string) error {
	err := d.Transport.Emit(ctx, connectionID, envelope.Event, envelope.Payload)
	if errors.Is(err, ErrGone) {
		d.Logger.Info().
			Str("connection_id", connectionID).
			Msg("connection gone, cleaning up")
		d.Registry.Deregister(envelope.Identity, connectionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("emitting %v to connection %v: %w", envelope.Event, connectionID, err)
	}
	return nil
}
