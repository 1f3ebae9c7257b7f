package bazaarws

import (
	"time"

	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/urfave/cli/v2"
)

var Opts struct {
	MaxConnectionsPerIdentity int
	ConnectionMaxLifetime     time.Duration
	InactivityTimeout         time.Duration
	SweepInterval             time.Duration
	AuthTimeout               time.Duration
	Presence                  bool
	PresenceTable             string
	EventsStream              string
	Consume                   bool
}

var Flags = []cli.Flag{
	bazaarcli.IntFlag("max-connections-per-identity", "connections an identity may hold before the oldest is evicted", &Opts.MaxConnectionsPerIdentity, registry.DefaultMaxConnectionsPerIdentity),
	bazaarcli.DurationFlag("connection-max-lifetime", "close connections open longer than this; 0 disables", &Opts.ConnectionMaxLifetime, registry.DefaultConnectionMaxLifetime),
	bazaarcli.DurationFlag("inactivity-timeout", "close connections silent longer than this; 0 disables", &Opts.InactivityTimeout, registry.DefaultInactivityTimeout),
	bazaarcli.DurationFlag("sweep-interval", "how often expired connections are swept", &Opts.SweepInterval, registry.DefaultSweepInterval),
	bazaarcli.DurationFlag("auth-timeout", "time allowed for connection_init and verification", &Opts.AuthTimeout, DefaultAuthTimeout),
	bazaarcli.BoolFlag("presence", "mirror connections into the presence table", &Opts.Presence),
	bazaarcli.StringFlag("presence-table", "presence table name; defaults to the env table", &Opts.PresenceTable),
	bazaarcli.StringFlag("events-stream", "kinesis stream of events to deliver; defaults to the env stream", &Opts.EventsStream),
	bazaarcli.BoolFlag("consume", "consume the events stream in console mode", &Opts.Consume),
}

// ConfigFromOpts returns the registry configuration set by Flags.
func ConfigFromOpts() registry.Config {
	return registry.Config{
		MaxConnectionsPerIdentity: Opts.MaxConnectionsPerIdentity,
		ConnectionMaxLifetime:     Opts.ConnectionMaxLifetime,
		InactivityTimeout:         Opts.InactivityTimeout,
		SweepInterval:             Opts.SweepInterval,
	}
}
