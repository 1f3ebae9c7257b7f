package registry

import "time"

const (
	DefaultMaxConnectionsPerIdentity = 10
	DefaultConnectionMaxLifetime     = 300 * time.Second
	DefaultInactivityTimeout         = 600 * time.Second
	DefaultSweepInterval             = 60 * time.Second
)

// Config holds the limits the registry enforces. Values are read once by New.
//
// A non-positive ConnectionMaxLifetime or InactivityTimeout disables that expiry
// rule. A non-positive MaxConnectionsPerIdentity falls back to the default.
type Config struct {
	MaxConnectionsPerIdentity int
	ConnectionMaxLifetime     time.Duration
	InactivityTimeout         time.Duration
	SweepInterval             time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerIdentity: DefaultMaxConnectionsPerIdentity,
		ConnectionMaxLifetime:     DefaultConnectionMaxLifetime,
		InactivityTimeout:         DefaultInactivityTimeout,
		SweepInterval:             DefaultSweepInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConnectionsPerIdentity <= 0 {
		c.MaxConnectionsPerIdentity = DefaultMaxConnectionsPerIdentity
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Expired reports whether a connection has outlived either threshold at now.
func (c Config) Expired(conn Connection, now time.Time) (Reason, bool) {
	if c.InactivityTimeout > 0 && now.Sub(conn.LastActivityAt) > c.InactivityTimeout {
		return ReasonInactive, true
	}
	if c.ConnectionMaxLifetime > 0 && now.Sub(conn.ConnectedAt) > c.ConnectionMaxLifetime {
		return ReasonLifetime, true
	}
	return "", false
}
