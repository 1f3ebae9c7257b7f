// Package registry tracks authenticated connections per identity.
//
// The registry owns two structures: a metadata table keyed by connection id, and
// a secondary index from identity to the set of its connection ids. Every
// mutation of both happens inside a single critical section, so the index and
// the table never disagree. Verification of credentials happens before the lock
// is taken and may run concurrently for the same identity; only the final
// quota check, eviction and insert are serialised.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Option func(r *Registry)

// WithClock replaces time.Now as the source of connection timestamps.
func WithClock(clock Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithObserver registers an observer for lifecycle notifications.
func WithObserver(observer Observer) Option {
	return func(r *Registry) {
		if observer != nil {
			r.observers = append(r.observers, observer)
		}
	}
}

type entry struct {
	Connection
	seq uint64 // insertion order, used to pick the oldest connection of an identity
}

type removal struct {
	conn   Connection
	reason Reason
}

// Registry maps identities to their live connections.
type Registry struct {
	cfg       Config
	verifier  Verifier
	now       Clock
	logger    zerolog.Logger
	observers []Observer

	mu         sync.Mutex
	seq        uint64
	conns      map[string]*entry
	identities map[string]map[string]*entry

	// observers see mutations in the order they were applied; each mutation
	// takes a ticket under mu and notifies when its turn comes
	ticket    uint64
	turnMu    sync.Mutex
	turn      uint64
	turnReady *sync.Cond
}

func New(cfg Config, verifier Verifier, opts ...Option) *Registry {
	r := &Registry{
		cfg:        cfg.withDefaults(),
		verifier:   verifier,
		now:        time.Now,
		logger:     zerolog.Nop(),
		conns:      make(map[string]*entry),
		identities: make(map[string]map[string]*entry),
	}
	r.turnReady = sync.NewCond(&r.turnMu)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the limits the registry was built with.
func (r *Registry) Config() Config {
	return r.cfg
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Authenticate resolves the identity behind a newly accepted connection and
// registers it. The boolean is false when no credential was found, the verifier
// rejected it, or it carried no identity; in that case nothing is registered and
// Authentication.Err holds the cause.
//
// When the identity is already at its quota the oldest connection is removed
// first and returned in Authentication.Evicted. The registry only drops its
// bookkeeping; closing the evicted transport is up to the caller.
func (r *Registry) Authenticate(ctx context.Context, connectionID string, handshake Handshake, extract CredentialExtractor) (Authentication, bool) {
	logger := r.logger.With().Str("connection_id", connectionID).Logger()

	identity, err := r.verify(ctx, handshake, extract)
	if err != nil {
		logger.Warn().Err(err).Str("reason", FailureReason(err)).Msg("authentication failed")
		for _, o := range r.observers {
			o.AuthFailed(connectionID, err)
		}
		return Authentication{Err: err}, false
	}

	conn, removed, ticket := r.register(connectionID, identity)

	auth := Authentication{Connection: conn}
	r.waitTurn(ticket)
	defer r.endTurn()
	for _, rm := range removed {
		if rm.reason == ReasonQuota {
			evicted := rm.conn
			auth.Evicted = &evicted
			logger.Info().
				Str("identity", identity).
				Str("evicted_connection_id", evicted.ID).
				Msg("connection quota reached, evicted oldest connection")
		}
		r.notifyDeregistered(rm.conn, rm.reason)
	}
	for _, o := range r.observers {
		o.Registered(conn)
	}

	logger.Debug().Str("identity", identity).Msg("connection authenticated")
	return auth, true
}

func (r *Registry) verify(ctx context.Context, handshake Handshake, extract CredentialExtractor) (identity string, err error) {
	var credential string
	if extract != nil && handshake != nil {
		credential = extract(handshake)
	}
	if credential == "" {
		return "", ErrMissingCredential
	}
	if r.verifier == nil {
		return "", ErrVerifierUnavailable
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrVerifierUnavailable, err)
	}

	defer func() {
		if p := recover(); p != nil {
			identity, err = "", fmt.Errorf("%w: verifier panicked: %v", ErrVerifierUnavailable, p)
		}
	}()

	identity, err = r.verifier.Verify(ctx, credential)
	if err != nil {
		return "", err
	}
	if identity == "" {
		return "", ErrMissingIdentity
	}
	// a verifier that ignored its deadline still fails closed
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrVerifierUnavailable, err)
	}
	return identity, nil
}

func (r *Registry) register(connectionID, identity string) (Connection, []removal, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []removal
	if prev, ok := r.conns[connectionID]; ok {
		r.remove(prev)
		removed = append(removed, removal{conn: prev.Connection, reason: ReasonReplaced})
	}

	if set := r.identities[identity]; len(set) >= r.cfg.MaxConnectionsPerIdentity {
		oldest := oldestOf(set)
		r.remove(oldest)
		removed = append(removed, removal{conn: oldest.Connection, reason: ReasonQuota})
	}

	now := r.now()
	r.seq++
	e := &entry{
		Connection: Connection{
			ID:             connectionID,
			Identity:       identity,
			ConnectedAt:    now,
			LastActivityAt: now,
		},
		seq: r.seq,
	}

	set, ok := r.identities[identity]
	if !ok {
		set = make(map[string]*entry)
		r.identities[identity] = set
	}
	set[connectionID] = e
	r.conns[connectionID] = e

	return e.Connection, removed, r.nextTicket()
}

// remove drops an entry from both structures. Must be called with r.mu held.
func (r *Registry) remove(e *entry) {
	delete(r.conns, e.ID)
	if set, ok := r.identities[e.Identity]; ok {
		delete(set, e.ID)
		if len(set) == 0 {
			delete(r.identities, e.Identity)
		}
	}
}

func oldestOf(set map[string]*entry) *entry {
	var oldest *entry
	for _, e := range set {
		if oldest == nil || e.seq < oldest.seq {
			oldest = e
		}
	}
	return oldest
}

// Touch records activity on a connection. Unknown connections are ignored.
func (r *Registry) Touch(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connectionID]
	if !ok {
		return
	}
	if now := r.now(); now.After(e.LastActivityAt) {
		e.LastActivityAt = now
	}
}

// Deregister removes a connection registered under identity. It returns false,
// and changes nothing, when the pair is not registered.
func (r *Registry) Deregister(identity, connectionID string) bool {
	r.mu.Lock()
	e, ok := r.conns[connectionID]
	if !ok || e.Identity != identity {
		r.mu.Unlock()
		return false
	}
	r.remove(e)
	conn := e.Connection
	ticket := r.nextTicket()
	r.mu.Unlock()

	r.waitTurn(ticket)
	defer r.endTurn()

	r.logger.Debug().
		Str("connection_id", connectionID).
		Str("identity", identity).
		Msg("connection deregistered")
	r.notifyDeregistered(conn, ReasonDisconnect)
	return true
}

// SweepExpired removes every connection idle for longer than the inactivity
// timeout or open for longer than the maximum lifetime, as of now. forceClose,
// when not nil, is called for each removed connection after it has left the
// registry. Returns the number of connections removed.
func (r *Registry) SweepExpired(now time.Time, forceClose func(connectionID string)) int {
	return r.SweepExpiredFunc(now, func(conn Connection, _ Reason) {
		if forceClose != nil {
			forceClose(conn.ID)
		}
	})
}

// SweepExpiredFunc is SweepExpired for callers that need the removed connection
// and the rule it broke.
func (r *Registry) SweepExpiredFunc(now time.Time, forceClose func(conn Connection, reason Reason)) int {
	r.mu.Lock()
	var candidates []string
	for id, e := range r.conns {
		if _, expired := r.cfg.Expired(e.Connection, now); expired {
			candidates = append(candidates, id)
		}
	}
	r.mu.Unlock()

	var swept int
	for _, id := range candidates {
		conn, reason, ticket, ok := r.expire(id, now)
		if !ok {
			continue
		}
		swept++
		r.logger.Info().
			Str("connection_id", conn.ID).
			Str("identity", conn.Identity).
			Str("reason", string(reason)).
			Msg("connection expired")
		r.inTurn(ticket, func() { r.notifyDeregistered(conn, reason) })
		if forceClose != nil {
			forceClose(conn, reason)
		}
	}
	return swept
}

// expire removes a single connection if it is still registered and still
// expired; it may have been touched or deregistered since the sweep snapshot.
func (r *Registry) expire(connectionID string, now time.Time) (Connection, Reason, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connectionID]
	if !ok {
		return Connection{}, "", 0, false
	}
	reason, expired := r.cfg.Expired(e.Connection, now)
	if !expired {
		return Connection{}, "", 0, false
	}
	r.remove(e)
	return e.Connection, reason, r.nextTicket(), true
}

// RouteToIdentity calls emit once for every connection registered under identity
// when the call is made, and returns how many connections were addressed. emit
// runs outside the registry lock.
func (r *Registry) RouteToIdentity(identity string, payload any, emit func(connectionID string, payload any)) int {
	r.mu.Lock()
	set := r.identities[identity]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		emit(id, payload)
	}
	return len(ids)
}

// Lookup returns the registered connection with the given id.
func (r *Registry) Lookup(connectionID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connectionID]
	if !ok {
		return Connection{}, false
	}
	return e.Connection, true
}

// Connections returns the connections of identity, oldest first.
func (r *Registry) Connections(identity string) []Connection {
	r.mu.Lock()
	set := r.identities[identity]
	entries := make([]*entry, 0, len(set))
	for _, e := range set {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	conns := make([]Connection, len(entries))
	for i, e := range entries {
		conns[i] = e.Connection
	}
	return conns
}

func (r *Registry) ConnectionCountForIdentity(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.identities[identity])
}

func (r *Registry) UniqueIdentityCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.identities)
}

func (r *Registry) TotalConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// ConnectionStats returns totals and the mean number of connections per identity.
func (r *Registry) ConnectionStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalConnections: len(r.conns),
		UniqueIdentities: len(r.identities),
	}
	if stats.UniqueIdentities > 0 {
		stats.AverageConnectionsPerIdentity = float64(stats.TotalConnections) / float64(stats.UniqueIdentities)
	}
	return stats
}

// nextTicket reserves the notification slot of a mutation. Must be called with
// r.mu held.
func (r *Registry) nextTicket() uint64 {
	t := r.ticket
	r.ticket++
	return t
}

// waitTurn blocks until every mutation applied before ticket has notified.
func (r *Registry) waitTurn(ticket uint64) {
	r.turnMu.Lock()
	for r.turn != ticket {
		r.turnReady.Wait()
	}
	r.turnMu.Unlock()
}

func (r *Registry) inTurn(ticket uint64, notify func()) {
	r.waitTurn(ticket)
	defer r.endTurn()
	notify()
}

func (r *Registry) endTurn() {
	r.turnMu.Lock()
	r.turn++
	r.turnMu.Unlock()
	r.turnReady.Broadcast()
}

func (r *Registry) notifyDeregistered(conn Connection, reason Reason) {
	for _, o := range r.observers {
		o.Deregistered(conn, reason)
	}
}
