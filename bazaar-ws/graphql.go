package bazaarws

import (
	"context"
	_ "embed"

	bazaargql "github.com/bazaarhq/bazaar-go-utils/bazaar-gql"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/graph-gophers/graphql-go"
)

//go:embed schema.graphql
var schema string

// Resolver is the graphql root over a registry.
type Resolver struct {
	Registry  *registry.Registry
	Transport Transport
}

func (r *Resolver) Schema() string {
	return schema
}

func (r *Resolver) Stats() *statsResolver {
	return &statsResolver{stats: r.Registry.ConnectionStats()}
}

func (r *Resolver) Connections(args struct{ Identity string }) []*connectionResolver {
	conns := r.Registry.Connections(args.Identity)
	resolvers := make([]*connectionResolver, 0, len(conns))
	for _, conn := range conns {
		resolvers = append(resolvers, &connectionResolver{conn: conn})
	}
	return resolvers
}

func (r *Resolver) Connection(args struct{ ID graphql.ID }) *connectionResolver {
	conn, ok := r.Registry.Lookup(string(args.ID))
	if !ok {
		return nil
	}
	return &connectionResolver{conn: conn}
}

func (r *Resolver) SendToIdentity(ctx context.Context, args struct {
	Identity string
	Event    string
	Payload  *bazaargql.JSON
}) int32 {
	var payload interface{}
	if args.Payload != nil {
		payload = args.Payload.Data
	}
	return int32(SendToIdentity(ctx, r.Registry, r.Transport, args.Identity, args.Event, payload))
}

type statsResolver struct {
	stats registry.Stats
}

func (s *statsResolver) TotalConnections() int32 { return int32(s.stats.TotalConnections) }
func (s *statsResolver) UniqueIdentities() int32 { return int32(s.stats.UniqueIdentities) }
func (s *statsResolver) AverageConnectionsPerIdentity() float64 {
	return s.stats.AverageConnectionsPerIdentity
}

type connectionResolver struct {
	conn registry.Connection
}

func (c *connectionResolver) ID() graphql.ID { return graphql.ID(c.conn.ID) }
func (c *connectionResolver) Identity() string { return c.conn.Identity }
func (c *connectionResolver) ConnectedAt() graphql.Time { return graphql.Time{Time: c.conn.ConnectedAt} }
func (c *connectionResolver) LastActivityAt() graphql.Time {
	return graphql.Time{Time: c.conn.LastActivityAt}
}
