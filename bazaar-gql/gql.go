// Package bazaargql serves graphql-go schemas with an optional GraphiQL
// playground.
package bazaargql

import (
	"fmt"
	"net/http"

	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
)

// AllowIntrospection is true outside production and always in console mode.
func AllowIntrospection() bool {
	return bazaarcli.CommonOpts.Env != "prod" || bazaarcli.CommonOpts.Console
}

// Resolver is a graphql-go root resolver that carries its own schema.
type Resolver interface {
	Schema() string
}

// Relay parses the resolver's schema and returns an http handler for it.
func Relay(resolver Resolver) (*relay.Handler, error) {
	opts := []graphql.SchemaOpt{
		graphql.MaxDepth(15),
		graphql.UseFieldResolvers(),
	}
	if !AllowIntrospection() {
		opts = append(opts, graphql.DisableIntrospection())
	}

	schema, err := graphql.ParseSchema(resolver.Schema(), resolver, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse schema: %w", err)
	}
	return &relay.Handler{Schema: schema}, nil
}

// Mount serves handler at path, and the playground at GET path when
// introspection is allowed. endpoint is the externally visible path.
func Mount(router chi.Router, path, endpoint string, handler http.Handler) {
	router.Post(path, middleware.NoCache(handler).ServeHTTP)
	if AllowIntrospection() {
		router.Get(path, GraphiQL(endpoint))
	}
}
