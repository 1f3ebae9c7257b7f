package bazaarws

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	bazaargql "github.com/bazaarhq/bazaar-go-utils/bazaar-gql"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// API exposes the registry and its transports over HTTP.
type API struct {
	Registry   *registry.Registry
	Transport  Transport
	Gateway    http.Handler // websocket upgrades, optional
	APIGateway http.Handler // API Gateway HTTP integration, optional
	GraphQL    http.Handler // graphql relay over Resolver, optional
	Gatherer   prometheus.Gatherer
	// AdminToken, when set, is required as a bearer token to push events and
	// to use the graphql endpoint.
	AdminToken string
}

// EventRequest is the body of POST /identities/{identity}/events.
type EventRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (a *API) Mount(r chi.Router) {
	if a.Gateway != nil {
		r.Handle("/ws", a.Gateway)
	}
	if a.APIGateway != nil {
		r.Post("/apigw", a.APIGateway.ServeHTTP)
	}
	if a.GraphQL != nil {
		bazaargql.Mount(r, "/graphql", "/graphql", a.requireAdmin(a.GraphQL))
	}
	if a.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/stats", a.stats)
	r.Get("/identities/{identity}/connections", a.connections)
	r.With(a.requireAdmin).Post("/identities/{identity}/events", a.pushEvent)
}

func (a *API) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Registry.ConnectionStats())
}

func (a *API) connections(w http.ResponseWriter, req *http.Request) {
	identity := chi.URLParam(req, "identity")
	conns := a.Registry.Connections(identity)
	if conns == nil {
		conns = []registry.Connection{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identity":    identity,
		"connections": conns,
	})
}

func (a *API) pushEvent(w http.ResponseWriter, req *http.Request) {
	var body EventRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Event == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"event\": ..., \"payload\": ...}"})
		return
	}

	identity := chi.URLParam(req, "identity")
	var payload interface{}
	if len(body.Payload) > 0 {
		payload = body.Payload
	}
	n := SendToIdentity(req.Context(), a.Registry, a.Transport, identity, body.Event, payload)

	zerolog.Ctx(req.Context()).Debug().
		Str("identity", identity).
		Str("event", body.Event).
		Int("connections", n).
		Msg("event pushed")
	writeJSON(w, http.StatusAccepted, map[string]int{"connections": n})
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !a.authorized(req) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (a *API) authorized(req *http.Request) bool {
	if a.AdminToken == "" {
		return true
	}
	token := BearerHeader("Authorization")(Handshake{Headers: req.Header})
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.AdminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
