package bazaargql

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/go-chi/chi/v5"
	"github.com/tj/assert"
)

type echoResolver struct{}

func (echoResolver) Schema() string {
	return `
scalar JSON
schema { query: Query }
type Query { echo(value: JSON!): JSON! }
`
}

func (echoResolver) Echo(args struct{ Value JSON }) JSON {
	return args.Value
}

func TestRelay(t *testing.T) {
	handler, err := Relay(echoResolver{})
	assert.Nil(t, err)

	router := chi.NewRouter()
	Mount(router, "/graphql", "/graphql", handler)

	body := `{"query":"query($v: JSON!) { echo(value: $v) }","variables":{"v":{"a":[1,2]}}}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"echo":{"a":[1,2]}}}`, w.Body.String())
}

func TestRelayBadSchema(t *testing.T) {
	_, err := Relay(badResolver{})
	assert.NotNil(t, err)
}

type badResolver struct{}

func (badResolver) Schema() string { return "type Query {" }

func TestGraphiQL(t *testing.T) {
	bazaarcli.CommonOpts.Env = "local"
	router := chi.NewRouter()
	Mount(router, "/graphql", "/ws/graphql", http.NotFoundHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `url: "/ws/graphql"`)
}

func TestAllowIntrospection(t *testing.T) {
	defer func(env string, console bool) {
		bazaarcli.CommonOpts.Env, bazaarcli.CommonOpts.Console = env, console
	}(bazaarcli.CommonOpts.Env, bazaarcli.CommonOpts.Console)

	bazaarcli.CommonOpts.Env, bazaarcli.CommonOpts.Console = "prod", false
	assert.False(t, AllowIntrospection())
	bazaarcli.CommonOpts.Console = true
	assert.True(t, AllowIntrospection())
	bazaarcli.CommonOpts.Env, bazaarcli.CommonOpts.Console = "dev", false
	assert.True(t, AllowIntrospection())
}
