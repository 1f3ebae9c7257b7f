package bazaarrest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

func TestMiddlewares(t *testing.T) {
	router := Middlewares(bazaarcli.Service{Name: "test"}, chi.NewRouter())
	router.Get("/ok", func(w http.ResponseWriter, req *http.Request) {
		assert.NotNil(t, zerolog.Ctx(req.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
	router.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Origin", "https://shop.example")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "same-origin", w.Header().Get("Cross-Origin-Opener-Policy"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCacheControl(t *testing.T) {
	handler := CacheControl(func(w http.ResponseWriter, _ *http.Request) {}, 60)
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "max-age=60", w.Header().Get("Cache-Control"))
}
