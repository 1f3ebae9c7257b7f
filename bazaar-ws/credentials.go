package bazaarws

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
)

// DefaultExtractor looks for a bearer Authorization header, then the token field
// of the connection_init payload, then the token query parameter.
var DefaultExtractor = FirstOf(
	BearerHeader("Authorization"),
	AuthField("token"),
	QueryParam("token"),
)

// BearerHeader reads a "Bearer <token>" header. The scheme is case-insensitive.
func BearerHeader(name string) registry.CredentialExtractor {
	return func(h registry.Handshake) string {
		value := strings.TrimSpace(h.Header(name))
		scheme, token, ok := strings.Cut(value, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
}

func AuthField(key string) registry.CredentialExtractor {
	return func(h registry.Handshake) string {
		return strings.TrimSpace(h.Auth(key))
	}
}

func QueryParam(name string) registry.CredentialExtractor {
	return func(h registry.Handshake) string {
		return strings.TrimSpace(h.Query(name))
	}
}

// FirstOf returns the first non-empty credential found by extractors.
func FirstOf(extractors ...registry.CredentialExtractor) registry.CredentialExtractor {
	return func(h registry.Handshake) string {
		for _, extract := range extractors {
			if credential := extract(h); credential != "" {
				return credential
			}
		}
		return ""
	}
}

// Handshake is the handshake context of a websocket connection: its upgrade
// headers, query string, and the payload of connection_init.
type Handshake struct {
	Headers http.Header
	Params  url.Values
	Payload map[string]interface{}
}

// NewHTTPHandshake captures the handshake context of an upgrade request.
func NewHTTPHandshake(req *http.Request, payload map[string]interface{}) Handshake {
	return Handshake{
		Headers: req.Header,
		Params:  req.URL.Query(),
		Payload: payload,
	}
}

// NewAPIGatewayHandshake captures the handshake context of a $connect request.
// API Gateway header names arrive in arbitrary case, so they are canonicalised.
func NewAPIGatewayHandshake(req events.APIGatewayWebsocketProxyRequest) Handshake {
	headers := http.Header{}
	for k, values := range req.MultiValueHeaders {
		for _, v := range values {
			headers.Add(k, v)
		}
	}
	for k, v := range req.Headers {
		if headers.Get(k) == "" {
			headers.Set(k, v)
		}
	}

	params := url.Values{}
	for k, values := range req.MultiValueQueryStringParameters {
		params[k] = append(params[k], values...)
	}
	for k, v := range req.QueryStringParameters {
		if params.Get(k) == "" {
			params.Set(k, v)
		}
	}

	return Handshake{Headers: headers, Params: params}
}

func (h Handshake) Header(name string) string {
	return h.Headers.Get(name)
}

// Auth returns a string field of the init payload. Fields of any other type
// are treated as absent.
func (h Handshake) Auth(key string) string {
	v, _ := h.Payload[key].(string)
	return v
}

func (h Handshake) Query(name string) string {
	return h.Params.Get(name)
}
