package bazaarws

import (
	"encoding/json"
	"fmt"

	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/gorilla/websocket"
)

// Protocol message types. The handshake borrows graphql-ws's
// connection_init / connection_ack exchange; server pushes are "event" messages.
const (
	MsgConnectionInit = "connection_init"
	MsgConnectionAck  = "connection_ack"
	MsgPing           = "ping"
	MsgPong           = "pong"
	MsgEvent          = "event"
	MsgError          = "error"
)

// Close codes sent when the server ends a connection.
const (
	CloseUnauthorized     = 4401
	CloseInitTimeout      = 4408
	CloseEvicted          = 4409
	CloseExpired          = 4410
	CloseAlreadyInitiated = 4429
	CloseGoingAway        = websocket.CloseGoingAway
)

// Message is a message of the gateway protocol.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseMessage parses a protocol message.
func ParseMessage(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("missing message type")
	}
	return &msg, nil
}

// InitPayload decodes the auth payload of a connection_init message. A missing
// or non-object payload yields an empty map.
func (m *Message) InitPayload() map[string]interface{} {
	payload := map[string]interface{}{}
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &payload)
	}
	return payload
}

func AckMessage() []byte {
	b, _ := json.Marshal(Message{Type: MsgConnectionAck})
	return b
}

func PongMessage() []byte {
	b, _ := json.Marshal(Message{Type: MsgPong})
	return b
}

// EventMessage returns an "event" message carrying payload.
func EventMessage(event string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling %v payload: %w", event, err)
	}
	b, err := json.Marshal(Message{
		Type:    MsgEvent,
		Event:   event,
		Payload: payloadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling %v message: %w", event, err)
	}
	return b, nil
}

// ErrorMessage returns an "error" message; id echoes the offending message, if any.
func ErrorMessage(id string, errMsg string) []byte {
	payload, _ := json.Marshal(map[string]string{"message": errMsg})
	b, _ := json.Marshal(Message{
		ID:      id,
		Type:    MsgError,
		Payload: payload,
	})
	return b
}

// CloseCode maps the reason a connection left the registry to the close code
// reported to the client.
func CloseCode(reason registry.Reason) int {
	switch reason {
	case registry.ReasonQuota, registry.ReasonReplaced:
		return CloseEvicted
	case registry.ReasonInactive, registry.ReasonLifetime:
		return CloseExpired
	default:
		return websocket.CloseNormalClosure
	}
}
