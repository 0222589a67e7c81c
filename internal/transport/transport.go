// Package transport defines the narrow connection contract the session core
// consumes: named fire-and-forget commands out, raw messages in.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrClosed     = errors.New("transport closed")
	ErrOutboxFull = errors.New("transport outbox full")
)

// Handler receives each raw inbound message.
type Handler func(raw []byte)

type Transport interface {
	// Send queues a named command. It never waits for a server acknowledgment.
	Send(command string, payload any) error
	// OnMessage registers the single consumer of inbound messages.
	OnMessage(h Handler)
}

// Envelope is the outbound frame shape.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeCommand frames a command and its payload. A nil payload is sent as {}.
func EncodeCommand(command string, payload any) ([]byte, error) {
	if command == "" {
		return nil, errors.New("command name is required")
	}
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", command, err)
	}
	return json.Marshal(Envelope{Event: command, Data: data})
}
