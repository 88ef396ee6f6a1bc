package peersync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/schema"
)

// ErrMalformedMessage marks an inbound message that cannot be decoded or
// applied. Such messages are logged and dropped, never retried.
var ErrMalformedMessage = errors.New("malformed sync message")

// Message is the envelope exchanged between the two replicas, over both the
// immediate channel and the durable queue.
type Message struct {
	Action          schema.Action     `json:"action"`
	EntityKind      schema.EntityKind `json:"entity_kind"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	OriginTimestamp time.Time         `json:"origin_timestamp"`
	EntityID        string            `json:"entity_id"`
}

// NewMessage builds the message describing a committed local change.
// Deletes carry no payload.
func NewMessage(c schema.Change, origin time.Time) (*Message, error) {
	m := &Message{
		Action:          c.Action,
		EntityKind:      c.Kind,
		OriginTimestamp: origin.UTC(),
		EntityID:        c.ID,
	}
	if c.Action != schema.ActionDelete {
		if c.Entity == nil {
			return nil, fmt.Errorf("%s %s %s has no entity", c.Action, c.Kind, c.ID)
		}
		payload, err := json.Marshal(c.Entity)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", c.Kind, err)
		}
		m.Payload = payload
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the envelope fields. It does not look inside the payload.
func (m *Message) Validate() error {
	if !m.Action.IsValid() {
		return fmt.Errorf("%w: unknown action %q", ErrMalformedMessage, m.Action)
	}
	if !m.EntityKind.IsValid() {
		return fmt.Errorf("%w: unknown entity kind %q", ErrMalformedMessage, m.EntityKind)
	}
	if m.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", ErrMalformedMessage)
	}
	if m.Action != schema.ActionDelete && len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s message has no payload", ErrMalformedMessage, m.Action)
	}
	return nil
}

// Encode returns the JSON wire form of m.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync message: %w", err)
	}
	return data, nil
}

// String returns a short description for logs.
func (m *Message) String() string {
	return fmt.Sprintf("%s %s %s", m.Action, m.EntityKind, m.EntityID)
}

// DecodeMessage parses and validates a wire message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// decodePayload unmarshals the payload into v, reporting failures as malformed.
func (m *Message) decodePayload(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, m.EntityKind, err)
	}
	return nil
}
