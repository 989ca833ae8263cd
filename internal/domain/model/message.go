package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Feature is a logical namespace for messages and connections.
type Feature string

const (
	FeatureChat         Feature = "chat"
	FeatureNotification Feature = "notification"
	FeatureFeed         Feature = "feed"
	FeatureSearch       Feature = "search"
	FeatureSystem       Feature = "system"
)

// Well-known message types. The set is open; these are the ones the engine
// itself emits or gives special meaning to.
const (
	TypeHeartbeat = "heartbeat"
	TypeMessage   = "message"
	TypeCreate    = "create"
	TypeUpdate    = "update"
	TypeDelete    = "delete"
)

// MetaSentAt is the metadata key carrying the sender-side timestamp used for
// round-trip latency sampling. Value is unix milliseconds.
const MetaSentAt = "sentAt"

// Message is the immutable value object exchanged over the wire.
// One JSON-serialized Message per frame; no length-prefixing, no binary framing.
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Feature   Feature        `json:"feature"`
	Payload   any            `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	// Priority breaks load-balancing ties; it does not affect wire ordering.
	Priority int `json:"priority,omitempty"`
}

// NewMessage builds a Message, filling in ID and Timestamp.
func NewMessage(feature Feature, msgType string, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Feature:   feature,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Normalize fills in the generated fields of a partially constructed Message
// and returns the receiver.
func (m *Message) Normalize() *Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m
}

// Validate reports whether the Message may enter the routing layer.
// A Message with an empty id, type or feature must not be routed.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidMessage)
	}
	if m.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidMessage)
	}
	if m.Feature == "" {
		return fmt.Errorf("%w: empty feature", ErrInvalidMessage)
	}
	return nil
}

// SentAt extracts the round-trip latency marker from metadata, if present.
func (m *Message) SentAt() (time.Time, bool) {
	if m.Metadata == nil {
		return time.Time{}, false
	}
	raw, ok := m.Metadata[MetaSentAt]
	if !ok {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case float64: // JSON numbers decode to float64
		return time.UnixMilli(int64(v)), true
	case int64:
		return time.UnixMilli(v), true
	case int:
		return time.UnixMilli(int64(v)), true
	}
	return time.Time{}, false
}

// Encode serializes the Message to its wire format.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// DecodeMessage parses a wire frame back into a Message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return &m, nil
}
