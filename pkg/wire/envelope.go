// Package wire defines the JSON envelope exchanged with the push server, the
// message types this client speaks, and the outbound command builder.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedEnvelope is returned when an inbound frame is not a JSON
	// object with a message_type.
	ErrMalformedEnvelope = errors.New("wire: malformed envelope")
	// ErrMissingCorrelationID is returned when a payload lacks an id it must carry.
	ErrMissingCorrelationID = errors.New("wire: missing correlation id")
)

// Envelope is the unit of exchange in both directions. It is not modified
// after construction.
type Envelope struct {
	MessageType    string          `json:"message_type"`
	MessagePayload json.RawMessage `json:"message_payload"`
	RequestID      string          `json:"request_id"`
	TabID          string          `json:"tab_id"`
	Timestamp      string          `json:"timestamp"`
}

// NewEnvelope marshals payload and stamps the envelope with a fresh request id
// and the current time. A nil payload is sent as an empty JSON object.
func NewEnvelope(messageType string, payload any, tabID string) (*Envelope, error) {
	raw := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload for %s: %w", messageType, err)
		}
		raw = b
	}
	return &Envelope{
		MessageType:    messageType,
		MessagePayload: raw,
		RequestID:      GenerateID(),
		TabID:          tabID,
		Timestamp:      TimeNow().UTC().Format(time.RFC3339Nano),
	}, nil
}

// Parse decodes one inbound frame.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.MessageType == "" {
		return nil, fmt.Errorf("%w: empty message_type", ErrMalformedEnvelope)
	}
	return &env, nil
}

// DecodePayload unmarshals the payload into v, which must be a pointer.
// A missing or null payload leaves v untouched.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.MessagePayload) == 0 || string(e.MessagePayload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.MessagePayload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, e.MessageType, err)
	}
	return nil
}

// Time parses the envelope timestamp. The zero time is returned when the
// field is absent or not RFC 3339.
func (e *Envelope) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
