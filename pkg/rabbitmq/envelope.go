package rabbitmq

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Envelope wraps an event payload with a content-derived id. Consumers dedupe
// on ID, so re-publishing the same fact yields the same id.
type Envelope struct {
	ID         string          `json:"event_id"`
	Type       string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope canonicalizes payload (RFC 8785) and derives the event id as
// sha256(eventType || 0x00 || canonical payload).
func NewEnvelope(eventType string, payload any, occurredAt time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return Envelope{}, fmt.Errorf("canonicalize %s payload: %w", eventType, err)
	}

	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write(canon)

	return Envelope{
		ID:         hex.EncodeToString(h.Sum(nil)),
		Type:       eventType,
		OccurredAt: occurredAt.UTC(),
		Payload:    canon,
	}, nil
}
