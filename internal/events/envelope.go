// Package events defines the bus event envelope shared by every producer and
// consumer on the platform.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event type constants for the channels this service produces and consumes.
const (
	TypeMessageReceived = "message.received"
	TypeMessageSent     = "message.sent"
	TypeDebounceTimer   = "debounce.timer"
	TypeLeadCreated     = "lead.created"
	TypeLeadQualified   = "lead.qualified"
)

// SourceName identifies this service as the producer on every envelope it
// builds.
const SourceName = "centurion"

// Envelope is the wire format for every domain event.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CompanyID     string          `json:"company_id"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ParseError reports why an inbound frame was rejected. Reason is one of
// invalid_json, not_object, unexpected_type, validation_error.
type ParseError struct {
	Reason string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Parse decodes and validates a raw frame. When expectedType is non-empty the
// envelope type must match it exactly.
func Parse(raw []byte, expectedType string) (*Envelope, error) {
	var shape any
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, &ParseError{Reason: "invalid_json", Detail: err.Error()}
	}
	if _, ok := shape.(map[string]any); !ok {
		return nil, &ParseError{Reason: "not_object"}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ParseError{Reason: "validation_error", Detail: err.Error()}
	}

	if expectedType != "" && env.Type != expectedType {
		return nil, &ParseError{Reason: "unexpected_type", Detail: env.Type}
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) validate() error {
	switch {
	case len(strings.TrimSpace(e.ID)) < 8:
		return &ParseError{Reason: "validation_error", Detail: "id too short"}
	case strings.TrimSpace(e.Type) == "":
		return &ParseError{Reason: "validation_error", Detail: "type is required"}
	case strings.TrimSpace(e.Source) == "":
		return &ParseError{Reason: "validation_error", Detail: "source is required"}
	case e.Version < 1:
		return &ParseError{Reason: "validation_error", Detail: "version must be >= 1"}
	case len(strings.TrimSpace(e.CompanyID)) < 3:
		return &ParseError{Reason: "validation_error", Detail: "company_id too short"}
	case len(strings.TrimSpace(e.CorrelationID)) < 8:
		return &ParseError{Reason: "validation_error", Detail: "correlation_id too short"}
	case e.OccurredAt.IsZero():
		return &ParseError{Reason: "validation_error", Detail: "occurred_at is required"}
	}
	return nil
}

// Build constructs an outbound envelope with a fresh id and UTC timestamp.
// The payload is taken as already-encoded JSON.
func Build(eventType, companyID, correlationID, causationID string, payload json.RawMessage) *Envelope {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return &Envelope{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        SourceName,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		CompanyID:     companyID,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Payload:       payload,
	}
}

// Encode serializes the envelope for publishing.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
