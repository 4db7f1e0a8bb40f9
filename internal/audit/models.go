package audit

import "time"

// Event is an immutable, append-only audit record of an operator action or a
// call outcome.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id is required; every record belongs to one call.
// - actor and ip capture are best-effort; do not block call flows on audit failures.
type Event struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// Type indicates the category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Actor is the authenticated operator causing the event, empty for
	// control-plane driven events.
	Actor     string `json:"actor,omitempty" db:"actor"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallCreated   EventType = "call_created"
	EventTypeCallEnded     EventType = "call_ended"
	EventTypeMessageSpoken EventType = "message_spoken"
	EventTypeSpeakFailed   EventType = "speak_failed"
)
