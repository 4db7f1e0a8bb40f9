package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is a call lifecycle notification for downstream consumers
// (dashboards, CDR exporters). Delivery is best-effort.
type Event struct {
	Type       Type      `json:"type"`
	CallID     string    `json:"call_id"`
	Status     string    `json:"status,omitempty"`
	Operator   string    `json:"operator,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Type string

const (
	TypeCallCreated   Type = "call.created"
	TypeStatusChanged Type = "call.status_changed"
	TypeCallEnded     Type = "call.ended"
	TypeMessageSpoken Type = "call.message_spoken"
)

// Publisher emits lifecycle events. Implementations must not block for long;
// callers publish from request and webhook paths.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// NATSPublisher publishes JSON events on "<prefix>.<call_id>.<type>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

func NewNATSPublisher(conn *nats.Conn, prefix string, log *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "ttyrelay.calls"
	}
	if log == nil {
		log = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if p == nil || p.conn == nil {
		return errors.New("events: nats connection not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	subject := Subject(p.prefix, e)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Subject builds the NATS subject for e. Separator and wildcard characters in
// the call id are replaced with underscores.
func Subject(prefix string, e Event) string {
	id := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(e.CallID)
	if id == "" {
		id = "unknown"
	}
	return prefix + "." + id + "." + strings.ReplaceAll(string(e.Type), "call.", "")
}

// Emit publishes through p and logs failures. A nil publisher is skipped.
func Emit(ctx context.Context, p Publisher, log *slog.Logger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Warn("event publish failed", "type", string(e.Type), "call_id", e.CallID, "err", err)
	}
}
