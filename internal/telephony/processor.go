package telephony

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tty-relay/internal/calls"
	"tty-relay/internal/events"
	"tty-relay/internal/observability"
)

// SessionStore is the part of the registry the processor mutates.
type SessionStore interface {
	UpdateStatus(id string, status calls.Status) (calls.Transition, error)
	AppendTranscription(id string, e calls.ContentEntry) (bool, error)
	AppendRecording(id string, e calls.ContentEntry) (bool, error)
	ActiveCount() int
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDropped   Outcome = "dropped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMalformed Outcome = "malformed"
)

// Processor applies control-plane notifications to the session registry.
//
// Delivery is at-least-once and unordered: unknown call ids are dropped,
// lifecycle regressions are ignored, and content with a source id is applied
// once. Relay teardown on terminal status runs through the registry's terminal
// hooks, so it happens exactly once whichever path ended the call.
type Processor struct {
	sessions SessionStore
	events   events.Publisher
	metrics  *observability.Metrics
	log      *slog.Logger
}

func NewProcessor(sessions SessionStore, pub events.Publisher, metrics *observability.Metrics, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{sessions: sessions, events: pub, metrics: metrics, log: log}
}

// Process applies ev. The returned error is non-nil only for failures that are
// neither expected noise nor malformed input.
func (p *Processor) Process(ctx context.Context, ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case StatusEvent:
		return p.processStatus(ctx, e)
	case ContentEvent:
		return p.processContent(e)
	case *ContentEvent:
		if e == nil {
			return p.Reject("unknown", errors.New("nil content event")), nil
		}
		return p.processContent(*e)
	default:
		return p.Reject("unknown", errors.New("unsupported event")), nil
	}
}

// Reject records a notification that failed boundary validation.
func (p *Processor) Reject(kind string, err error) Outcome {
	if p == nil {
		return OutcomeMalformed
	}
	p.log.Warn("control plane event rejected", "kind", kind, "err", err)
	p.metrics.ObserveWebhook(kind, string(OutcomeMalformed))
	return OutcomeMalformed
}

func (p *Processor) processStatus(ctx context.Context, e StatusEvent) (Outcome, error) {
	tr, err := p.sessions.UpdateStatus(e.CallID, e.Status)
	switch {
	case errors.Is(err, calls.ErrNotFound):
		p.log.Debug("status for unknown call dropped", "call_id", e.CallID, "status", e.RawStatus)
		return p.observe("status", OutcomeDropped), nil
	case errors.Is(err, calls.ErrInvalidStatus):
		return p.Reject("status", err), nil
	case err != nil:
		return "", err
	}

	if !tr.Applied {
		p.log.Debug("status update ignored", "call_id", e.CallID, "current", string(tr.From), "received", string(tr.To))
		return p.observe("status", OutcomeIgnored), nil
	}

	p.log.Info("call status changed", "call_id", e.CallID, "from", string(tr.From), "to", string(tr.To))
	p.metrics.SetActiveCalls(p.sessions.ActiveCount())
	events.Emit(ctx, p.events, p.log, events.Event{
		Type:       events.TypeStatusChanged,
		CallID:     e.CallID,
		Status:     string(tr.To),
		Detail:     e.RawStatus,
		OccurredAt: time.Now().UTC(),
	})
	return p.observe("status", OutcomeApplied), nil
}

func (p *Processor) processContent(e ContentEvent) (Outcome, error) {
	kind := string(e.Kind)
	entry := calls.ContentEntry{SourceID: e.SourceID}

	var (
		added bool
		err   error
	)
	switch e.Kind {
	case ContentTranscription:
		entry.Text = e.Text
		added, err = p.sessions.AppendTranscription(e.CallID, entry)
	case ContentRecording:
		entry.URL = e.RecordingURL
		added, err = p.sessions.AppendRecording(e.CallID, entry)
	default:
		return p.Reject("unknown", malformed("content kind %q", e.Kind)), nil
	}

	switch {
	case errors.Is(err, calls.ErrNotFound):
		p.log.Debug("content for unknown call dropped", "call_id", e.CallID, "kind", kind)
		return p.observe(kind, OutcomeDropped), nil
	case err != nil:
		return "", err
	case !added:
		return p.observe(kind, OutcomeDuplicate), nil
	}
	return p.observe(kind, OutcomeApplied), nil
}

func (p *Processor) observe(kind string, o Outcome) Outcome {
	p.metrics.ObserveWebhook(kind, string(o))
	return o
}
