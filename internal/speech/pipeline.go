package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"tty-relay/internal/audit"
	"tty-relay/internal/calls"
	"tty-relay/internal/events"
	"tty-relay/internal/observability"
	"tty-relay/internal/rbac"
	"tty-relay/internal/telephony"
)

var (
	ErrEmptyText   = errors.New("speech: text is required")
	ErrTextTooLong = errors.New("speech: text too long")
)

// MaxTextRunes bounds a single message.
const MaxTextRunes = 4096

// Sessions is the registry view the pipeline needs.
type Sessions interface {
	Get(id string) (calls.CallSession, error)
	AppendMessage(id string, m calls.MessageEntry) error
}

type Request struct {
	CallID string
	Text   string
	Voice  string
	Rate   string

	// Actor and IP are recorded in the audit trail. Actor must have placed
	// the call unless Role is admin.
	Actor string
	Role  string
	IP    string
}

type AttemptOutcome string

const (
	AttemptDelivered AttemptOutcome = "delivered"
	// AttemptRejected means the control plane answered with an error.
	AttemptRejected AttemptOutcome = "rejected"
	// AttemptFailed means the request never got an upstream answer.
	AttemptFailed AttemptOutcome = "failed"
)

type Attempt struct {
	Strategy string         `json:"strategy"`
	Outcome  AttemptOutcome `json:"outcome"`
	Error    string         `json:"error,omitempty"`

	err error
}

func (a Attempt) Err() error { return a.err }

type Result struct {
	CallID   string             `json:"call_id"`
	Strategy string             `json:"strategy"`
	Message  calls.MessageEntry `json:"message"`
	Attempts []Attempt          `json:"attempts"`

	// Recorded is false when the call ended while the message was in flight,
	// so it was delivered but not appended to the session.
	Recorded bool `json:"recorded"`
}

// DeliveryError reports that every strategy failed, with each cause.
type DeliveryError struct {
	CallID   string
	Attempts []Attempt
}

func (e *DeliveryError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Strategy+": "+a.Error)
	}
	return fmt.Sprintf("speech: delivery failed for %s: %s", e.CallID, strings.Join(parts, "; "))
}

func (e *DeliveryError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.err != nil {
			out = append(out, a.err)
		}
	}
	return out
}

// Pipeline turns operator text into speech inside a live call.
//
// Strategies are tried in order and the first success wins; there is no retry
// of a strategy. A message is appended to the session only after a delivery
// succeeded.
type Pipeline struct {
	sessions   Sessions
	strategies []Strategy

	audit   *audit.Service
	events  events.Publisher
	metrics *observability.Metrics
	log     *slog.Logger
	clock   func() time.Time
}

type Option func(*Pipeline)

func WithAudit(a *audit.Service) Option { return func(p *Pipeline) { p.audit = a } }
func WithEvents(pub events.Publisher) Option { return func(p *Pipeline) { p.events = pub } }
func WithMetrics(m *observability.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.log = l } }

func NewPipeline(sessions Sessions, strategies []Strategy, opts ...Option) *Pipeline {
	p := &Pipeline{
		sessions:   sessions,
		strategies: strategies,
		log:        slog.Default(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Speak delivers req.Text into the call. It fails with calls.ErrNotFound,
// calls.ErrNotOwner or calls.ErrSessionInactive before any delivery, with
// ErrEmptyText or ErrTextTooLong for bad input, and with *DeliveryError when
// every strategy failed.
func (p *Pipeline) Speak(ctx context.Context, req Request) (Result, error) {
	s, err := p.sessions.Get(req.CallID)
	if err != nil {
		return Result{}, err
	}
	if !rbac.IsAdmin(req.Role) && !s.ControlledBy(req.Actor) {
		return Result{}, calls.ErrNotOwner
	}
	if !s.IsActive {
		return Result{}, calls.ErrSessionInactive
	}

	text := strings.TrimSpace(telephony.SanitizeSpeech(req.Text))
	if text == "" {
		return Result{}, ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxTextRunes {
		return Result{}, ErrTextTooLong
	}
	if len(p.strategies) == 0 {
		return Result{}, errors.New("speech: no delivery strategy configured")
	}

	u := Utterance{
		CallID:      s.ID,
		Destination: s.Destination,
		Text:        text,
		Escaped:     telephony.EscapeSpeech(text),
		Voice:       NormalizeVoice(req.Voice),
		Rate:        NormalizeRate(req.Rate),
	}

	start := p.clock()
	res := Result{CallID: s.ID}
	for _, st := range p.strategies {
		err := st.Deliver(ctx, u)
		a := Attempt{Strategy: st.Name(), Outcome: classify(err), err: err}
		if err != nil {
			a.Error = err.Error()
			p.log.Warn("speech delivery attempt failed", "call_id", s.ID, "strategy", a.Strategy, "outcome", string(a.Outcome), "err", err)
		}
		res.Attempts = append(res.Attempts, a)
		p.metrics.ObserveSpeakAttempt(a.Strategy, string(a.Outcome))
		if err == nil {
			res.Strategy = a.Strategy
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if res.Strategy == "" {
		derr := &DeliveryError{CallID: s.ID, Attempts: res.Attempts}
		p.audit.Record(ctx, audit.Event{
			CallID:    s.ID,
			Type:      audit.EventTypeSpeakFailed,
			Actor:     req.Actor,
			IPAddress: req.IP,
			Message:   derr.Error(),
		})
		return res, derr
	}
	p.metrics.ObserveSpeakLatency(p.clock().Sub(start))

	res.Message = calls.MessageEntry{
		Text:      text,
		Escaped:   u.Escaped,
		Voice:     u.Voice,
		Rate:      u.Rate,
		Strategy:  res.Strategy,
		Timestamp: p.clock().UTC(),
	}
	if err := p.sessions.AppendMessage(s.ID, res.Message); err != nil {
		p.log.Warn("spoken message not recorded", "call_id", s.ID, "err", err)
	} else {
		res.Recorded = true
	}

	p.audit.Record(ctx, audit.Event{
		CallID:    s.ID,
		Type:      audit.EventTypeMessageSpoken,
		Actor:     req.Actor,
		IPAddress: req.IP,
		Message:   "message spoken",
		Metadata:  audit.Metadata(map[string]any{"strategy": res.Strategy, "voice": u.Voice, "rate": u.Rate, "chars": utf8.RuneCountInString(text)}),
	})
	events.Emit(ctx, p.events, p.log, events.Event{
		Type:       events.TypeMessageSpoken,
		CallID:     s.ID,
		Operator:   req.Actor,
		Detail:     res.Strategy,
		OccurredAt: res.Message.Timestamp,
	})
	return res, nil
}

func classify(err error) AttemptOutcome {
	if err == nil {
		return AttemptDelivered
	}
	if cpe, ok := telephony.AsControlPlaneError(err); ok && (cpe.Status != 0 || cpe.Code != 0) {
		return AttemptRejected
	}
	return AttemptFailed
}
