package operator

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"tty-relay/internal/audit"
	"tty-relay/internal/calls"
	"tty-relay/internal/events"
	"tty-relay/internal/observability"
	"tty-relay/internal/rbac"
	"tty-relay/internal/telephony"

	"github.com/google/uuid"
)

var (
	ErrInvalidDestination = errors.New("operator: destination must be an E.164 number")
	ErrCapacityReached    = errors.New("operator: concurrent call limit reached")
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)

// Sessions is the registry view the command surface needs.
type Sessions interface {
	Create(id, destination string, opts ...calls.CreateOption) (calls.CallSession, error)
	Get(id string) (calls.CallSession, error)
	UpdateStatus(id string, status calls.Status) (calls.Transition, error)
	ActiveCount() int
}

// Config describes how calls are placed.
type Config struct {
	From   string
	URLs   telephony.URLs
	Record bool
}

// Service is the operator command surface: it places and ends calls and owns
// the side effects of a session reaching a terminal status.
//
// Invariants:
// - A session exists in the registry only after the control plane accepted the call.
// - A concurrency slot is held from placement until the terminal hook runs, once.
type Service struct {
	sessions Sessions
	cp       telephony.ControlPlane
	cfg      Config
	limiter  Limiter

	audit   *audit.Service
	events  events.Publisher
	metrics *observability.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	slots   map[string]slot
	endedBy map[string]EndRequest
}

type slot struct {
	operator string
	id       string
}

type Option func(*Service)

func WithLimiter(l Limiter) Option { return func(s *Service) { s.limiter = l } }
func WithAudit(a *audit.Service) Option { return func(s *Service) { s.audit = a } }
func WithEvents(p events.Publisher) Option { return func(s *Service) { s.events = p } }
func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func NewService(sessions Sessions, cp telephony.ControlPlane, cfg Config, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		cp:       cp,
		cfg:      cfg,
		limiter:  NopLimiter{},
		log:      slog.Default(),
		slots:    map[string]slot{},
		endedBy:  map[string]EndRequest{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NopLimiter{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

type CreateRequest struct {
	To string

	Operator string
	Role     string
	IP       string
}

// Create places an outbound call and starts tracking it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (calls.CallSession, error) {
	to := strings.TrimSpace(req.To)
	if !e164.MatchString(to) {
		return calls.CallSession{}, ErrInvalidDestination
	}

	var held *slot
	if req.Operator != "" {
		sl := slot{operator: req.Operator, id: uuid.NewString()}
		ok, err := s.limiter.Acquire(ctx, sl.operator, sl.id)
		if err != nil {
			return calls.CallSession{}, err
		}
		if !ok {
			return calls.CallSession{}, ErrCapacityReached
		}
		held = &sl
	}

	callReq := telephony.CreateCallRequest{
		To:             to,
		From:           s.cfg.From,
		URL:            s.cfg.URLs.OutgoingCall(),
		StatusCallback: s.cfg.URLs.CallStatus(),
		StatusCallbackEvents: []string{
			"initiated", "ringing", "answered", "completed",
		},
	}
	if s.cfg.Record {
		callReq.Record = true
		callReq.RecordingStatusCallback = s.cfg.URLs.Recording()
	}

	res, err := s.cp.CreateCall(ctx, callReq)
	if err != nil {
		s.metrics.ObserveControlPlaneError(telephony.OpCreateCall)
		s.release(ctx, held)
		return calls.CallSession{}, err
	}

	// The slot is tracked before the session exists so a terminal webhook
	// right after Create still releases it.
	tracked := false
	if held != nil {
		s.mu.Lock()
		if _, exists := s.slots[res.CallID]; !exists {
			s.slots[res.CallID] = *held
			tracked = true
		}
		s.mu.Unlock()
	}

	sess, err := s.sessions.Create(res.CallID, to, calls.WithOperator(req.Operator))
	if err != nil {
		s.log.Warn("placed call not tracked", "call_id", res.CallID, "err", err)
		if tracked {
			s.mu.Lock()
			delete(s.slots, res.CallID)
			s.mu.Unlock()
		}
		s.release(ctx, held)
		return calls.CallSession{}, err
	}
	s.metrics.SetActiveCalls(s.sessions.ActiveCount())

	s.audit.Record(ctx, audit.Event{
		CallID:    sess.ID,
		Type:      audit.EventTypeCallCreated,
		Actor:     req.Operator,
		ActorRole: req.Role,
		IPAddress: req.IP,
		Message:   "call placed",
		Metadata:  audit.Metadata(map[string]any{"destination": to, "record": s.cfg.Record}),
	})
	events.Emit(ctx, s.events, s.log, events.Event{
		Type:       events.TypeCallCreated,
		CallID:     sess.ID,
		Status:     string(sess.Status),
		Operator:   req.Operator,
		OccurredAt: sess.StartTime,
	})
	return sess, nil
}

type EndRequest struct {
	CallID string

	Actor string
	Role  string
	IP    string
}

// End speaks a goodbye, hangs up and marks the session completed. Only the
// placing operator or an admin may end a call. A control plane failure does
// not keep the session open.
func (s *Service) End(ctx context.Context, req EndRequest) (calls.CallSession, error) {
	sess, err := s.sessions.Get(req.CallID)
	if err != nil {
		return calls.CallSession{}, err
	}
	if !rbac.IsAdmin(req.Role) && !sess.ControlledBy(req.Actor) {
		return calls.CallSession{}, calls.ErrNotOwner
	}
	if !sess.IsActive {
		return sess, calls.ErrSessionInactive
	}

	twiml, err := telephony.RenderHangup(telephony.DefaultGoodbye)
	if err != nil {
		return calls.CallSession{}, err
	}
	if err := s.cp.UpdateCall(ctx, sess.ID, twiml); err != nil {
		s.metrics.ObserveControlPlaneError(telephony.OpUpdateCall)
		s.log.Warn("hangup failed, call may have already ended", "call_id", sess.ID, "err", err)
	}

	s.mu.Lock()
	s.endedBy[sess.ID] = req
	s.mu.Unlock()

	tr, err := s.sessions.UpdateStatus(sess.ID, calls.StatusCompleted)
	if err != nil || !tr.Applied {
		// A racing webhook already ended the call; its hook has run.
		s.mu.Lock()
		delete(s.endedBy, sess.ID)
		s.mu.Unlock()
	}
	if err != nil {
		return calls.CallSession{}, err
	}
	return s.sessions.Get(sess.ID)
}

// OnSessionTerminal is registered as a registry terminal hook.
func (s *Service) OnSessionTerminal(sess calls.CallSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	held, ok := s.slots[sess.ID]
	by, byOperator := s.endedBy[sess.ID]
	delete(s.slots, sess.ID)
	delete(s.endedBy, sess.ID)
	s.mu.Unlock()
	if ok {
		s.release(ctx, &held)
	}

	s.metrics.SetActiveCalls(s.sessions.ActiveCount())

	endedAt := time.Now().UTC()
	if sess.EndedAt != nil {
		endedAt = *sess.EndedAt
	}
	events.Emit(ctx, s.events, s.log, events.Event{
		Type:       events.TypeCallEnded,
		CallID:     sess.ID,
		Status:     string(sess.Status),
		Operator:   sess.Operator,
		OccurredAt: endedAt,
	})
	ev := audit.Event{
		CallID:   sess.ID,
		Type:     audit.EventTypeCallEnded,
		Actor:    sess.Operator,
		Message:  "call ended with status " + string(sess.Status),
		Metadata: audit.Metadata(map[string]any{"status": string(sess.Status), "messages": len(sess.MessagesSent), "by_operator": byOperator}),
	}
	if byOperator {
		ev.Actor, ev.ActorRole, ev.IPAddress = by.Actor, by.Role, by.IP
	}
	s.audit.Record(ctx, ev)
	s.log.Info("call ended", "call_id", sess.ID, "status", string(sess.Status), "messages", len(sess.MessagesSent))
}

// HeldSlots reports the number of sessions holding a concurrency slot.
func (s *Service) HeldSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *Service) release(ctx context.Context, sl *slot) {
	if sl == nil {
		return
	}
	if err := s.limiter.Release(ctx, sl.operator, sl.id); err != nil {
		s.log.Warn("concurrency slot release failed", "operator", sl.operator, "err", err)
	}
}
