package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound         = errors.New("calls: session not found")
	ErrDuplicateSession = errors.New("calls: duplicate session")
	ErrSessionInactive  = errors.New("calls: session inactive")
	ErrInvalidStatus    = errors.New("calls: invalid status")
	ErrNotOwner         = errors.New("calls: session placed by another operator")
)

// TerminalHook runs after a session reaches a terminal status. It receives a
// snapshot and is called outside the registry lock, once per session.
type TerminalHook func(CallSession)

// Registry is the single owner of CallSession state.
//
// All reads return snapshots; callers never hold references into the table.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*record
	hooks    []TerminalHook

	clock func() time.Time
}

type record struct {
	session CallSession
	// seen holds (kind, sourceID) keys of content already appended.
	seen map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*record),
		clock:    time.Now,
	}
}

// OnTerminal registers a hook for terminal transitions.
func (r *Registry) OnTerminal(hook TerminalHook) {
	if hook == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

type CreateOption func(*CallSession)

// WithOperator records which operator placed the call.
func WithOperator(userID string) CreateOption {
	return func(s *CallSession) { s.Operator = userID }
}

func (r *Registry) Create(id, destination string, opts ...CreateOption) (CallSession, error) {
	if id == "" {
		return CallSession{}, errors.New("calls: id required")
	}
	s := CallSession{
		ID:           id,
		Destination:  destination,
		Status:       StatusInitiated,
		IsActive:     true,
		StartTime:    r.clock().UTC(),
		MessagesSent: []MessageEntry{},
	}
	for _, opt := range opts {
		opt(&s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return CallSession{}, ErrDuplicateSession
	}
	r.sessions[id] = &record{session: s, seen: make(map[string]struct{})}
	return clone(&s), nil
}

func (r *Registry) Get(id string) (CallSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return clone(&rec.session), nil
}

// IsActive is a cheap liveness probe that avoids copying message history.
func (r *Registry) IsActive(id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	return rec.session.IsActive, nil
}

// UpdateStatus moves a session along its lifecycle.
//
// Updates that repeat the current status or move backwards
// (initiated < ringing < in_progress < terminal) are ignored and reported
// with Applied=false. Terminal statuses are absorbing.
func (r *Registry) UpdateStatus(id string, status Status) (Transition, error) {
	if !status.Valid() {
		return Transition{}, ErrInvalidStatus
	}

	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return Transition{}, ErrNotFound
	}
	s := &rec.session
	tr := Transition{CallID: id, From: s.Status, To: status}
	if s.Status.Terminal() || status.rank() <= s.Status.rank() {
		r.mu.Unlock()
		return tr, nil
	}

	s.Status = status
	s.IsActive = !status.Terminal()
	tr.Applied = true

	var (
		hooks []TerminalHook
		snap  CallSession
	)
	if status.Terminal() {
		now := r.clock().UTC()
		s.EndedAt = &now
		hooks = append(hooks, r.hooks...)
		snap = clone(s)
	}
	r.mu.Unlock()

	for _, h := range hooks {
		h(snap)
	}
	return tr, nil
}

// AppendMessage records a spoken message. Inactive sessions reject it.
func (r *Registry) AppendMessage(id string, m MessageEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if !rec.session.IsActive {
		return ErrSessionInactive
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.clock().UTC()
	}
	rec.session.MessagesSent = append(rec.session.MessagesSent, m)
	return nil
}

// AppendTranscription records transcription text. Content is accepted after
// termination so a tail that raced the terminal webhook is kept. Entries with a
// SourceID already seen for this call are skipped and reported as false.
func (r *Registry) AppendTranscription(id string, e ContentEntry) (bool, error) {
	return r.appendContent(id, "transcription", e)
}

// AppendRecording records a recording reference, with the same policy as
// AppendTranscription.
func (r *Registry) AppendRecording(id string, e ContentEntry) (bool, error) {
	return r.appendContent(id, "recording", e)
}

func (r *Registry) appendContent(id, kind string, e ContentEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.SourceID != "" {
		key := kind + ":" + e.SourceID
		if _, dup := rec.seen[key]; dup {
			return false, nil
		}
		rec.seen[key] = struct{}{}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.clock().UTC()
	}
	if kind == "recording" {
		rec.session.Recordings = append(rec.session.Recordings, e)
	} else {
		rec.session.Transcriptions = append(rec.session.Transcriptions, e)
	}
	return true, nil
}

// List returns a snapshot of every tracked session ordered by start time.
func (r *Registry) List() []CallSession {
	r.mu.RLock()
	out := make([]CallSession, 0, len(r.sessions))
	for _, rec := range r.sessions {
		out = append(out, clone(&rec.session))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// ActiveCount returns the number of non-terminal sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.sessions {
		if rec.session.IsActive {
			n++
		}
	}
	return n
}

// Len returns the number of tracked sessions, active or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// EvictEnded drops terminal sessions that ended at least retention ago and
// returns how many were removed.
func (r *Registry) EvictEnded(retention time.Duration) int {
	cutoff := r.clock().UTC().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rec := range r.sessions {
		s := rec.session
		if s.IsActive || s.EndedAt == nil || s.EndedAt.After(cutoff) {
			continue
		}
		delete(r.sessions, id)
		n++
	}
	return n
}

// StartJanitor evicts ended sessions every interval until ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.EvictEnded(retention)
			}
		}
	}()
}

func clone(s *CallSession) CallSession {
	c := *s
	c.MessagesSent = append([]MessageEntry{}, s.MessagesSent...)
	if s.Transcriptions != nil {
		c.Transcriptions = append([]ContentEntry(nil), s.Transcriptions...)
	}
	if s.Recordings != nil {
		c.Recordings = append([]ContentEntry(nil), s.Recordings...)
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return c
}
