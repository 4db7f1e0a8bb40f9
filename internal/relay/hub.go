package relay

import (
	"errors"
	"log/slog"
	"sync"

	"tty-relay/internal/calls"
	"tty-relay/internal/observability"
)

var (
	ErrSessionInactive  = errors.New("relay: session inactive")
	ErrNotBound         = errors.New("relay: listener not bound to call")
	ErrProducerAttached = errors.New("relay: producer already attached")
)

// SessionLookup is the registry view the hub needs.
type SessionLookup interface {
	IsActive(id string) (bool, error)
	Get(id string) (calls.CallSession, error)
}

// Listener is a live playback connection. Implementations must be comparable
// (pointer types); the hub compares them to detect superseded bindings.
type Listener interface {
	Send(Message) error
}

type FrameResult string

const (
	FrameForwarded  FrameResult = "forwarded"
	FrameNoListener FrameResult = "no_listener"
	FrameMuted      FrameResult = "muted"
	FrameInactive   FrameResult = "inactive"
	FrameSendFailed FrameResult = "send_failed"
)

// Hub forwards producer frames to at most one listener per call.
//
// Bindings are weak: a replaced or torn-down listener is never closed by the
// hub, it simply stops receiving. Each binding serializes its own sends, and
// once a binding is closed nothing is written to it again, so no frame can
// follow the call-ended notice.
type Hub struct {
	sessions SessionLookup
	metrics  *observability.Metrics
	log      *slog.Logger

	mu        sync.Mutex
	bindings  map[string]*binding
	producers map[string]struct{}
}

type binding struct {
	listener Listener

	mu     sync.Mutex
	muted  bool
	closed bool
}

func NewHub(sessions SessionLookup, metrics *observability.Metrics, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		sessions:  sessions,
		metrics:   metrics,
		log:       log,
		bindings:  make(map[string]*binding),
		producers: make(map[string]struct{}),
	}
}

// Join binds l to callID, replacing any previous listener, and acknowledges
// with a joined message. A listener joining the same call again keeps its
// mute state.
//
// A call id the registry does not know yet is accepted; frames are forwarded
// once the session exists. A terminal session gets call-ended and no binding.
func (h *Hub) Join(callID string, l Listener) error {
	if status, ended := h.terminalStatus(callID); ended {
		_ = l.Send(callEndedMessage(callID, status))
		return ErrSessionInactive
	}

	b := &binding{listener: l}
	b.mu.Lock()

	h.mu.Lock()
	prev := h.bindings[callID]
	h.bindings[callID] = b
	n := len(h.bindings)
	h.mu.Unlock()
	h.metrics.SetRelayListeners(n)

	if prev != nil {
		prev.mu.Lock()
		if prev.listener == l && !prev.closed {
			b.muted = prev.muted
		}
		prev.closed = true
		prev.mu.Unlock()
		if prev.listener != l {
			h.log.Info("relay listener replaced", "call_id", callID)
		}
	}

	err := l.Send(joinedMessage(callID))
	b.mu.Unlock()
	if err != nil {
		h.log.Warn("relay joined ack failed", "call_id", callID, "err", err)
	}

	// The session may have ended between the first check and the insert, in
	// which case the terminal hook found no binding to notify.
	if status, ended := h.terminalStatus(callID); ended {
		h.teardown(callID, b, status)
	}
	return nil
}

// terminalStatus reports whether callID is a known session that has ended,
// and with which status.
func (h *Hub) terminalStatus(callID string) (string, bool) {
	s, err := h.sessions.Get(callID)
	if err != nil || s.IsActive {
		return "", false
	}
	return string(s.Status), true
}

// OnProducerFrame forwards payload to the bound listener of callID, if any.
// Frames are never queued.
func (h *Hub) OnProducerFrame(callID string, payload []byte) FrameResult {
	res := h.forward(callID, payload)
	h.metrics.ObserveFrame(string(res))
	return res
}

func (h *Hub) forward(callID string, payload []byte) FrameResult {
	h.mu.Lock()
	b := h.bindings[callID]
	h.mu.Unlock()
	if b == nil {
		return FrameNoListener
	}

	active, err := h.sessions.IsActive(callID)
	if err != nil || !active {
		return FrameInactive
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.closed:
		return FrameNoListener
	case b.muted:
		return FrameMuted
	}
	if err := b.listener.Send(audioMessage(callID, payload)); err != nil {
		return FrameSendFailed
	}
	return FrameForwarded
}

// OnSessionTerminal sends call-ended to the bound listener, if any, and drops
// the binding. The connection itself stays open.
func (h *Hub) OnSessionTerminal(callID, status string) {
	h.mu.Lock()
	b := h.bindings[callID]
	delete(h.bindings, callID)
	n := len(h.bindings)
	h.mu.Unlock()
	h.metrics.SetRelayListeners(n)

	if b != nil {
		h.notifyEnded(callID, b, status)
	}
}

// SessionEnded adapts OnSessionTerminal to a registry terminal hook.
func (h *Hub) SessionEnded(s calls.CallSession) {
	h.OnSessionTerminal(s.ID, string(s.Status))
}

// OnListenerDisconnect drops the binding of callID if l is still the current
// listener; a superseded listener is a no-op.
func (h *Hub) OnListenerDisconnect(callID string, l Listener) {
	h.mu.Lock()
	b := h.bindings[callID]
	if b == nil || b.listener != l {
		h.mu.Unlock()
		return
	}
	delete(h.bindings, callID)
	n := len(h.bindings)
	h.mu.Unlock()
	h.metrics.SetRelayListeners(n)

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// SetMuted toggles forwarding for l's binding on callID.
func (h *Hub) SetMuted(callID string, l Listener, muted bool) error {
	h.mu.Lock()
	b := h.bindings[callID]
	h.mu.Unlock()
	if b == nil || b.listener != l {
		return ErrNotBound
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrNotBound
	}
	b.muted = muted
	return nil
}

// AttachProducer claims the producer slot of callID, which must be an active
// session. The returned release frees it and is safe to call more than once.
func (h *Hub) AttachProducer(callID string) (func(), error) {
	active, err := h.sessions.IsActive(callID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrSessionInactive
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.producers[callID]; ok {
		return nil, ErrProducerAttached
	}
	h.producers[callID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.producers, callID)
			h.mu.Unlock()
		})
	}, nil
}

type Stats struct {
	ListenerConnected bool `json:"listener_connected"`
	StreamActive      bool `json:"stream_active"`
}

func (h *Hub) Stats(callID string) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, listener := h.bindings[callID]
	_, producer := h.producers[callID]
	return Stats{ListenerConnected: listener, StreamActive: producer}
}

// ListenerCount returns the number of bound listeners.
func (h *Hub) ListenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bindings)
}

// teardown removes b if it is still current and notifies it once.
func (h *Hub) teardown(callID string, b *binding, status string) {
	h.mu.Lock()
	if h.bindings[callID] == b {
		delete(h.bindings, callID)
	}
	n := len(h.bindings)
	h.mu.Unlock()
	h.metrics.SetRelayListeners(n)

	h.notifyEnded(callID, b, status)
}

func (h *Hub) notifyEnded(callID string, b *binding, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if err := b.listener.Send(callEndedMessage(callID, status)); err != nil {
		h.log.Warn("relay call-ended send failed", "call_id", callID, "err", err)
	}
}
