package relay

import (
	"errors"
	"sync"
	"testing"

	"tty-relay/internal/calls"
)

type fakeListener struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (f *fakeListener) Send(m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeListener) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.msgs...)
}

func (f *fakeListener) count(typ string) int {
	n := 0
	for _, m := range f.messages() {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func newTestHub(t *testing.T) (*Hub, *calls.Registry) {
	t.Helper()
	reg := calls.NewRegistry()
	hub := NewHub(reg, nil, nil)
	reg.OnTerminal(hub.SessionEnded)
	return hub, reg
}

func mustCreate(t *testing.T, reg *calls.Registry, id string) {
	t.Helper()
	if _, err := reg.Create(id, "+15551234567"); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestJoinAcknowledgesAndForwards(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")

	l := &fakeListener{}
	if err := hub.Join("CA1", l); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := hub.OnProducerFrame("CA1", []byte{1, 2, 3}); got != FrameForwarded {
		t.Fatalf("expected forwarded, got %s", got)
	}

	msgs := l.messages()
	if len(msgs) != 2 || msgs[0].Type != TypeJoined || msgs[0].CallID != "CA1" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if msgs[1].Type != TypeAudio || string(msgs[1].Payload) != "\x01\x02\x03" {
		t.Fatalf("expected unmodified audio frame, got %+v", msgs[1])
	}
	if !hub.Stats("CA1").ListenerConnected {
		t.Fatalf("expected listener connected")
	}
}

func TestFramesWithoutListenerAreDropped(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")
	if got := hub.OnProducerFrame("CA1", []byte("x")); got != FrameNoListener {
		t.Fatalf("expected no_listener, got %s", got)
	}
}

func TestLastJoinWins(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")

	x, y := &fakeListener{}, &fakeListener{}
	_ = hub.Join("CA1", x)
	_ = hub.Join("CA1", y)

	for i := 0; i < 3; i++ {
		hub.OnProducerFrame("CA1", []byte{byte(i)})
	}
	if x.count(TypeAudio) != 0 {
		t.Fatalf("replaced listener received %d frames", x.count(TypeAudio))
	}
	if y.count(TypeAudio) != 3 {
		t.Fatalf("expected 3 frames on current listener, got %d", y.count(TypeAudio))
	}

	// The replaced listener disconnecting must not drop the current binding.
	hub.OnListenerDisconnect("CA1", x)
	if got := hub.OnProducerFrame("CA1", []byte("z")); got != FrameForwarded {
		t.Fatalf("expected forwarded after superseded disconnect, got %s", got)
	}

	_, _ = reg.UpdateStatus("CA1", calls.StatusCompleted)
	if x.count(TypeCallEnded) != 0 {
		t.Fatalf("replaced listener must not be notified")
	}
	if y.count(TypeCallEnded) != 1 {
		t.Fatalf("expected call-ended on current listener")
	}
}

func TestDisconnectStopsForwarding(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")

	l := &fakeListener{}
	_ = hub.Join("CA1", l)
	for i := 0; i < 3; i++ {
		hub.OnProducerFrame("CA1", []byte{byte(i)})
	}
	hub.OnListenerDisconnect("CA1", l)
	for i := 0; i < 2; i++ {
		if got := hub.OnProducerFrame("CA1", []byte{byte(i)}); got != FrameNoListener {
			t.Fatalf("expected no_listener after disconnect, got %s", got)
		}
	}
	if got := l.count(TypeAudio); got != 3 {
		t.Fatalf("expected exactly 3 frames, got %d", got)
	}
	if hub.ListenerCount() != 0 {
		t.Fatalf("expected no bindings")
	}
}

func TestTerminalSendsCallEndedOnce(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")

	l := &fakeListener{}
	_ = hub.Join("CA1", l)
	hub.OnProducerFrame("CA1", []byte("a"))

	_, _ = reg.UpdateStatus("CA1", calls.StatusFailed)
	_, _ = reg.UpdateStatus("CA1", calls.StatusFailed)
	hub.OnSessionTerminal("CA1", "failed")

	if got := hub.OnProducerFrame("CA1", []byte("late")); got == FrameForwarded {
		t.Fatalf("frame forwarded after terminal")
	}

	msgs := l.messages()
	last := msgs[len(msgs)-1]
	if last.Type != TypeCallEnded || last.Status != "failed" {
		t.Fatalf("expected call-ended with status as last message, got %+v", last)
	}
	if l.count(TypeCallEnded) != 1 {
		t.Fatalf("expected call-ended exactly once, got %d", l.count(TypeCallEnded))
	}
}

func TestNoFrameAfterCallEnded(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")
	l := &fakeListener{}
	_ = hub.Join("CA1", l)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.OnProducerFrame("CA1", []byte("f"))
				}
			}
		}()
	}
	_, _ = reg.UpdateStatus("CA1", calls.StatusCompleted)
	close(stop)
	wg.Wait()

	msgs := l.messages()
	if msgs[len(msgs)-1].Type != TypeCallEnded {
		t.Fatalf("expected call-ended to be the final message, got %+v", msgs[len(msgs)-1])
	}
}

func TestJoinBeforeSessionExists(t *testing.T) {
	hub, reg := newTestHub(t)

	l := &fakeListener{}
	if err := hub.Join("CA9", l); err != nil {
		t.Fatalf("expected early join to be accepted, got %v", err)
	}
	if l.count(TypeJoined) != 1 {
		t.Fatalf("expected joined ack")
	}
	if got := hub.OnProducerFrame("CA9", []byte("a")); got != FrameInactive {
		t.Fatalf("expected frames deferred until session exists, got %s", got)
	}

	mustCreate(t, reg, "CA9")
	if got := hub.OnProducerFrame("CA9", []byte("b")); got != FrameForwarded {
		t.Fatalf("expected forwarded once session exists, got %s", got)
	}
}

func TestJoinTerminalSession(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")
	_, _ = reg.UpdateStatus("CA1", calls.StatusCanceled)

	l := &fakeListener{}
	if err := hub.Join("CA1", l); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}
	if l.count(TypeCallEnded) != 1 || l.count(TypeJoined) != 0 {
		t.Fatalf("unexpected messages: %+v", l.messages())
	}
	if hub.ListenerCount() != 0 {
		t.Fatalf("expected no binding for terminal session")
	}
}

func TestMutePausesForwarding(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")
	l := &fakeListener{}
	_ = hub.Join("CA1", l)

	if err := hub.SetMuted("CA1", l, true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if got := hub.OnProducerFrame("CA1", []byte("a")); got != FrameMuted {
		t.Fatalf("expected muted, got %s", got)
	}
	_ = hub.SetMuted("CA1", l, false)
	if got := hub.OnProducerFrame("CA1", []byte("b")); got != FrameForwarded {
		t.Fatalf("expected forwarded after unmute, got %s", got)
	}

	other := &fakeListener{}
	if err := hub.SetMuted("CA1", other, true); !errors.Is(err, ErrNotBound) {
		t.Fatalf("expected ErrNotBound, got %v", err)
	}
}

func TestSendFailureIsReported(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")
	l := &fakeListener{}
	_ = hub.Join("CA1", l)

	l.mu.Lock()
	l.err = errors.New("broken pipe")
	l.mu.Unlock()
	if got := hub.OnProducerFrame("CA1", []byte("a")); got != FrameSendFailed {
		t.Fatalf("expected send_failed, got %s", got)
	}
}

func TestProducerSlot(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")

	release, err := hub.AttachProducer("CA1")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := hub.AttachProducer("CA1"); !errors.Is(err, ErrProducerAttached) {
		t.Fatalf("expected ErrProducerAttached, got %v", err)
	}
	if !hub.Stats("CA1").StreamActive {
		t.Fatalf("expected stream active")
	}
	release()
	release()
	if hub.Stats("CA1").StreamActive {
		t.Fatalf("expected stream released")
	}
	if _, err := hub.AttachProducer("CA1"); err != nil {
		t.Fatalf("expected re-attach after release, got %v", err)
	}
}

func TestProducerRequiresActiveSession(t *testing.T) {
	hub, reg := newTestHub(t)

	if _, err := hub.AttachProducer("CAnever"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected calls.ErrNotFound, got %v", err)
	}
	mustCreate(t, reg, "CA1")
	_, _ = reg.UpdateStatus("CA1", calls.StatusCompleted)
	if _, err := hub.AttachProducer("CA1"); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}
	if hub.Stats("CAnever").StreamActive || hub.Stats("CA1").StreamActive {
		t.Fatalf("expected no producer slot claimed")
	}
}

// scriptedSessions answers Get with each session in turn and then repeats the
// last one.
type scriptedSessions struct {
	mu  sync.Mutex
	seq []calls.CallSession
}

func (s *scriptedSessions) Get(string) (calls.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.seq[0]
	if len(s.seq) > 1 {
		s.seq = s.seq[1:]
	}
	return cur, nil
}

func (s *scriptedSessions) IsActive(string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq[0].IsActive, nil
}

func TestJoinRacingTerminalCarriesStatus(t *testing.T) {
	sessions := &scriptedSessions{seq: []calls.CallSession{
		{ID: "CA1", Status: calls.StatusInProgress, IsActive: true},
		{ID: "CA1", Status: calls.StatusFailed},
	}}
	hub := NewHub(sessions, nil, nil)

	l := &fakeListener{}
	if err := hub.Join("CA1", l); err != nil {
		t.Fatalf("join: %v", err)
	}
	msgs := l.messages()
	if len(msgs) != 2 || msgs[1].Type != TypeCallEnded || msgs[1].Status != "failed" {
		t.Fatalf("expected joined then call-ended with status, got %+v", msgs)
	}
	if hub.ListenerCount() != 0 {
		t.Fatalf("expected binding torn down")
	}
}

func TestJoinTerminalSessionCarriesStatus(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")
	_, _ = reg.UpdateStatus("CA1", calls.StatusCanceled)

	l := &fakeListener{}
	_ = hub.Join("CA1", l)
	msgs := l.messages()
	if len(msgs) != 1 || msgs[0].Status != "canceled" {
		t.Fatalf("expected call-ended with canceled, got %+v", msgs)
	}
}

func TestRejoinKeepsMuteState(t *testing.T) {
	hub, reg := newTestHub(t)
	mustCreate(t, reg, "CA1")
	l := &fakeListener{}
	_ = hub.Join("CA1", l)
	_ = hub.SetMuted("CA1", l, true)

	_ = hub.Join("CA1", l)
	if got := hub.OnProducerFrame("CA1", []byte("a")); got != FrameMuted {
		t.Fatalf("expected rejoin to stay muted, got %s", got)
	}

	other := &fakeListener{}
	_ = hub.Join("CA1", other)
	if got := hub.OnProducerFrame("CA1", []byte("b")); got != FrameForwarded {
		t.Fatalf("expected a new listener to start unmuted, got %s", got)
	}
}
