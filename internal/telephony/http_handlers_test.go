package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"tty-relay/internal/calls"

	"github.com/gin-gonic/gin"
)

func newWebhookRouter(t *testing.T, transcribe bool) (*gin.Engine, *calls.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := calls.NewRegistry()
	h := TwilioWebhookHandler{
		Processor:  NewProcessor(reg, nil, nil, nil),
		URLs:       NewURLs("https://relay.example/"),
		Transcribe: transcribe,
	}
	r := gin.New()
	r.POST("/twiml/outgoing-call", h.HandleOutgoingCall)
	r.POST("/twiml/continue-call", h.HandleContinueCall)
	r.POST("/webhooks/twilio/call-status", h.HandleCallStatus)
	r.POST("/webhooks/twilio/transcription", h.HandleTranscription)
	r.POST("/webhooks/twilio/recording", h.HandleRecording)
	return r, reg
}

func TestHandleOutgoingCall(t *testing.T) {
	r, _ := newWebhookRouter(t, true)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/twiml/outgoing-call", url.Values{"CallSid": {"CA1"}}))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		"wss://relay.example/media-stream",
		"https://relay.example/webhooks/twilio/transcription",
		"https://relay.example/twiml/continue-call",
		"TTY communication service",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body: %s", want, body)
		}
	}
}

func TestHandleContinueCall(t *testing.T) {
	r, _ := newWebhookRouter(t, false)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/twiml/continue-call", url.Values{"CallSid": {"CA1"}}))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Gather") {
		t.Fatalf("expected gather document, got %d %s", w.Code, w.Body.String())
	}
}

func TestHandleCallStatus(t *testing.T) {
	r, reg := newWebhookRouter(t, false)
	_, _ = reg.Create("CA1", "+15551234567")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/call-status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}}))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	s, _ := reg.Get("CA1")
	if s.Status != calls.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", s.Status)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/call-status", url.Values{"CallSid": {"CA404"}, "CallStatus": {"completed"}}))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected unknown call to be acknowledged, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/call-status", url.Values{"CallStatus": {"completed"}}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed callback, got %d", w.Code)
	}
}

func TestHandleContentCallbacks(t *testing.T) {
	r, reg := newWebhookRouter(t, true)
	_, _ = reg.Create("CA1", "+15551234567")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/transcription", url.Values{
		"CallSid":            {"CA1"},
		"TranscriptionEvent": {"transcription-started"},
	}))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for lifecycle event, got %d", w.Code)
	}

	for i := 0; i < 2; i++ {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, formRequest("/webhooks/twilio/transcription", url.Values{
			"CallSid":           {"CA1"},
			"TranscriptionSid":  {"TR1"},
			"TranscriptionText": {"hello"},
		}))
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/recording", url.Values{
		"CallSid":      {"CA1"},
		"RecordingSid": {"RE1"},
		"RecordingUrl": {"https://api.twilio.com/rec/RE1"},
	}))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	s, _ := reg.Get("CA1")
	if len(s.Transcriptions) != 1 || len(s.Recordings) != 1 {
		t.Fatalf("unexpected content: %d transcriptions, %d recordings", len(s.Transcriptions), len(s.Recordings))
	}
}

func TestURLsMediaStreamScheme(t *testing.T) {
	if got := NewURLs("http://localhost:8080").MediaStream(); got != "ws://localhost:8080/media-stream" {
		t.Fatalf("unexpected media stream url %q", got)
	}
	if got := NewURLs("https://relay.example/").MediaStream(); got != "wss://relay.example/media-stream" {
		t.Fatalf("unexpected media stream url %q", got)
	}
}
