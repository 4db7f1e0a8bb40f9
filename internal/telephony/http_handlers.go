package telephony

import (
	"net/http"

	"tty-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Greeting and goodbye spoken on every call.
var (
	DefaultGreeting = Say{
		EscapedText: EscapeSpeech("Hello, you are now connected to a TTY communication service."),
		Voice:       "alice",
		Rate:        "1.0",
	}
	DefaultGoodbye = Say{
		EscapedText: EscapeSpeech("Thank you for using TTY service. Goodbye."),
		Voice:       "alice",
	}
)

// TwilioWebhookHandler converts Twilio callbacks to internal events and
// serves the TwiML documents the control plane fetches.
//
// No business logic here. Session state changes go through the Processor.
type TwilioWebhookHandler struct {
	Processor *Processor
	URLs      URLs

	// Transcribe enables real-time transcription on answered calls.
	Transcribe bool
}

func (h TwilioWebhookHandler) HandleOutgoingCall(c *gin.Context) {
	log := logger.FromGin(c)

	twiml, err := RenderOutgoingCall(OutgoingCallOptions{
		Greeting:              DefaultGreeting,
		StreamURL:             h.URLs.MediaStream(),
		TranscriptionCallback: h.transcriptionCallback(),
		ContinueURL:           h.URLs.ContinueCall(),
	})
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	log.Info("outgoing call answered", "call_id", c.PostForm("CallSid"))
	writeTwiML(c, twiml)
}

func (h TwilioWebhookHandler) HandleContinueCall(c *gin.Context) {
	twiml, err := RenderContinue(h.URLs.ContinueCall())
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	writeTwiML(c, twiml)
}

func (h TwilioWebhookHandler) HandleCallStatus(c *gin.Context) {
	ev, err := ParseStatusCallback(c.Request)
	if err != nil {
		h.Processor.Reject("status", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status callback"})
		return
	}
	h.process(c, ev)
}

func (h TwilioWebhookHandler) HandleTranscription(c *gin.Context) {
	ev, err := ParseTranscriptionCallback(c.Request)
	if err != nil {
		h.Processor.Reject("transcription", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid transcription callback"})
		return
	}
	if ev == nil {
		c.Status(http.StatusNoContent)
		return
	}
	h.process(c, *ev)
}

func (h TwilioWebhookHandler) HandleRecording(c *gin.Context) {
	ev, err := ParseRecordingCallback(c.Request)
	if err != nil {
		h.Processor.Reject("recording", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid recording callback"})
		return
	}
	h.process(c, ev)
}

func (h TwilioWebhookHandler) process(c *gin.Context, ev Event) {
	if h.Processor == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processor not configured"})
		return
	}
	if _, err := h.Processor.Process(c.Request.Context(), ev); err != nil {
		logger.FromGin(c).Error("webhook processing failed", "call_id", ev.callID(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h TwilioWebhookHandler) transcriptionCallback() string {
	if !h.Transcribe {
		return ""
	}
	return h.URLs.Transcription()
}

func writeTwiML(c *gin.Context, twiml string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
