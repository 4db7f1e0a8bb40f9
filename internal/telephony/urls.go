package telephony

import "strings"

// URLs builds the public callback and stream URLs handed to the control plane.
type URLs struct {
	Base string
}

func NewURLs(publicBaseURL string) URLs {
	return URLs{Base: strings.TrimRight(publicBaseURL, "/")}
}

func (u URLs) OutgoingCall() string  { return u.Base + "/twiml/outgoing-call" }
func (u URLs) ContinueCall() string  { return u.Base + "/twiml/continue-call" }
func (u URLs) CallStatus() string    { return u.Base + "/webhooks/twilio/call-status" }
func (u URLs) Transcription() string { return u.Base + "/webhooks/twilio/transcription" }
func (u URLs) Recording() string     { return u.Base + "/webhooks/twilio/recording" }

// MediaStream is the producer websocket URL; the scheme follows the base
// (https -> wss, http -> ws).
func (u URLs) MediaStream() string {
	return websocketBase(u.Base) + "/media-stream"
}

func websocketBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
