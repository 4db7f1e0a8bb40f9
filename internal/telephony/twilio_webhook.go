package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tty-relay/internal/calls"
)

// Inbound control-plane notifications are parsed into a closed set of event
// variants at the boundary. Nothing past this file reads raw form fields.
//
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback

var ErrMalformedEvent = errors.New("telephony: malformed event")

// Event is one parsed control-plane notification: StatusEvent or ContentEvent.
type Event interface {
	callID() string
}

// StatusEvent reports a call lifecycle transition.
type StatusEvent struct {
	CallID string
	Status calls.Status
	// RawStatus is the provider's status string before mapping.
	RawStatus string
}

func (e StatusEvent) callID() string { return e.CallID }

type ContentKind string

const (
	ContentTranscription ContentKind = "transcription"
	ContentRecording     ContentKind = "recording"
)

// ContentEvent carries a transcription or a recording reference.
type ContentEvent struct {
	CallID       string
	Kind         ContentKind
	Text         string
	RecordingURL string
	// SourceID is stable across redeliveries of the same content, empty when
	// the provider does not supply one.
	SourceID string
}

func (e ContentEvent) callID() string { return e.CallID }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// MapTwilioStatus maps a Twilio CallStatus onto the session lifecycle.
func MapTwilioStatus(raw string) (calls.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "initiated":
		return calls.StatusInitiated, true
	case "ringing":
		return calls.StatusRinging, true
	case "in-progress", "in_progress", "answered":
		return calls.StatusInProgress, true
	case "completed":
		return calls.StatusCompleted, true
	case "busy", "no-answer", "failed":
		return calls.StatusFailed, true
	case "canceled":
		return calls.StatusCanceled, true
	default:
		return "", false
	}
}

// ParseStatusCallback parses a call status callback form.
func ParseStatusCallback(r *http.Request) (StatusEvent, error) {
	if err := r.ParseForm(); err != nil {
		return StatusEvent{}, malformed("parse form: %v", err)
	}
	callID := strings.TrimSpace(r.PostFormValue("CallSid"))
	if callID == "" {
		return StatusEvent{}, malformed("missing CallSid")
	}
	raw := r.PostFormValue("CallStatus")
	st, ok := MapTwilioStatus(raw)
	if !ok {
		return StatusEvent{}, malformed("unknown CallStatus %q", raw)
	}
	return StatusEvent{CallID: callID, Status: st, RawStatus: raw}, nil
}

// ParseTranscriptionCallback accepts both the classic recording-transcription
// callback (TranscriptionSid/TranscriptionText) and real-time transcription
// events (TranscriptionEvent=transcription-content). Real-time lifecycle
// events other than content return a nil event and no error.
func ParseTranscriptionCallback(r *http.Request) (*ContentEvent, error) {
	if err := r.ParseForm(); err != nil {
		return nil, malformed("parse form: %v", err)
	}
	callID := strings.TrimSpace(r.PostFormValue("CallSid"))
	if callID == "" {
		return nil, malformed("missing CallSid")
	}

	if ev := r.PostFormValue("TranscriptionEvent"); ev != "" {
		if ev != "transcription-content" {
			return nil, nil
		}
		var data struct {
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal([]byte(r.PostFormValue("TranscriptionData")), &data); err != nil {
			return nil, malformed("TranscriptionData: %v", err)
		}
		text := strings.TrimSpace(data.Transcript)
		if text == "" {
			return nil, malformed("empty transcript")
		}
		sourceID := ""
		if sid := r.PostFormValue("TranscriptionSid"); sid != "" {
			sourceID = sid
			if seq := r.PostFormValue("SequenceId"); seq != "" {
				sourceID += ":" + seq
			}
		}
		return &ContentEvent{CallID: callID, Kind: ContentTranscription, Text: text, SourceID: sourceID}, nil
	}

	text := strings.TrimSpace(r.PostFormValue("TranscriptionText"))
	if text == "" {
		return nil, malformed("missing TranscriptionText")
	}
	return &ContentEvent{
		CallID:   callID,
		Kind:     ContentTranscription,
		Text:     text,
		SourceID: r.PostFormValue("TranscriptionSid"),
	}, nil
}

// ParseRecordingCallback parses a recording status callback form.
func ParseRecordingCallback(r *http.Request) (ContentEvent, error) {
	if err := r.ParseForm(); err != nil {
		return ContentEvent{}, malformed("parse form: %v", err)
	}
	callID := strings.TrimSpace(r.PostFormValue("CallSid"))
	if callID == "" {
		return ContentEvent{}, malformed("missing CallSid")
	}
	url := strings.TrimSpace(r.PostFormValue("RecordingUrl"))
	if url == "" {
		return ContentEvent{}, malformed("missing RecordingUrl")
	}
	return ContentEvent{
		CallID:       callID,
		Kind:         ContentRecording,
		RecordingURL: url,
		SourceID:     r.PostFormValue("RecordingSid"),
	}, nil
}
