package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
	"unicode"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

// twimlSay carries text that is already entity-escaped by EscapeSpeech, so it
// is written verbatim.
type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Rate    string   `xml:"rate,attr,omitempty"`
	Text    string   `xml:",innerxml"`
}

type twimlStart struct {
	XMLName       xml.Name            `xml:"Start"`
	Stream        *twimlStream        `xml:"Stream,omitempty"`
	Transcription *twimlTranscription `xml:"Transcription,omitempty"`
}

type twimlStream struct {
	Name  string `xml:"name,attr,omitempty"`
	URL   string `xml:"url,attr"`
	Track string `xml:"track,attr,omitempty"`
}

type twimlTranscription struct {
	StatusCallbackURL string `xml:"statusCallbackUrl,attr"`
	Track             string `xml:"track,attr,omitempty"`
}

type twimlGather struct {
	XMLName xml.Name `xml:"Gather"`
	Input   string   `xml:"input,attr"`
	Timeout int      `xml:"timeout,attr"`
	Action  string   `xml:"action,attr"`
	Method  string   `xml:"method,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

const (
	// GatherTimeoutSeconds keeps the call parked in a listen loop between
	// operator messages.
	GatherTimeoutSeconds = 300

	defaultStreamName = "live-audio-stream"
	streamTrack       = "inbound_track"
)

var speechEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// SanitizeSpeech replaces invalid UTF-8 with U+FFFD and drops runes that may
// not appear in an XML document (control characters other than tab, newline
// and carriage return, U+FFFE and U+FFFF).
func SanitizeSpeech(text string) string {
	text = strings.ToValidUTF8(text, "\uFFFD")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case unicode.IsControl(r), r == 0xFFFE, r == 0xFFFF:
			return -1
		}
		return r
	}, text)
}

// EscapeSpeech sanitizes text and entity-escapes the five markup characters
// < > & " ' so it can be embedded in a Say directive.
func EscapeSpeech(text string) string {
	return speechEscaper.Replace(SanitizeSpeech(text))
}

// Say is one spoken utterance. Text must already be escaped.
type Say struct {
	EscapedText string
	Voice       string
	Rate        string
}

// OutgoingCallOptions configures the directive served when a placed call is
// answered.
type OutgoingCallOptions struct {
	Greeting Say

	// StreamURL is the ws(s) URL of the media stream producer endpoint.
	StreamURL string
	// TranscriptionCallback enables real-time transcription when set.
	TranscriptionCallback string

	ContinueURL string
}

// RenderOutgoingCall greets the callee, forks inbound audio to the media
// stream and parks the call in a listen loop.
func RenderOutgoingCall(opts OutgoingCallOptions) (string, error) {
	if strings.TrimSpace(opts.StreamURL) == "" {
		return "", errors.New("telephony: stream url required")
	}
	if strings.TrimSpace(opts.ContinueURL) == "" {
		return "", errors.New("telephony: continue url required")
	}

	var verbs []any
	if opts.Greeting.EscapedText != "" {
		verbs = append(verbs, say(opts.Greeting))
	}
	start := twimlStart{Stream: &twimlStream{Name: defaultStreamName, URL: opts.StreamURL, Track: streamTrack}}
	if opts.TranscriptionCallback != "" {
		start.Transcription = &twimlTranscription{StatusCallbackURL: opts.TranscriptionCallback, Track: streamTrack}
	}
	verbs = append(verbs, start, gather(opts.ContinueURL))
	return render(verbs...)
}

// RenderContinue keeps the call listening.
func RenderContinue(continueURL string) (string, error) {
	if strings.TrimSpace(continueURL) == "" {
		return "", errors.New("telephony: continue url required")
	}
	return render(gather(continueURL))
}

// RenderSay is a self-contained document that only speaks s.
func RenderSay(s Say) (string, error) {
	if s.EscapedText == "" {
		return "", errors.New("telephony: say text required")
	}
	return render(say(s))
}

// RenderSayThenListen speaks s and returns the call to its listen loop.
func RenderSayThenListen(s Say, continueURL string) (string, error) {
	if s.EscapedText == "" {
		return "", errors.New("telephony: say text required")
	}
	if strings.TrimSpace(continueURL) == "" {
		return "", errors.New("telephony: continue url required")
	}
	return render(say(s), gather(continueURL))
}

// RenderHangup optionally speaks a goodbye and then hangs up.
func RenderHangup(goodbye Say) (string, error) {
	var verbs []any
	if goodbye.EscapedText != "" {
		verbs = append(verbs, say(goodbye))
	}
	verbs = append(verbs, twimlHangup{})
	return render(verbs...)
}

func say(s Say) twimlSay {
	return twimlSay{Voice: s.Voice, Rate: s.Rate, Text: s.EscapedText}
}

func gather(action string) twimlGather {
	return twimlGather{Input: "speech", Timeout: GatherTimeoutSeconds, Action: action, Method: "POST"}
}

func render(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
