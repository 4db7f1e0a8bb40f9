package telephony

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestEscapeSpeech(t *testing.T) {
	got := EscapeSpeech(`Tom & "Jerry" <3 it's`)
	want := "Tom &amp; &quot;Jerry&quot; &lt;3 it&apos;s"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if EscapeSpeech("plain text") != "plain text" {
		t.Fatalf("expected plain text unchanged")
	}
}

func TestRenderSayRoundTripsEscapedText(t *testing.T) {
	original := `5 < 6 & "quotes" 'single' > done`
	doc, err := RenderSay(Say{EscapedText: EscapeSpeech(original), Voice: "woman", Rate: "1.5"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var parsed struct {
		Say struct {
			Voice string `xml:"voice,attr"`
			Rate  string `xml:"rate,attr"`
			Text  string `xml:",chardata"`
		} `xml:"Say"`
	}
	if err := xml.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("document is not well-formed: %v\n%s", err, doc)
	}
	if parsed.Say.Text != original {
		t.Fatalf("expected %q, got %q", original, parsed.Say.Text)
	}
	if parsed.Say.Voice != "woman" || parsed.Say.Rate != "1.5" {
		t.Fatalf("unexpected attributes: %+v", parsed.Say)
	}
	if strings.Contains(doc, "<Gather") {
		t.Fatalf("side-channel document must only speak: %s", doc)
	}
}

func TestEscapeSpeechDropsCharactersIllegalInXML(t *testing.T) {
	doc, err := RenderSay(Say{EscapedText: EscapeSpeech("Hi <you>\x01 & \x1b'bye'\xff\tok")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var parsed struct {
		Say struct {
			Text string `xml:",chardata"`
		} `xml:"Say"`
	}
	if err := xml.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("document is not well-formed: %v\n%s", err, doc)
	}
	want := "Hi <you> & 'bye'\uFFFD\tok"
	if parsed.Say.Text != want {
		t.Fatalf("expected %q, got %q", want, parsed.Say.Text)
	}
}

func TestSanitizeSpeechKeepsLegalText(t *testing.T) {
	in := "line one\nline two\r\n\tcafé 👋"
	if got := SanitizeSpeech(in); got != in {
		t.Fatalf("expected %q unchanged, got %q", in, got)
	}
}

func TestRenderSayRequiresText(t *testing.T) {
	if _, err := RenderSay(Say{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderSayThenListen(t *testing.T) {
	doc, err := RenderSayThenListen(Say{EscapedText: "hello", Voice: "alice", Rate: "1.0"}, "https://relay.example/twiml/continue-call")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	say := strings.Index(doc, "<Say")
	gather := strings.Index(doc, "<Gather")
	if say < 0 || gather < 0 || say > gather {
		t.Fatalf("expected Say before Gather: %s", doc)
	}
	if !strings.Contains(doc, `action="https://relay.example/twiml/continue-call"`) {
		t.Fatalf("expected continue action: %s", doc)
	}
}

func TestRenderOutgoingCall(t *testing.T) {
	doc, err := RenderOutgoingCall(OutgoingCallOptions{
		Greeting:              Say{EscapedText: "Hello", Voice: "alice", Rate: "1.0"},
		StreamURL:             "wss://relay.example/media-stream",
		TranscriptionCallback: "https://relay.example/webhooks/twilio/transcription",
		ContinueURL:           "https://relay.example/twiml/continue-call",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`<Stream name="live-audio-stream" url="wss://relay.example/media-stream" track="inbound_track">`,
		`<Transcription statusCallbackUrl="https://relay.example/webhooks/twilio/transcription"`,
		`<Gather input="speech" timeout="300"`,
		`method="POST"`,
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected %q in xml: %s", want, doc)
		}
	}
}

func TestRenderOutgoingCallWithoutTranscription(t *testing.T) {
	doc, err := RenderOutgoingCall(OutgoingCallOptions{
		StreamURL:   "wss://relay.example/media-stream",
		ContinueURL: "https://relay.example/twiml/continue-call",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Contains(doc, "Transcription") || strings.Contains(doc, "<Say") {
		t.Fatalf("unexpected verbs: %s", doc)
	}
}

func TestRenderOutgoingCallRequiresURLs(t *testing.T) {
	if _, err := RenderOutgoingCall(OutgoingCallOptions{ContinueURL: "https://x"}); err == nil {
		t.Fatalf("expected error for missing stream url")
	}
	if _, err := RenderOutgoingCall(OutgoingCallOptions{StreamURL: "wss://x"}); err == nil {
		t.Fatalf("expected error for missing continue url")
	}
}

func TestRenderHangup(t *testing.T) {
	doc, err := RenderHangup(Say{EscapedText: "Goodbye.", Voice: "alice"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Index(doc, "<Say") > strings.Index(doc, "<Hangup") {
		t.Fatalf("expected goodbye before hangup: %s", doc)
	}

	doc, err = RenderHangup(Say{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Contains(doc, "<Say") || !strings.Contains(doc, "<Hangup") {
		t.Fatalf("expected bare hangup: %s", doc)
	}
}
