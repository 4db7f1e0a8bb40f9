package speech

import (
	"context"
	"errors"

	"tty-relay/internal/telephony"
)

// Utterance is one message ready for delivery. Escaped is the markup-safe text.
type Utterance struct {
	CallID      string
	Destination string

	Text    string
	Escaped string
	Voice   string
	Rate    string
}

func (u Utterance) say() telephony.Say {
	return telephony.Say{EscapedText: u.Escaped, Voice: u.Voice, Rate: u.Rate}
}

// Strategy delivers an utterance into a live call.
type Strategy interface {
	Name() string
	Deliver(ctx context.Context, u Utterance) error
}

const (
	StrategySideChannel = "side_channel"
	StrategyInBand      = "in_band"
)

// SideChannel places an independent call leg to the destination that only
// speaks the message. The primary call and its media stream are untouched.
type SideChannel struct {
	ControlPlane telephony.ControlPlane
	From         string
}

func (s SideChannel) Name() string { return StrategySideChannel }

func (s SideChannel) Deliver(ctx context.Context, u Utterance) error {
	if s.ControlPlane == nil {
		return errors.New("speech: side channel control plane not configured")
	}
	twiml, err := telephony.RenderSay(u.say())
	if err != nil {
		return err
	}
	_, err = s.ControlPlane.CreateCall(ctx, telephony.CreateCallRequest{
		To:    u.Destination,
		From:  s.From,
		TwiML: twiml,
	})
	return err
}

// InBand replaces the primary call's directive with the message followed by
// the listen loop, briefly taking over the call flow.
type InBand struct {
	ControlPlane telephony.ControlPlane
	ContinueURL  string
}

func (s InBand) Name() string { return StrategyInBand }

func (s InBand) Deliver(ctx context.Context, u Utterance) error {
	if s.ControlPlane == nil {
		return errors.New("speech: in-band control plane not configured")
	}
	twiml, err := telephony.RenderSayThenListen(u.say(), s.ContinueURL)
	if err != nil {
		return err
	}
	return s.ControlPlane.UpdateCall(ctx, u.CallID, twiml)
}
