package relay

import (
	"encoding/json"
	"errors"
	"strings"
)

// Message is the JSON envelope exchanged with listener connections.
// Payload is base64 in JSON.
type Message struct {
	Type    string `json:"type"`
	CallID  string `json:"callId,omitempty"`
	Status  string `json:"status,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// Outbound message types.
const (
	TypeJoined    = "joined"
	TypeAudio     = "audio"
	TypeCallEnded = "call-ended"
	TypeMuted     = "muted"
	TypeUnmuted   = "unmuted"
	TypeError     = "error"
)

// Inbound message types.
const (
	TypeJoinCall = "join-call"
	TypeMute     = "mute"
	TypeUnmute   = "unmute"
)

var errUnknownMessage = errors.New("relay: unknown message type")

// listenerRequest is a decoded inbound listener message.
type listenerRequest struct {
	Type   string
	CallID string
}

func decodeListenerRequest(data []byte) (listenerRequest, error) {
	var raw struct {
		Type    string `json:"type"`
		CallID  string `json:"callId"`
		CallSid string `json:"callSid"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return listenerRequest{}, err
	}
	req := listenerRequest{Type: strings.TrimSpace(raw.Type), CallID: strings.TrimSpace(raw.CallID)}
	if req.CallID == "" {
		req.CallID = strings.TrimSpace(raw.CallSid)
	}
	switch req.Type {
	case TypeJoinCall:
		if req.CallID == "" {
			return listenerRequest{}, errors.New("relay: join-call requires callId")
		}
	case TypeMute, TypeUnmute:
	default:
		return listenerRequest{}, errUnknownMessage
	}
	return req, nil
}

func joinedMessage(callID string) Message {
	return Message{Type: TypeJoined, CallID: callID, Message: "Connected to live audio stream"}
}

func audioMessage(callID string, payload []byte) Message {
	return Message{Type: TypeAudio, CallID: callID, Payload: payload}
}

func callEndedMessage(callID, status string) Message {
	return Message{Type: TypeCallEnded, CallID: callID, Status: status}
}
