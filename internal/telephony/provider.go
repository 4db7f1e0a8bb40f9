package telephony

import (
	"context"
	"errors"
	"fmt"
)

// ControlPlane is the provider-agnostic contract for the external telephony
// service. Business logic depends on this interface only.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Failures are returned as *ControlPlaneError.
type ControlPlane interface {
	Name() string

	// CreateCall places an outbound call leg.
	CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error)

	// UpdateCall replaces the active directive document of a live call.
	UpdateCall(ctx context.Context, callID string, twiml string) error
}

// CreateCallRequest describes an outbound call leg. Exactly one of URL or
// TwiML is set: URL for a call whose directives are fetched from us, TwiML
// for a self-contained leg.
type CreateCallRequest struct {
	To   string `json:"to"`
	From string `json:"from"`

	URL   string `json:"url,omitempty"`
	TwiML string `json:"twiml,omitempty"`

	// StatusCallback receives lifecycle notifications for this leg.
	StatusCallback       string   `json:"status_callback,omitempty"`
	StatusCallbackEvents []string `json:"status_callback_events,omitempty"`

	Record                  bool   `json:"record,omitempty"`
	RecordingStatusCallback string `json:"recording_status_callback,omitempty"`
}

type CreateCallResult struct {
	CallID string `json:"call_id"`
	Status string `json:"status,omitempty"`
}

// Operation names used in ControlPlaneError and metrics.
const (
	OpCreateCall = "create_call"
	OpUpdateCall = "update_call"
)

var ErrInvalidCallRequest = errors.New("telephony: invalid call request")

// ControlPlaneError reports a rejected or failed control-plane request.
type ControlPlaneError struct {
	Op string
	// Status is the upstream HTTP status, 0 when the request never completed.
	Status int
	// Code is the provider error code, 0 when unknown.
	Code    int
	Message string
	Err     error
}

func (e *ControlPlaneError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("telephony: %s failed: code %d: %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("telephony: %s failed: %s", e.Op, msg)
}

func (e *ControlPlaneError) Unwrap() error { return e.Err }

// AsControlPlaneError extracts a *ControlPlaneError from err's chain.
func AsControlPlaneError(err error) (*ControlPlaneError, bool) {
	var cpe *ControlPlaneError
	if errors.As(err, &cpe) {
		return cpe, true
	}
	return nil, false
}
