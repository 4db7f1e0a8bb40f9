package telephony

import (
	"context"
	"errors"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// callsAPI is the subset of the Twilio REST v2010 service the adapter uses.
type callsAPI interface {
	CreateCall(params *twilioapi.CreateCallParams) (*twilioapi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioapi.UpdateCallParams) (*twilioapi.ApiV2010Call, error)
}

var _ callsAPI = (*twilioapi.ApiService)(nil)

// TwilioProvider implements ControlPlane on the Twilio REST API.
type TwilioProvider struct {
	api callsAPI
}

var _ ControlPlane = (*TwilioProvider)(nil)

func NewTwilioProvider(accountSID, authToken string) *TwilioProvider {
	c := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{api: c.Api}
}

func newTwilioProviderWithAPI(api callsAPI) *TwilioProvider {
	return &TwilioProvider{api: api}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error) {
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.From) == "" {
		return CreateCallResult{}, ErrInvalidCallRequest
	}
	if (req.URL == "") == (req.TwiML == "") {
		return CreateCallResult{}, ErrInvalidCallRequest
	}
	if err := ctx.Err(); err != nil {
		return CreateCallResult{}, &ControlPlaneError{Op: OpCreateCall, Err: err}
	}

	params := &twilioapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	if req.URL != "" {
		params.SetUrl(req.URL)
		params.SetMethod("POST")
	} else {
		params.SetTwiml(req.TwiML)
	}
	if req.StatusCallback != "" {
		params.SetStatusCallback(req.StatusCallback)
		params.SetStatusCallbackMethod("POST")
		if len(req.StatusCallbackEvents) > 0 {
			params.SetStatusCallbackEvent(req.StatusCallbackEvents)
		}
	}
	if req.Record {
		params.SetRecord(true)
		if req.RecordingStatusCallback != "" {
			params.SetRecordingStatusCallback(req.RecordingStatusCallback)
			params.SetRecordingStatusCallbackMethod("POST")
		}
	}

	call, err := p.api.CreateCall(params)
	if err != nil {
		return CreateCallResult{}, wrapTwilioError(OpCreateCall, err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return CreateCallResult{}, &ControlPlaneError{Op: OpCreateCall, Message: "response missing call sid"}
	}
	return CreateCallResult{CallID: *call.Sid}, nil
}

func (p *TwilioProvider) UpdateCall(ctx context.Context, callID string, twiml string) error {
	if strings.TrimSpace(callID) == "" || strings.TrimSpace(twiml) == "" {
		return ErrInvalidCallRequest
	}
	if err := ctx.Err(); err != nil {
		return &ControlPlaneError{Op: OpUpdateCall, Err: err}
	}

	params := &twilioapi.UpdateCallParams{}
	params.SetTwiml(twiml)
	if _, err := p.api.UpdateCall(callID, params); err != nil {
		return wrapTwilioError(OpUpdateCall, err)
	}
	return nil
}

func wrapTwilioError(op string, err error) error {
	var rest *twclient.TwilioRestError
	if errors.As(err, &rest) {
		return &ControlPlaneError{
			Op:      op,
			Status:  rest.Status,
			Code:    rest.Code,
			Message: rest.Message,
			Err:     err,
		}
	}
	return &ControlPlaneError{Op: op, Err: err}
}
