package telephony

import (
	"context"
	"errors"
	"testing"

	twclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCallsAPI struct {
	createParams *twilioapi.CreateCallParams
	updateSid    string
	updateParams *twilioapi.UpdateCallParams

	sid string
	err error
}

func (f *fakeCallsAPI) CreateCall(params *twilioapi.CreateCallParams) (*twilioapi.ApiV2010Call, error) {
	f.createParams = params
	if f.err != nil {
		return nil, f.err
	}
	sid := f.sid
	return &twilioapi.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeCallsAPI) UpdateCall(sid string, params *twilioapi.UpdateCallParams) (*twilioapi.ApiV2010Call, error) {
	f.updateSid = sid
	f.updateParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &twilioapi.ApiV2010Call{Sid: &sid}, nil
}

func TestTwilioCreateCall(t *testing.T) {
	api := &fakeCallsAPI{sid: "CA123"}
	p := newTwilioProviderWithAPI(api)

	res, err := p.CreateCall(context.Background(), CreateCallRequest{
		To:                   "+15551234567",
		From:                 "+15557654321",
		URL:                  "https://relay.example/twiml/outgoing-call",
		StatusCallback:       "https://relay.example/webhooks/twilio/call-status",
		StatusCallbackEvents: []string{"initiated", "ringing", "answered", "completed"},
		Record:               true,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.CallID != "CA123" {
		t.Fatalf("expected call id CA123, got %q", res.CallID)
	}
	params := api.createParams
	if params == nil || params.To == nil || *params.To != "+15551234567" {
		t.Fatalf("expected To to be set")
	}
	if params.Url == nil || *params.Url != "https://relay.example/twiml/outgoing-call" {
		t.Fatalf("expected Url to be set")
	}
	if params.Twiml != nil {
		t.Fatalf("expected Twiml to be unset when Url is used")
	}
	if params.StatusCallbackEvent == nil || len(*params.StatusCallbackEvent) != 4 {
		t.Fatalf("expected status callback events")
	}
	if params.Record == nil || !*params.Record {
		t.Fatalf("expected Record")
	}
}

func TestTwilioCreateCallValidation(t *testing.T) {
	p := newTwilioProviderWithAPI(&fakeCallsAPI{sid: "CA1"})
	ctx := context.Background()

	for name, req := range map[string]CreateCallRequest{
		"missing to":       {From: "+1", URL: "https://x"},
		"url and twiml":    {To: "+1", From: "+1", URL: "https://x", TwiML: "<Response/>"},
		"no url nor twiml": {To: "+1", From: "+1"},
	} {
		if _, err := p.CreateCall(ctx, req); !errors.Is(err, ErrInvalidCallRequest) {
			t.Fatalf("%s: expected ErrInvalidCallRequest, got %v", name, err)
		}
	}
}

func TestTwilioCreateCallMissingSid(t *testing.T) {
	p := newTwilioProviderWithAPI(&fakeCallsAPI{})
	_, err := p.CreateCall(context.Background(), CreateCallRequest{To: "+1", From: "+2", TwiML: "<Response/>"})
	if _, ok := AsControlPlaneError(err); !ok {
		t.Fatalf("expected ControlPlaneError, got %v", err)
	}
}

func TestTwilioRestErrorIsWrapped(t *testing.T) {
	api := &fakeCallsAPI{err: &twclient.TwilioRestError{Code: 21211, Status: 400, Message: "Invalid 'To' Phone Number"}}
	p := newTwilioProviderWithAPI(api)

	_, err := p.CreateCall(context.Background(), CreateCallRequest{To: "+1", From: "+2", TwiML: "<Response/>"})
	cpe, ok := AsControlPlaneError(err)
	if !ok {
		t.Fatalf("expected ControlPlaneError, got %v", err)
	}
	if cpe.Op != OpCreateCall || cpe.Code != 21211 || cpe.Status != 400 {
		t.Fatalf("unexpected error fields: %+v", cpe)
	}
	var rest *twclient.TwilioRestError
	if !errors.As(err, &rest) {
		t.Fatalf("expected upstream error in chain")
	}
}

func TestTwilioUpdateCall(t *testing.T) {
	api := &fakeCallsAPI{}
	p := newTwilioProviderWithAPI(api)

	if err := p.UpdateCall(context.Background(), "CA1", "<Response><Hangup/></Response>"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if api.updateSid != "CA1" || api.updateParams.Twiml == nil {
		t.Fatalf("expected update with twiml for CA1")
	}

	api.err = errors.New("dial tcp: timeout")
	err := p.UpdateCall(context.Background(), "CA1", "<Response/>")
	if cpe, ok := AsControlPlaneError(err); !ok || cpe.Op != OpUpdateCall {
		t.Fatalf("expected update ControlPlaneError, got %v", err)
	}
}

func TestTwilioHonorsCanceledContext(t *testing.T) {
	api := &fakeCallsAPI{sid: "CA1"}
	p := newTwilioProviderWithAPI(api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.CreateCall(ctx, CreateCallRequest{To: "+1", From: "+2", TwiML: "<Response/>"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if api.createParams != nil {
		t.Fatalf("expected no upstream call")
	}
}
