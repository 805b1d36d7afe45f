package telephony

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"callbridge/internal/config"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioVendor places calls through Twilio's REST API. Calls are created with
// a TwiML URL that bridges the agent leg to the customer.
type TwilioVendor struct {
	cfg    config.TwilioConfig
	dial   *resty.Client
	stream *resty.Client
}

func NewTwilioVendor(cfg config.TwilioConfig) *TwilioVendor {
	return &TwilioVendor{
		cfg: cfg,
		dial: resty.New().
			SetBaseURL(twilioAPIBase).
			SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
			SetTimeout(vendorTimeout),
		stream: resty.New().
			SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
			SetDoNotParseResponse(true),
	}
}

// SetBaseURL overrides the API endpoint. Tests only.
func (v *TwilioVendor) SetBaseURL(u string) { v.dial.SetBaseURL(u) }

func (v *TwilioVendor) Name() string { return ProviderTwilio }

type twilioCallResponse struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (v *TwilioVendor) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	form := map[string]string{
		"From": req.From,
		"To":   req.To,
		"Url":  v.cfg.TwiMLURL,
	}
	if v.cfg.RecordingEnabled {
		form["Record"] = "true"
	}

	var out twilioCallResponse
	resp, err := v.dial.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/Accounts/%s/Calls.json", v.cfg.AccountSID))
	if err != nil {
		return DialResult{}, fmt.Errorf("twilio dial: %w", err)
	}
	if resp.IsError() {
		return DialResult{}, fmt.Errorf("%w: twilio %d %s", ErrDialRejected, resp.StatusCode(), out.Message)
	}
	if out.Sid == "" {
		return DialResult{}, fmt.Errorf("twilio dial: response missing call sid")
	}

	return DialResult{ProviderCallID: out.Sid, Status: MapStatus(out.Status)}, nil
}

func (v *TwilioVendor) FetchRecording(ctx context.Context, recordingURL string) (Recording, error) {
	resp, err := v.stream.R().
		SetContext(ctx).
		Get(recordingURL)
	if err != nil {
		return Recording{}, fmt.Errorf("twilio recording: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return Recording{
			Body:        resp.RawBody(),
			ContentType: resp.Header().Get("Content-Type"),
			Size:        resp.RawResponse.ContentLength,
		}, nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		resp.RawBody().Close()
		return Recording{}, ErrRecordingGone
	default:
		resp.RawBody().Close()
		return Recording{}, fmt.Errorf("twilio recording: unexpected status %d", resp.StatusCode())
	}
}
