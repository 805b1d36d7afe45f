package telephony

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"callbridge/internal/config"
)

// ExotelVendor places calls through Exotel's connect API. Exotel dials the
// agent (From) first, then bridges to the customer (To) using CallerId as the
// number shown to both parties.
type ExotelVendor struct {
	cfg    config.ExotelConfig
	dial   *resty.Client
	stream *resty.Client
}

func NewExotelVendor(cfg config.ExotelConfig) *ExotelVendor {
	return &ExotelVendor{
		cfg: cfg,
		dial: resty.New().
			SetBaseURL(fmt.Sprintf("https://%s/v1", cfg.Subdomain)).
			SetBasicAuth(cfg.AccountSID, cfg.Token).
			SetTimeout(vendorTimeout),
		stream: resty.New().
			SetBasicAuth(cfg.AccountSID, cfg.Token).
			SetDoNotParseResponse(true),
	}
}

// SetBaseURL overrides the API endpoint. Tests only.
func (v *ExotelVendor) SetBaseURL(u string) { v.dial.SetBaseURL(u) }

func (v *ExotelVendor) Name() string { return ProviderExotel }

type exotelCallResponse struct {
	Call struct {
		Sid    string `json:"Sid"`
		Status string `json:"Status"`
	} `json:"Call"`
	RestException struct {
		Message string `json:"Message"`
	} `json:"RestException"`
}

func (v *ExotelVendor) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	var out exotelCallResponse
	resp, err := v.dial.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"From":     req.From,
			"To":       req.To,
			"CallerId": req.From,
		}).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/Accounts/%s/Calls/connect.json", v.cfg.AccountSID))
	if err != nil {
		return DialResult{}, fmt.Errorf("exotel dial: %w", err)
	}
	if resp.IsError() {
		return DialResult{}, fmt.Errorf("%w: exotel %d %s", ErrDialRejected, resp.StatusCode(), out.RestException.Message)
	}
	if out.Call.Sid == "" {
		return DialResult{}, fmt.Errorf("exotel dial: response missing call sid")
	}

	// Exotel acknowledges without a definitive status; the webhook carries
	// the real lifecycle.
	status := MapStatus(out.Call.Status)
	if out.Call.Status == "" {
		status = StatusInitiated
	}
	return DialResult{ProviderCallID: out.Call.Sid, Status: status}, nil
}

func (v *ExotelVendor) FetchRecording(ctx context.Context, recordingURL string) (Recording, error) {
	resp, err := v.stream.R().
		SetContext(ctx).
		Get(recordingURL)
	if err != nil {
		return Recording{}, fmt.Errorf("exotel recording: %w", err)
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
		return Recording{}, fmt.Errorf("exotel recording: unexpected status %d", resp.StatusCode())
	}
}
