package telephony

import (
	"context"
	"errors"
	"io"
	"time"
)

// Vendor is an outbound telephony integration: it can place calls and fetch
// call recordings. Webhook ingestion is vendor-agnostic and lives elsewhere.
type Vendor interface {
	Name() string
	Dial(ctx context.Context, req DialRequest) (DialResult, error)
	FetchRecording(ctx context.Context, recordingURL string) (Recording, error)
}

// DialRequest carries the two legs of a click-to-call bridge. From is the
// agent's line, To is the customer's.
type DialRequest struct {
	From string
	To   string
}

// DialResult is the vendor's acknowledgement of an accepted dial.
type DialResult struct {
	ProviderCallID string
	Status         CallEventStatus
}

// Recording is an open stream of recording audio. Callers must Close the body.
type Recording struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

var (
	// ErrVendorNotConfigured means outbound dialing has no vendor wired.
	ErrVendorNotConfigured = errors.New("telephony: no outbound vendor configured")

	// ErrRecordingGone means the vendor no longer serves the recording.
	ErrRecordingGone = errors.New("telephony: recording no longer available")

	// ErrDialRejected means the vendor refused the call request.
	ErrDialRejected = errors.New("telephony: dial rejected by vendor")
)

// vendorTimeout bounds vendor control-plane calls. Recording downloads rely
// on the caller's context instead, since transfer time scales with file size.
const vendorTimeout = 15 * time.Second
