package telephony

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Provider names. These are part of the call-record idempotency key
// (provider, provider_call_id); never rename them once data exists.
const (
	ProviderTwilio = "twilio"
	ProviderExotel = "exotel"
)

// Payload is a decoded webhook body. Form-encoded bodies decode to flat
// string values; JSON bodies may nest (Exotel wraps fields under "Call").
type Payload map[string]any

// ParsePayload decodes the webhook body from raw bytes, honoring the request
// content type. Raw bytes are passed in (not read here) because Exotel
// signatures are computed over the exact body.
func ParsePayload(r *http.Request, raw []byte) (Payload, error) {
	ct := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil && mt == "application/json" {
		p := Payload{}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}

	values, err := parseFormBody(raw, r.URL.RawQuery)
	if err != nil {
		return nil, err
	}
	p := make(Payload, len(values))
	for k, v := range values {
		p[k] = v
	}
	return p, nil
}

// Event is the canonical shape every vendor payload collapses onto.
type Event struct {
	Provider       string
	ProviderCallID string
	From           string
	To             string
	Status         CallEventStatus
	DurationSecs   int
	RecordingURL   string
	RecordingID    string
	StartedAt      *time.Time
	EndedAt        *time.Time
}

// CallEventStatus is the canonical call lifecycle vocabulary. Unknown vendor
// statuses pass through lower-cased so new vendor states are visible rather
// than silently dropped.
type CallEventStatus string

const (
	StatusQueued     CallEventStatus = "queued"
	StatusInitiated  CallEventStatus = "initiated"
	StatusRinging    CallEventStatus = "ringing"
	StatusInProgress CallEventStatus = "in-progress"
	StatusCompleted  CallEventStatus = "completed"
	StatusBusy       CallEventStatus = "busy"
	StatusNoAnswer   CallEventStatus = "no-answer"
	StatusFailed     CallEventStatus = "failed"
	StatusCancelled  CallEventStatus = "cancelled"
)

// Candidate key lists per logical field, first match wins. Vendors disagree
// on casing, snake_case, and nesting ("Call." paths are Exotel's JSON shape).
// Keep these as data, not branching code.
var (
	callIDKeys       = []string{"CallSid", "call_sid", "callSid", "Call.Sid"}
	fromKeys         = []string{"From", "from", "Call.From", "caller"}
	toKeys           = []string{"To", "to", "Call.To", "called"}
	statusKeys       = []string{"CallStatus", "status", "Call.Status"}
	durationKeys     = []string{"CallDuration", "Duration", "duration", "call_duration", "Call.Duration", "DialDuration", "DialCallDuration", "ConversationDuration", "call_duration_seconds"}
	recordingURLKeys = []string{"RecordingUrl", "RecordingURL", "recording_url", "CallRecordingUrl", "recordingUrl", "Call.RecordingUrl", "Call.RecordingURL", "record_url"}
	recordingIDKeys  = []string{"RecordingSid", "recording_sid"}
	startTimeKeys    = []string{"StartTime", "Call.StartTime", "start_time"}
	endTimeKeys      = []string{"EndTime", "Call.EndTime", "end_time"}
)

// MapEvent extracts the canonical event from a vendor payload.
func MapEvent(provider string, p Payload) Event {
	e := Event{
		Provider:       provider,
		ProviderCallID: p.first(callIDKeys),
		From:           p.first(fromKeys),
		To:             p.first(toKeys),
		Status:         MapStatus(p.first(statusKeys)),
		DurationSecs:   p.firstInt(durationKeys),
		RecordingURL:   p.first(recordingURLKeys),
		RecordingID:    p.first(recordingIDKeys),
		StartedAt:      parseTimestamp(p.first(startTimeKeys)),
		EndedAt:        parseTimestamp(p.first(endTimeKeys)),
	}

	// Twilio recording URLs omit the file extension; its API serves mp3 at
	// <url>.mp3 per the public docs.
	if provider == ProviderTwilio && e.RecordingURL != "" &&
		!strings.HasSuffix(e.RecordingURL, ".mp3") && !strings.HasSuffix(e.RecordingURL, ".wav") {
		e.RecordingURL += ".mp3"
	}

	// Vendors are inconsistent about reporting duration for completed but
	// zero-length or redirected calls; derive it from the timestamps.
	if e.Status == StatusCompleted && e.DurationSecs == 0 && e.StartedAt != nil && e.EndedAt != nil {
		if d := int(e.EndedAt.Sub(*e.StartedAt).Seconds()); d > 0 {
			e.DurationSecs = d
		}
	}

	return e
}

var statusMap = map[string]CallEventStatus{
	"completed":   StatusCompleted,
	"no-answer":   StatusNoAnswer,
	"no_answer":   StatusNoAnswer,
	"busy":        StatusBusy,
	"failed":      StatusFailed,
	"ringing":     StatusRinging,
	"in-progress": StatusInProgress,
	"in_progress": StatusInProgress,
	"queued":      StatusQueued,
	"initiated":   StatusInitiated,
	"canceled":    StatusCancelled,
	"cancelled":   StatusCancelled,
}

// MapStatus maps a vendor status string onto the canonical vocabulary.
// Unknown values pass through lower-cased.
func MapStatus(raw string) CallEventStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		s = "unknown"
	}
	if mapped, ok := statusMap[s]; ok {
		return mapped
	}
	return CallEventStatus(s)
}

// first returns the first non-empty value across candidate keys.
// Dotted keys traverse nested JSON objects.
func (p Payload) first(keys []string) string {
	for _, key := range keys {
		if v := p.lookup(key); v != "" {
			return v
		}
	}
	return ""
}

func (p Payload) firstInt(keys []string) int {
	v := p.first(keys)
	if v == "" {
		return 0
	}
	// JSON numbers may arrive as "12", "12.0" or 12.0.
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int(f)
	}
	return 0
}

func (p Payload) lookup(key string) string {
	if !strings.Contains(key, ".") {
		return stringify(p[key])
	}

	parts := strings.Split(key, ".")
	var cur any = map[string]any(p)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[part]
	}
	return stringify(cur)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers; render integers without a fraction.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Vendor timestamp formats observed in the wild: Exotel uses a bare datetime,
// Twilio uses RFC 1123 with a numeric zone; accept RFC 3339 as well.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
}

func parseTimestamp(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// parseFormBody decodes a form-encoded body merged with URL query parameters,
// body values taking precedence. This mirrors how the vendors' own signature
// schemes treat "all request parameters".
func parseFormBody(raw []byte, rawQuery string) (map[string]string, error) {
	out := map[string]string{}

	if rawQuery != "" {
		q, err := url.ParseQuery(rawQuery)
		if err != nil {
			return nil, err
		}
		for k, vs := range q {
			out[k] = strings.Join(vs, "")
		}
	}

	if len(raw) > 0 {
		body, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, err
		}
		for k, vs := range body {
			out[k] = strings.Join(vs, "")
		}
	}

	return out, nil
}

// Params flattens the payload's top-level values to strings for signature
// canonicalization.
func (p Payload) Params() map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = stringify(v)
	}
	return out
}
