package calls

import (
	"time"

	"callbridge/internal/telephony"
)

// CallRecord is one row per physical phone call, identified by
// (provider, provider_call_id). That pair is the idempotency key: a webhook
// retry for the same id updates the row, never duplicates it.
//
// Multi-tenant invariant: a record is never persisted without CompanyID.
// Events that cannot be attributed to exactly one company are acknowledged
// and dropped before reaching the store.
type CallRecord struct {
	ID        string `json:"id" db:"id"`
	CompanyID string `json:"company_id" db:"company_id"`

	EmployeeID string `json:"employee_id,omitempty" db:"employee_id"`
	LeadID     string `json:"lead_id,omitempty" db:"lead_id"`

	Source Source                    `json:"source" db:"source"`
	Status telephony.CallEventStatus `json:"status" db:"status"`

	Provider       string `json:"provider" db:"provider"`
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`

	FromNumber     string `json:"from_number" db:"from_number"`
	ToNumber       string `json:"to_number" db:"to_number"`
	FromNormalized string `json:"-" db:"from_normalized"`
	ToNormalized   string `json:"-" db:"to_normalized"`

	// MappedNumber is the employee's registered number that matched this call.
	MappedNumber  string        `json:"mapped_number,omitempty" db:"mapped_number"`
	MappingStatus MappingStatus `json:"mapping_status" db:"mapping_status"`

	ContactName  string `json:"contact_name,omitempty" db:"contact_name"`
	ContactPhone string `json:"contact_phone,omitempty" db:"contact_phone"`

	DurationSecs int `json:"duration_seconds" db:"duration_seconds"`

	RecordingID string `json:"-" db:"recording_id"`
	// RecordingURL may be a vendor-signed URL; it is never serialized to
	// clients. Clients see RecordingAvailable and stream through the API.
	RecordingURL       string `json:"-" db:"recording_url"`
	RecordingAvailable bool   `json:"recording_available" db:"-"`

	StartedAt *time.Time `json:"call_started_at,omitempty" db:"call_started_at"`
	EndedAt   *time.Time `json:"call_ended_at,omitempty" db:"call_ended_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Source string

const (
	// SourceCRM marks outbound calls initiated through click-to-call.
	SourceCRM Source = "crm"
	// SourceMobile marks calls first seen through a vendor webhook.
	SourceMobile Source = "mobile"
)

type MappingStatus string

const (
	MappingStatusMapped   MappingStatus = "mapped"
	MappingStatusUnmapped MappingStatus = "unmapped"
)

// PhoneMapping binds a normalized phone number to exactly one employee within
// exactly one company. Lookups that span more than one company are ambiguous
// and must never be attached to a call record.
type PhoneMapping struct {
	ID         string `json:"id" db:"id"`
	CompanyID  string `json:"company_id" db:"company_id"`
	EmployeeID string `json:"employee_id" db:"employee_id"`

	PhoneNumber     string `json:"phone_number" db:"phone_number"`
	PhoneNormalized string `json:"phone_normalized" db:"phone_normalized"`

	Label       string `json:"label,omitempty" db:"label"`
	ContactName string `json:"contact_name,omitempty" db:"contact_name"`
	Active      bool   `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CallAnnotation is a free-text note attached to one CallRecord by one user.
type CallAnnotation struct {
	ID        string `json:"id" db:"id"`
	CompanyID string `json:"company_id" db:"company_id"`
	CallID    string `json:"call_id" db:"call_id"`
	UserID    string `json:"user_id" db:"user_id"`
	Body      string `json:"body" db:"body"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// merge applies the idempotent non-empty-wins rule: incoming non-empty fields
// overwrite, empty fields never erase stored values. CompanyID is ground
// truth once set and never changes across the lifetime of a call.
func merge(existing, incoming CallRecord) CallRecord {
	out := existing

	if existing.CompanyID == "" {
		out.CompanyID = incoming.CompanyID
	}
	if incoming.EmployeeID != "" {
		out.EmployeeID = incoming.EmployeeID
	}
	if incoming.LeadID != "" {
		out.LeadID = incoming.LeadID
	}
	if incoming.Source != "" {
		out.Source = incoming.Source
	}
	if incoming.Status != "" {
		out.Status = incoming.Status
	}
	if incoming.FromNumber != "" {
		out.FromNumber = incoming.FromNumber
		out.FromNormalized = incoming.FromNormalized
	}
	if incoming.ToNumber != "" {
		out.ToNumber = incoming.ToNumber
		out.ToNormalized = incoming.ToNormalized
	}
	if incoming.MappedNumber != "" {
		out.MappedNumber = incoming.MappedNumber
	}
	if incoming.MappingStatus != "" {
		out.MappingStatus = incoming.MappingStatus
	}
	if incoming.ContactName != "" {
		out.ContactName = incoming.ContactName
	}
	if incoming.ContactPhone != "" {
		out.ContactPhone = incoming.ContactPhone
	}
	if incoming.DurationSecs > 0 {
		out.DurationSecs = incoming.DurationSecs
	}
	if incoming.RecordingID != "" {
		out.RecordingID = incoming.RecordingID
	}
	if incoming.RecordingURL != "" {
		out.RecordingURL = incoming.RecordingURL
	}
	if incoming.StartedAt != nil {
		out.StartedAt = incoming.StartedAt
	}
	if incoming.EndedAt != nil {
		out.EndedAt = incoming.EndedAt
	}
	out.UpdatedAt = incoming.UpdatedAt

	return out
}
