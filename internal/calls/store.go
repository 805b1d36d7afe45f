package calls

import (
	"context"
	"time"
)

// Store abstracts persistence for call records, phone mappings and
// annotations.
//
// IMPORTANT:
// - Every read takes a company id and must enforce tenant filtering.
// - Upsert is the only write path for call records; its
//   (provider, provider_call_id) key is the serialization point under
//   concurrent webhook delivery.
type Store interface {
	// Upsert inserts the record or merges it into the existing row for the
	// same (provider, provider_call_id) under the non-empty-wins rule.
	// Implementations must resolve concurrent inserts for the same key at
	// the storage layer, not with application locks.
	Upsert(ctx context.Context, rec CallRecord) (CallRecord, error)

	GetByProviderCallID(ctx context.Context, provider, providerCallID string) (CallRecord, bool, error)
	GetByID(ctx context.Context, companyID, id string) (CallRecord, bool, error)
	List(ctx context.Context, companyID string, f ListFilter) (CallPage, error)
	ListByLead(ctx context.Context, companyID, leadID string) ([]CallRecord, error)

	// FindActiveMappingsByNumber searches active mappings by normalized
	// suffix across all companies; the resolver owns the ambiguity policy.
	FindActiveMappingsByNumber(ctx context.Context, normalized string) ([]PhoneMapping, error)
	GetActiveMappingForEmployee(ctx context.Context, companyID, employeeID, normalized string) (PhoneMapping, bool, error)
	ListMappings(ctx context.Context, companyID string) ([]PhoneMapping, error)
	GetMapping(ctx context.Context, companyID, id string) (PhoneMapping, bool, error)
	CreateMapping(ctx context.Context, m PhoneMapping) (PhoneMapping, error)
	UpdateMapping(ctx context.Context, m PhoneMapping) (PhoneMapping, error)
	DeleteMapping(ctx context.Context, companyID, id string) (bool, error)

	AddAnnotation(ctx context.Context, a CallAnnotation) (CallAnnotation, error)
	UpdateAnnotation(ctx context.Context, a CallAnnotation) (CallAnnotation, bool, error)
	ListAnnotations(ctx context.Context, companyID, callID string) ([]CallAnnotation, error)
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	EmployeeID    string
	LeadID        string
	Status        string
	MappingStatus string
	Source        string

	// PhoneSuffix matches against from, to, mapped and contact numbers.
	PhoneSuffix string

	DurationMin int
	DurationMax int

	DateFrom *time.Time
	DateTo   *time.Time

	Page    int
	PerPage int
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// normalize clamps pagination to sane bounds.
func (f ListFilter) normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
	return f
}

// CallPage is one page of call records plus the pagination envelope.
type CallPage struct {
	Records []CallRecord `json:"records"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
}
