package calls

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"callbridge/internal/phone"
)

// MemoryStore is an in-memory Store for tests and early development. It
// mirrors the Postgres merge semantics exactly.

type MemoryStore struct {
	mu sync.Mutex

	records     map[string]CallRecord // key: provider|provider_call_id
	mappings    map[string]PhoneMapping
	annotations map[string]CallAnnotation

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     map[string]CallRecord{},
		mappings:    map[string]PhoneMapping{},
		annotations: map[string]CallAnnotation{},
		clock:       time.Now,
	}
}

func recordKey(provider, providerCallID string) string {
	return provider + "|" + providerCallID
}

func (s *MemoryStore) Upsert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.Provider == "" || rec.ProviderCallID == "" {
		return CallRecord{}, errors.New("provider and provider_call_id required")
	}
	if rec.CompanyID == "" {
		return CallRecord{}, errors.New("company_id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	key := recordKey(rec.Provider, rec.ProviderCallID)

	existing, ok := s.records[key]
	if !ok {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
		rec.UpdatedAt = now
		s.records[key] = rec
		return rec, nil
	}

	rec.UpdatedAt = now
	merged := merge(existing, rec)
	s.records[key] = merged
	return merged, nil
}

func (s *MemoryStore) GetByProviderCallID(ctx context.Context, provider, providerCallID string) (CallRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(provider, providerCallID)]
	return rec, ok, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, companyID, id string) (CallRecord, bool, error) {
	if companyID == "" {
		return CallRecord{}, false, errors.New("company_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id && rec.CompanyID == companyID {
			return rec, true, nil
		}
	}
	return CallRecord{}, false, nil
}

func (s *MemoryStore) List(ctx context.Context, companyID string, f ListFilter) (CallPage, error) {
	if companyID == "" {
		return CallPage{}, errors.New("company_id required")
	}
	f = f.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]CallRecord, 0)
	for _, rec := range s.records {
		if rec.CompanyID != companyID {
			continue
		}
		if filterMatches(rec, f) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := CallPage{Total: len(matched), Page: f.Page, PerPage: f.PerPage, Records: []CallRecord{}}
	start := (f.Page - 1) * f.PerPage
	if start < len(matched) {
		end := start + f.PerPage
		if end > len(matched) {
			end = len(matched)
		}
		page.Records = matched[start:end]
	}
	return page, nil
}

func filterMatches(rec CallRecord, f ListFilter) bool {
	if f.EmployeeID != "" && rec.EmployeeID != f.EmployeeID {
		return false
	}
	if f.LeadID != "" && rec.LeadID != f.LeadID {
		return false
	}
	if f.Status != "" && string(rec.Status) != f.Status {
		return false
	}
	if f.MappingStatus != "" && string(rec.MappingStatus) != f.MappingStatus {
		return false
	}
	if f.Source != "" && string(rec.Source) != f.Source {
		return false
	}
	if f.PhoneSuffix != "" {
		suffix := phone.Normalize(f.PhoneSuffix)
		if suffix == "" {
			return false
		}
		if !strings.HasSuffix(rec.FromNormalized, suffix) &&
			!strings.HasSuffix(rec.ToNormalized, suffix) &&
			!strings.HasSuffix(phone.Normalize(rec.MappedNumber), suffix) &&
			!strings.HasSuffix(phone.Normalize(rec.ContactPhone), suffix) {
			return false
		}
	}
	if f.DurationMin > 0 && rec.DurationSecs < f.DurationMin {
		return false
	}
	if f.DurationMax > 0 && rec.DurationSecs > f.DurationMax {
		return false
	}
	if f.DateFrom != nil && rec.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && rec.CreatedAt.After(*f.DateTo) {
		return false
	}
	return true
}

func (s *MemoryStore) ListByLead(ctx context.Context, companyID, leadID string) ([]CallRecord, error) {
	if companyID == "" || leadID == "" {
		return nil, errors.New("company_id and lead_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range s.records {
		if rec.CompanyID == companyID && rec.LeadID == leadID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) FindActiveMappingsByNumber(ctx context.Context, normalized string) ([]PhoneMapping, error) {
	if normalized == "" {
		return nil, errors.New("normalized number required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PhoneMapping, 0)
	for _, m := range s.mappings {
		if m.Active && phone.SuffixMatch(m.PhoneNormalized, normalized) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetActiveMappingForEmployee(ctx context.Context, companyID, employeeID, normalized string) (PhoneMapping, bool, error) {
	if companyID == "" || employeeID == "" || normalized == "" {
		return PhoneMapping{}, false, errors.New("company_id, employee_id and normalized number required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.Active && m.CompanyID == companyID && m.EmployeeID == employeeID &&
			phone.SuffixMatch(m.PhoneNormalized, normalized) {
			return m, true, nil
		}
	}
	return PhoneMapping{}, false, nil
}

func (s *MemoryStore) ListMappings(ctx context.Context, companyID string) ([]PhoneMapping, error) {
	if companyID == "" {
		return nil, errors.New("company_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PhoneMapping, 0)
	for _, m := range s.mappings {
		if m.CompanyID == companyID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetMapping(ctx context.Context, companyID, id string) (PhoneMapping, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[id]
	if !ok || m.CompanyID != companyID {
		return PhoneMapping{}, false, nil
	}
	return m, true, nil
}

func (s *MemoryStore) CreateMapping(ctx context.Context, m PhoneMapping) (PhoneMapping, error) {
	if m.CompanyID == "" || m.EmployeeID == "" || m.PhoneNormalized == "" {
		return PhoneMapping{}, errors.New("company_id, employee_id and phone required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	s.mappings[m.ID] = m
	return m, nil
}

func (s *MemoryStore) UpdateMapping(ctx context.Context, m PhoneMapping) (PhoneMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.mappings[m.ID]
	if !ok || existing.CompanyID != m.CompanyID {
		return PhoneMapping{}, ErrNotFound
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = s.clock().UTC()
	s.mappings[m.ID] = m
	return m, nil
}

func (s *MemoryStore) DeleteMapping(ctx context.Context, companyID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[id]
	if !ok || m.CompanyID != companyID {
		return false, nil
	}
	delete(s.mappings, id)
	return true, nil
}

func (s *MemoryStore) AddAnnotation(ctx context.Context, a CallAnnotation) (CallAnnotation, error) {
	if a.CompanyID == "" || a.CallID == "" || a.UserID == "" {
		return CallAnnotation{}, errors.New("company_id, call_id and user_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	s.annotations[a.ID] = a
	return a, nil
}

func (s *MemoryStore) UpdateAnnotation(ctx context.Context, a CallAnnotation) (CallAnnotation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.annotations[a.ID]
	if !ok || existing.CompanyID != a.CompanyID || existing.CallID != a.CallID || existing.UserID != a.UserID {
		return CallAnnotation{}, false, nil
	}
	existing.Body = a.Body
	existing.UpdatedAt = s.clock().UTC()
	s.annotations[a.ID] = existing
	return existing, true, nil
}

func (s *MemoryStore) ListAnnotations(ctx context.Context, companyID, callID string) ([]CallAnnotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallAnnotation, 0)
	for _, a := range s.annotations {
		if a.CompanyID == companyID && a.CallID == callID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
