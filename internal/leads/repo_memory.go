package leads

import (
	"context"
	"errors"
	"sync"

	"callbridge/internal/phone"
)

// MemoryRepo is an in-memory lead lookup for tests and early development.

type MemoryRepo struct {
	mu    sync.Mutex
	Leads []Lead
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Add(l Lead) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.PhoneNormalized = phone.Normalize(l.Phone)
	l.PhoneSecondaryNormalized = phone.Normalize(l.PhoneSecondary)
	r.Leads = append(r.Leads, l)
}

func (r *MemoryRepo) FindByNumber(ctx context.Context, normalized string) ([]Lead, error) {
	if normalized == "" {
		return nil, errors.New("normalized number required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Lead, 0)
	for _, l := range r.Leads {
		if matches(l, normalized) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *MemoryRepo) FindByNumberInCompany(ctx context.Context, companyID, normalized string) ([]Lead, error) {
	if companyID == "" {
		return nil, errors.New("company_id required")
	}
	if normalized == "" {
		return nil, errors.New("normalized number required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Lead, 0)
	for _, l := range r.Leads {
		if l.CompanyID == companyID && matches(l, normalized) {
			out = append(out, l)
		}
	}
	return out, nil
}

func matches(l Lead, normalized string) bool {
	return phone.SuffixMatch(l.PhoneNormalized, normalized) ||
		phone.SuffixMatch(l.PhoneSecondaryNormalized, normalized)
}
