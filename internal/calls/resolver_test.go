package calls

import (
	"context"
	"testing"

	"callbridge/internal/leads"
	"callbridge/internal/phone"
)

func seedMapping(t *testing.T, s *MemoryStore, companyID, employeeID, number string) PhoneMapping {
	t.Helper()
	m, err := s.CreateMapping(context.Background(), PhoneMapping{
		CompanyID:       companyID,
		EmployeeID:      employeeID,
		PhoneNumber:     number,
		PhoneNormalized: phone.Normalize(number),
		Active:          true,
	})
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	return m
}

func TestResolveExistingRecordCompanyIsGroundTruth(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(store, leads.NewMemoryRepo(), nil)

	existing := &CallRecord{CompanyID: "co-1"}
	attr, err := r.Resolve(context.Background(), existing, "co-2", "9876543210", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attr.CompanyID != "co-1" {
		t.Fatalf("company = %q, want existing record's co-1", attr.CompanyID)
	}
}

func TestResolveAmbiguousMappingRefused(t *testing.T) {
	store := NewMemoryStore()
	seedMapping(t, store, "co-1", "emp-1", "9876543210")
	seedMapping(t, store, "co-2", "emp-2", "9876543210")
	r := NewResolver(store, leads.NewMemoryRepo(), nil)

	attr, err := r.Resolve(context.Background(), nil, "", "9876543210", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attr.Mapping != nil {
		t.Fatalf("ambiguous mapping must not be attached, got %+v", attr.Mapping)
	}
	if attr.CompanyID != "" {
		t.Fatalf("ambiguous match must not resolve a company, got %q", attr.CompanyID)
	}
}

func TestResolveMappingCompanyMismatchDiscarded(t *testing.T) {
	store := NewMemoryStore()
	m := seedMapping(t, store, "co-2", "emp-2", "9876543210")
	r := NewResolver(store, leads.NewMemoryRepo(), nil)

	existing := &CallRecord{CompanyID: "co-1"}
	attr, err := r.Resolve(context.Background(), existing, "", "9876543210", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attr.CompanyID != "co-1" {
		t.Fatalf("company = %q", attr.CompanyID)
	}
	if attr.Mapping != nil {
		t.Fatalf("mismatched mapping %s must be discarded", m.ID)
	}
}

func TestResolveKnownCompanyMappingWinsOverForeign(t *testing.T) {
	store := NewMemoryStore()
	own := seedMapping(t, store, "co-1", "emp-1", "9876543210")
	seedMapping(t, store, "co-2", "emp-2", "9876543210")
	r := NewResolver(store, leads.NewMemoryRepo(), nil)

	// The record already belongs to co-1; another company sharing the number
	// must not stop co-1's own mapping from attaching.
	existing := &CallRecord{CompanyID: "co-1"}
	attr, err := r.Resolve(context.Background(), existing, "", "9876543210", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attr.CompanyID != "co-1" {
		t.Fatalf("company = %q", attr.CompanyID)
	}
	if attr.Mapping == nil || attr.Mapping.ID != own.ID {
		t.Fatalf("mapping = %+v, want co-1's %s", attr.Mapping, own.ID)
	}
}

func TestResolveCompanyFromSingleMapping(t *testing.T) {
	store := NewMemoryStore()
	m := seedMapping(t, store, "co-1", "emp-1", "9876543210")
	r := NewResolver(store, leads.NewMemoryRepo(), nil)

	attr, err := r.Resolve(context.Background(), nil, "", "9876543210", "1112223334")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attr.CompanyID != "co-1" {
		t.Fatalf("company = %q", attr.CompanyID)
	}
	if attr.Mapping == nil || attr.Mapping.ID != m.ID {
		t.Fatalf("mapping = %+v", attr.Mapping)
	}
}

func TestResolveLeadPropagatesCompany(t *testing.T) {
	store := NewMemoryStore()
	repo := leads.NewMemoryRepo()
	repo.Add(leads.Lead{ID: "lead-1", CompanyID: "co-7", Name: "Asha", Phone: "+91 98765 43210"})
	r := NewResolver(store, repo, nil)

	attr, err := r.Resolve(context.Background(), nil, "", "9876543210", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attr.CompanyID != "co-7" {
		t.Fatalf("company = %q, want lead's co-7", attr.CompanyID)
	}
	if attr.Lead == nil || attr.Lead.ID != "lead-1" {
		t.Fatalf("lead = %+v", attr.Lead)
	}
}

func TestResolveAmbiguousLeadRefused(t *testing.T) {
	store := NewMemoryStore()
	repo := leads.NewMemoryRepo()
	repo.Add(leads.Lead{ID: "lead-1", CompanyID: "co-1", Phone: "9876543210"})
	repo.Add(leads.Lead{ID: "lead-2", CompanyID: "co-2", Phone: "9876543210"})
	r := NewResolver(store, repo, nil)

	attr, err := r.Resolve(context.Background(), nil, "", "9876543210", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attr.Lead != nil || attr.CompanyID != "" {
		t.Fatalf("ambiguous lead must resolve nothing, got company %q lead %+v", attr.CompanyID, attr.Lead)
	}
	if attr.DropReason == "" {
		t.Fatalf("expected a drop reason")
	}
}

func TestResolveUnplaceableEvent(t *testing.T) {
	r := NewResolver(NewMemoryStore(), leads.NewMemoryRepo(), nil)

	attr, err := r.Resolve(context.Background(), nil, "", "5550001111", "5550002222")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if attr.CompanyID != "" || attr.DropReason == "" {
		t.Fatalf("unplaceable event must carry a drop reason, got %+v", attr)
	}
}
