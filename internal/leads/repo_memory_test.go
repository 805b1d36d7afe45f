package leads

import (
	"context"
	"testing"
)

func TestFindByNumberSuffixForms(t *testing.T) {
	r := NewMemoryRepo()
	r.Add(Lead{ID: "l1", CompanyID: "co-1", Name: "Ravi", Phone: "+91 98765 43210"})
	r.Add(Lead{ID: "l2", CompanyID: "co-1", Name: "Meera", Phone: "5550001111", PhoneSecondary: "9812345678"})

	for _, q := range []string{"9876543210", "919876543210"} {
		got, err := r.FindByNumber(context.Background(), q)
		if err != nil {
			t.Fatalf("FindByNumber(%q): %v", q, err)
		}
		if len(got) != 1 || got[0].ID != "l1" {
			t.Fatalf("FindByNumber(%q) = %+v", q, got)
		}
	}

	// Secondary phone matches too.
	got, err := r.FindByNumber(context.Background(), "9812345678")
	if err != nil || len(got) != 1 || got[0].ID != "l2" {
		t.Fatalf("secondary match = %+v err = %v", got, err)
	}
}

func TestFindByNumberInCompanyScoped(t *testing.T) {
	r := NewMemoryRepo()
	r.Add(Lead{ID: "l1", CompanyID: "co-1", Phone: "9876543210"})
	r.Add(Lead{ID: "l2", CompanyID: "co-2", Phone: "9876543210"})

	got, err := r.FindByNumberInCompany(context.Background(), "co-2", "9876543210")
	if err != nil {
		t.Fatalf("FindByNumberInCompany: %v", err)
	}
	if len(got) != 1 || got[0].ID != "l2" {
		t.Fatalf("scoped result = %+v", got)
	}

	if _, err := r.FindByNumberInCompany(context.Background(), "", "9876543210"); err == nil {
		t.Fatalf("empty company must error")
	}
}
