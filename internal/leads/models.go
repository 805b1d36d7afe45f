package leads

import "time"

// Lead is the CRM contact this subsystem matches calls against. Only the
// fields the call path reads are modeled; the CRM owns the rest of the row.
//
// Multi-tenant invariant: CompanyID is required on every row.
type Lead struct {
	ID        string `json:"id" db:"id"`
	CompanyID string `json:"company_id" db:"company_id"`
	Name      string `json:"name" db:"name"`

	Phone          string `json:"phone" db:"phone"`
	PhoneSecondary string `json:"phone_secondary,omitempty" db:"phone_secondary"`

	// Normalized forms are maintained by the CRM on write; the call path
	// only reads them.
	PhoneNormalized          string `json:"-" db:"phone_normalized"`
	PhoneSecondaryNormalized string `json:"-" db:"phone_secondary_normalized"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
