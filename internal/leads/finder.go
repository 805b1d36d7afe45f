package leads

import "context"

// Finder looks up CRM contacts by normalized phone suffix.
//
// FindByNumber searches across all companies; callers own the ambiguity
// policy when matches span more than one company. FindByNumberInCompany
// scopes the search to one tenant.
type Finder interface {
	FindByNumber(ctx context.Context, normalized string) ([]Lead, error)
	FindByNumberInCompany(ctx context.Context, companyID, normalized string) ([]Lead, error)
}
