package calls

import (
	"context"
	"log/slog"

	"callbridge/internal/leads"
)

// MappingFinder is the slice of Store the resolver needs.
type MappingFinder interface {
	FindActiveMappingsByNumber(ctx context.Context, normalized string) ([]PhoneMapping, error)
}

// Attribution is the result of resolving who a call belongs to. CompanyID
// empty means the event could not be placed and must be dropped, never
// persisted partially.
type Attribution struct {
	CompanyID string
	Mapping   *PhoneMapping
	Lead      *leads.Lead

	// DropReason is set when CompanyID is empty, for the acknowledgment log.
	DropReason string
}

// Resolver attributes a call event to a company, an employee mapping and a
// CRM lead. Resolution never guesses: candidate sets spanning more than one
// company are refused.
type Resolver struct {
	mappings MappingFinder
	leads    leads.Finder
	log      *slog.Logger
}

func NewResolver(mappings MappingFinder, finder leads.Finder, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{mappings: mappings, leads: finder, log: log}
}

// Resolve establishes the company for an event, in order: the existing
// record's company (ground truth, a call never changes tenant), the request
// context's company, a single-company phone mapping match, a single-company
// lead match. Mapping and lead attribution are attempted even when the
// company is already known, to attach employee and contact context.
func (r *Resolver) Resolve(ctx context.Context, existing *CallRecord, ctxCompanyID, fromNorm, toNorm string) (Attribution, error) {
	var out Attribution

	if existing != nil && existing.CompanyID != "" {
		out.CompanyID = existing.CompanyID
	} else if ctxCompanyID != "" {
		out.CompanyID = ctxCompanyID
	}

	mapping, err := r.resolveMapping(ctx, out.CompanyID, fromNorm, toNorm)
	if err != nil {
		return Attribution{}, err
	}
	if mapping != nil {
		out.Mapping = mapping
		if out.CompanyID == "" {
			out.CompanyID = mapping.CompanyID
		}
	}

	lead, err := r.resolveLead(ctx, out.CompanyID, fromNorm, toNorm)
	if err != nil {
		return Attribution{}, err
	}
	if lead != nil {
		out.Lead = lead
		if out.CompanyID == "" {
			out.CompanyID = lead.CompanyID
		}
	}

	if out.CompanyID == "" {
		out.DropReason = "no company resolvable"
	}
	return out, nil
}

// resolveMapping searches active mappings by either normalized number. With a
// known company the candidates narrow to that company first; other companies'
// mappings for the same number are discarded rather than trusted, and must
// never block the known company's own mapping. Without a known company a
// candidate set spanning more than one company is ambiguous and yields no
// mapping.
func (r *Resolver) resolveMapping(ctx context.Context, knownCompanyID, fromNorm, toNorm string) (*PhoneMapping, error) {
	candidates, err := r.findMappingCandidates(ctx, fromNorm, toNorm)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if knownCompanyID != "" {
		own := make([]PhoneMapping, 0, len(candidates))
		for _, m := range candidates {
			if m.CompanyID == knownCompanyID {
				own = append(own, m)
			}
		}
		if len(own) == 0 {
			r.log.WarnContext(ctx, "phone mapping company mismatch, discarding mapping",
				"call_company_id", knownCompanyID,
				"candidate_company_ids", distinctCompanies(mappingCompanies(candidates)))
			return nil, nil
		}
		return &own[0], nil
	}

	companies := distinctCompanies(mappingCompanies(candidates))
	if len(companies) > 1 {
		r.log.WarnContext(ctx, "ambiguous phone mapping, refusing to attach",
			"from", fromNorm, "to", toNorm, "candidate_company_ids", companies)
		return nil, nil
	}
	return &candidates[0], nil
}

func (r *Resolver) findMappingCandidates(ctx context.Context, fromNorm, toNorm string) ([]PhoneMapping, error) {
	seen := map[string]bool{}
	out := make([]PhoneMapping, 0)
	for _, n := range []string{fromNorm, toNorm} {
		if n == "" {
			continue
		}
		found, err := r.mappings.FindActiveMappingsByNumber(ctx, n)
		if err != nil {
			return nil, err
		}
		for _, m := range found {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// resolveLead matches a CRM contact on either normalized number. With a known
// company the search is scoped to it; otherwise it runs globally and refuses
// matches spanning more than one company.
func (r *Resolver) resolveLead(ctx context.Context, knownCompanyID, fromNorm, toNorm string) (*leads.Lead, error) {
	candidates := make([]leads.Lead, 0)
	seen := map[string]bool{}
	for _, n := range []string{fromNorm, toNorm} {
		if n == "" {
			continue
		}
		var (
			found []leads.Lead
			err   error
		)
		if knownCompanyID != "" {
			found, err = r.leads.FindByNumberInCompany(ctx, knownCompanyID, n)
		} else {
			found, err = r.leads.FindByNumber(ctx, n)
		}
		if err != nil {
			return nil, err
		}
		for _, l := range found {
			if !seen[l.ID] {
				seen[l.ID] = true
				candidates = append(candidates, l)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if knownCompanyID == "" {
		companies := distinctCompanies(leadCompanies(candidates))
		if len(companies) > 1 {
			r.log.WarnContext(ctx, "ambiguous lead match, refusing to attach",
				"from", fromNorm, "to", toNorm, "candidate_company_ids", companies)
			return nil, nil
		}
	}
	return &candidates[0], nil
}

func mappingCompanies(ms []PhoneMapping) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.CompanyID)
	}
	return out
}

func leadCompanies(ls []leads.Lead) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.CompanyID)
	}
	return out
}

func distinctCompanies(ids []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
