package core

// company.go resolves company references with a fixed priority:
//
//  1. explicit id
//  2. domain (given, or derived from an email address)
//  3. exact name
//
// The first tier that produces a match wins. A domain shared by several
// companies is reported as ambiguous instead of picking one.

import (
	"context"
	"strings"
)

// MatchType classifies how a reference resolved.
type MatchType string

const (
	MatchID     MatchType = "id"
	MatchDomain MatchType = "domain"
	MatchEmail  MatchType = "email"
	MatchName   MatchType = "name"
	MatchNew    MatchType = "new"  // A reference was given but nothing matched
	MatchNone   MatchType = "none" // No reference at all
)

// DefaultPublicDomains are free email providers whose domains say nothing
// about the sender's company.
var DefaultPublicDomains = []string{
	"aol.com", "gmail.com", "googlemail.com", "gmx.com", "gmx.de", "hotmail.com",
	"icloud.com", "live.com", "mail.com", "me.com", "msn.com", "outlook.com",
	"proton.me", "protonmail.com", "web.de", "yahoo.com", "yandex.com", "zoho.com",
}

// CompanyMatchInput carries the company evidence found in one row.
type CompanyMatchInput struct {
	ID     string
	Name   string
	Domain string
	Email  string
}

// CompanyMatchResult is the outcome of matching one company reference.
// MatchCount > 1 means several companies share the key; CompanyID is then
// empty for domain matches.
type CompanyMatchResult struct {
	CompanyName string    `json:"companyName"`
	MatchType   MatchType `json:"matchType"`
	MatchCount  int       `json:"matchCount"`
	CompanyID   string    `json:"companyId,omitempty"`
	Domain      string    `json:"domain,omitempty"`
}

// Ambiguous reports whether several companies share the matched key.
func (r CompanyMatchResult) Ambiguous() bool { return r.MatchCount > 1 }

// CompanyMatcherOptions configures a CompanyMatcher.
type CompanyMatcherOptions struct {
	FilterPublicDomains bool
	PublicDomains       []string // DefaultPublicDomains when nil
}

// CompanyMatcher matches company references for one tenant.
type CompanyMatcher struct {
	resolver     *EntityResolver
	tenantID     string
	filterPublic bool
	public       map[string]bool
}

// NewCompanyMatcher creates a matcher over resolver for tenantID.
func NewCompanyMatcher(resolver *EntityResolver, tenantID string, opts CompanyMatcherOptions) *CompanyMatcher {
	domains := opts.PublicDomains
	if domains == nil {
		domains = DefaultPublicDomains
	}
	public := make(map[string]bool, len(domains))
	for _, d := range domains {
		if d = NormalizeDomain(d); d != "" {
			public[d] = true
		}
	}
	return &CompanyMatcher{
		resolver:     resolver,
		tenantID:     tenantID,
		filterPublic: opts.FilterPublicDomains,
		public:       public,
	}
}

// Load bulk-loads the tenant's companies.
func (m *CompanyMatcher) Load(ctx context.Context) error {
	return m.resolver.LoadForTeam(ctx, m.tenantID, EntityCompany)
}

// IsPublicDomain reports whether domain belongs to a free email provider.
func (m *CompanyMatcher) IsPublicDomain(domain string) bool {
	return m.public[NormalizeDomain(domain)]
}

// DeriveDomain returns the domain to match on: the explicit domain when
// given, else the domain of the email address unless it is public.
func (m *CompanyMatcher) DeriveDomain(in CompanyMatchInput) string {
	if d := NormalizeDomain(in.Domain); d != "" {
		return d
	}
	d := EmailDomain(in.Email)
	if d == "" || (m.filterPublic && m.public[d]) {
		return ""
	}
	return d
}

// Match resolves one company reference. The only error is ErrResolverNotLoaded.
func (m *CompanyMatcher) Match(in CompanyMatchInput) (CompanyMatchResult, error) {
	name := strings.TrimSpace(in.Name)
	id := strings.TrimSpace(in.ID)
	domain := m.DeriveDomain(in)

	if IsValidID(id) {
		res, err := m.resolver.ResolveByID(m.tenantID, EntityCompany, id)
		if err != nil {
			return CompanyMatchResult{}, err
		}
		if res.Found() {
			return CompanyMatchResult{
				CompanyName: res.Record.Name,
				MatchType:   MatchID,
				MatchCount:  1,
				CompanyID:   res.Record.ID,
				Domain:      domain,
			}, nil
		}
	}

	if domain != "" {
		res, err := m.resolver.ResolveByDomain(m.tenantID, EntityCompany, domain)
		if err != nil {
			return CompanyMatchResult{}, err
		}
		if res.Found() {
			result := CompanyMatchResult{
				CompanyName: firstNonEmpty(name, res.Record.Name),
				MatchType:   MatchDomain,
				MatchCount:  res.Count,
				Domain:      domain,
			}
			if !res.Ambiguous() {
				result.CompanyID = res.Record.ID
			}
			return result, nil
		}
	}

	if name != "" {
		res, err := m.resolver.ResolveByName(m.tenantID, EntityCompany, name)
		if err != nil {
			return CompanyMatchResult{}, err
		}
		if res.Found() {
			return CompanyMatchResult{
				CompanyName: res.Record.Name,
				MatchType:   MatchName,
				MatchCount:  res.Count,
				CompanyID:   res.Record.ID,
				Domain:      domain,
			}, nil
		}
	}

	if name == "" && domain == "" && id == "" {
		return CompanyMatchResult{MatchType: MatchNone}, nil
	}
	return CompanyMatchResult{
		CompanyName: firstNonEmpty(name, domain),
		MatchType:   MatchNew,
		Domain:      domain,
	}, nil
}

// MatchAll resolves a batch of references in input order.
func (m *CompanyMatcher) MatchAll(inputs []CompanyMatchInput) ([]CompanyMatchResult, error) {
	out := make([]CompanyMatchResult, len(inputs))
	for i, in := range inputs {
		res, err := m.Match(in)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
