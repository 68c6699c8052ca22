package core

import (
	"context"
	"strings"
)

// RelationshipMatchInput carries the evidence for a reference to a
// non-company entity: a person, an opportunity, a task.
type RelationshipMatchInput struct {
	ID    string
	Email string
	Name  string
}

// RelationshipMatchResult is the outcome of matching one reference.
type RelationshipMatchResult struct {
	DisplayName     string    `json:"displayName"`
	MatchType       MatchType `json:"matchType"`
	MatchCount      int       `json:"matchCount"`
	MatchedRecordID string    `json:"matchedRecordId,omitempty"`
}

// Ambiguous reports whether several records share the matched key.
func (r RelationshipMatchResult) Ambiguous() bool { return r.MatchCount > 1 }

// RelationshipMatcher resolves references to one target kind with the
// priority id, email, exact name.
type RelationshipMatcher struct {
	resolver *EntityResolver
	tenantID string
	kind     EntityKind
}

// NewRelationshipMatcher creates a matcher for references to kind.
func NewRelationshipMatcher(resolver *EntityResolver, tenantID string, kind EntityKind) *RelationshipMatcher {
	return &RelationshipMatcher{resolver: resolver, tenantID: tenantID, kind: kind}
}

// Kind returns the target entity kind.
func (m *RelationshipMatcher) Kind() EntityKind { return m.kind }

// Load bulk-loads the tenant's records of the target kind.
func (m *RelationshipMatcher) Load(ctx context.Context) error {
	return m.resolver.LoadForTeam(ctx, m.tenantID, m.kind)
}

// Match resolves one reference. The only error is ErrResolverNotLoaded.
func (m *RelationshipMatcher) Match(in RelationshipMatchInput) (RelationshipMatchResult, error) {
	id := strings.TrimSpace(in.ID)
	email := NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)

	if IsValidID(id) {
		res, err := m.resolver.ResolveByID(m.tenantID, m.kind, id)
		if err != nil {
			return RelationshipMatchResult{}, err
		}
		if res.Found() {
			return RelationshipMatchResult{
				DisplayName:     displayName(res.Record),
				MatchType:       MatchID,
				MatchCount:      1,
				MatchedRecordID: res.Record.ID,
			}, nil
		}
	}

	if email != "" {
		res, err := m.resolver.ResolveByEmail(m.tenantID, m.kind, email)
		if err != nil {
			return RelationshipMatchResult{}, err
		}
		if res.Found() {
			result := RelationshipMatchResult{
				DisplayName: firstNonEmpty(res.Record.Name, email),
				MatchType:   MatchEmail,
				MatchCount:  res.Count,
			}
			if !res.Ambiguous() {
				result.MatchedRecordID = res.Record.ID
			}
			return result, nil
		}
	}

	if name != "" {
		res, err := m.resolver.ResolveByName(m.tenantID, m.kind, name)
		if err != nil {
			return RelationshipMatchResult{}, err
		}
		if res.Found() {
			return RelationshipMatchResult{
				DisplayName:     res.Record.Name,
				MatchType:       MatchName,
				MatchCount:      res.Count,
				MatchedRecordID: res.Record.ID,
			}, nil
		}
	}

	if id == "" && email == "" && name == "" {
		return RelationshipMatchResult{MatchType: MatchNone}, nil
	}
	return RelationshipMatchResult{
		DisplayName: firstNonEmpty(name, email, id),
		MatchType:   MatchNew,
	}, nil
}

func displayName(rec Record) string {
	if rec.Name != "" {
		return rec.Name
	}
	if len(rec.Emails) > 0 {
		return rec.Emails[0]
	}
	return rec.ID
}
