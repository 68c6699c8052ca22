package core

import (
	"context"
	"errors"
	"testing"
)

func TestRelationshipMatcher_Match(t *testing.T) {
	setupEntities(t)
	src := newFakeSource().add(EntityPerson,
		Record{ID: testID(1), TenantID: "t1", Name: "Jane Doe", Emails: []string{"jane@acme.com"}},
		Record{ID: testID(2), TenantID: "t1", Name: "John Roe", Emails: []string{"team@acme.com"}},
		Record{ID: testID(3), TenantID: "t1", Name: "Joan Poe", Emails: []string{"team@acme.com"}},
		Record{ID: testID(4), TenantID: "t1", Name: "Jane Doe"},
		Record{ID: testID(5), TenantID: "t1", Emails: []string{"anon@acme.com"}},
	)
	m := NewRelationshipMatcher(NewEntityResolver(src), "t1", EntityPerson)
	if m.Kind() != EntityPerson {
		t.Fatalf("Kind() = %s", m.Kind())
	}
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		in   RelationshipMatchInput
		want RelationshipMatchResult
	}{
		{
			name: "id",
			in:   RelationshipMatchInput{ID: testID(2), Email: "jane@acme.com"},
			want: RelationshipMatchResult{DisplayName: "John Roe", MatchType: MatchID, MatchCount: 1, MatchedRecordID: testID(2)},
		},
		{
			name: "email is case insensitive",
			in:   RelationshipMatchInput{Email: "JANE@acme.com", Name: "Someone Else"},
			want: RelationshipMatchResult{DisplayName: "Jane Doe", MatchType: MatchEmail, MatchCount: 1, MatchedRecordID: testID(1)},
		},
		{
			name: "ambiguous email withholds the id",
			in:   RelationshipMatchInput{Email: "team@acme.com"},
			want: RelationshipMatchResult{DisplayName: "John Roe", MatchType: MatchEmail, MatchCount: 2},
		},
		{
			name: "record without name shows its email",
			in:   RelationshipMatchInput{Email: "anon@acme.com"},
			want: RelationshipMatchResult{DisplayName: "anon@acme.com", MatchType: MatchEmail, MatchCount: 1, MatchedRecordID: testID(5)},
		},
		{
			name: "name takes the first record",
			in:   RelationshipMatchInput{Name: "Jane Doe"},
			want: RelationshipMatchResult{DisplayName: "Jane Doe", MatchType: MatchName, MatchCount: 2, MatchedRecordID: testID(1)},
		},
		{
			name: "unmatched is new",
			in:   RelationshipMatchInput{Name: "New Person", Email: "new@acme.com"},
			want: RelationshipMatchResult{DisplayName: "New Person", MatchType: MatchNew},
		},
		{
			name: "unmatched email only",
			in:   RelationshipMatchInput{Email: "New@Acme.com"},
			want: RelationshipMatchResult{DisplayName: "new@acme.com", MatchType: MatchNew},
		},
		{
			name: "nothing given",
			in:   RelationshipMatchInput{},
			want: RelationshipMatchResult{MatchType: MatchNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Match(tt.in)
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Match() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRelationshipMatcher_NotLoaded(t *testing.T) {
	setupEntities(t)
	m := NewRelationshipMatcher(NewEntityResolver(newFakeSource()), "t1", EntityPerson)
	if _, err := m.Match(RelationshipMatchInput{Email: "jane@acme.com"}); !errors.Is(err, ErrResolverNotLoaded) {
		t.Errorf("Match() error = %v, want ErrResolverNotLoaded", err)
	}
}
