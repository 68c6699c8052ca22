package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func matchFixture(t *testing.T, rows ...map[string]string) (*MatchResolver, *MemoryRowStore, *fakeSource) {
	t.Helper()
	setupEntities(t)
	src := newFakeSource().add(EntityCompany,
		Record{ID: testID(1), TenantID: "t1", Name: "Acme", Domains: []string{"acme.com"}},
		Record{ID: testID(2), TenantID: "t1", Name: "Beta", Domains: []string{"beta.io"}},
	)
	store := NewMemoryRowStore()
	staged := make([]StagedRow, len(rows))
	for i, raw := range rows {
		staged[i] = StagedRow{RowNumber: i + 1, RawData: raw}
	}
	if err := store.InsertRows(context.Background(), "imp1", staged); err != nil {
		t.Fatal(err)
	}
	return NewMatchResolver(NewEntityResolver(src), store), store, src
}

// decisions returns "action:matchedID" per row in row order.
func decisions(t *testing.T, store *MemoryRowStore) []string {
	t.Helper()
	rows, err := store.Rows(context.Background(), "imp1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r.MatchAction) + ":" + r.MatchedID
	}
	return out
}

func TestMatchResolver_AttributeMatch(t *testing.T) {
	m, store, src := matchFixture(t,
		map[string]string{"Company": "Acme", "Website": "acme.com"},
		map[string]string{"Company": "Acme", "Website": "https://www.acme.com"},
		map[string]string{"Company": "New", "Website": "new.org"},
		map[string]string{"Company": "Blank", "Website": ""},
		map[string]string{"Company": "Beta", "Website": "beta.io"},
	)

	summary, err := m.Resolve(context.Background(), ResolveRequest{
		ImportID: "imp1",
		TenantID: "t1",
		Entity:   EntityCompany,
		Columns:  ColumnMap{"name": "Company", "domain": "Website"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []string{
		"update:" + testID(1),
		"update:" + testID(1),
		"create:",
		"create:",
		"update:" + testID(2),
	}
	if got := decisions(t, store); !reflect.DeepEqual(got, want) {
		t.Errorf("decisions = %v, want %v", got, want)
	}

	wantSummary := ResolveSummary{
		MatchField:     "domain",
		DistinctValues: 4,
		MatchedValues:  3,
		Created:        2,
		Updated:        3,
	}
	if summary != wantSummary {
		t.Errorf("summary = %+v, want %+v", summary, wantSummary)
	}
	if src.totalCalls() != 1 {
		t.Errorf("source calls = %d, want 1", src.totalCalls())
	}
}

func TestMatchResolver_IDTierRunsFirst(t *testing.T) {
	m, store, src := matchFixture(t,
		map[string]string{"Id": testID(2), "Website": "acme.com"},
		map[string]string{"Id": "", "Website": "acme.com"},
		map[string]string{"Id": testID(50), "Website": "new.org"},
		map[string]string{"Id": "garbage", "Website": "beta.io"},
	)

	_, err := m.Resolve(context.Background(), ResolveRequest{
		ImportID: "imp1",
		TenantID: "t1",
		Entity:   EntityCompany,
		Columns:  ColumnMap{"id": "Id", "domain": "Website"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []string{
		"update:" + testID(2), // id beats the domain's record
		"update:" + testID(1),
		"create:",
		"update:" + testID(2),
	}
	if got := decisions(t, store); !reflect.DeepEqual(got, want) {
		t.Errorf("decisions = %v, want %v", got, want)
	}
	if src.totalCalls() != 1 {
		t.Errorf("source calls = %d, want 1", src.totalCalls())
	}
}

func TestMatchResolver_Strategies(t *testing.T) {
	rows := []map[string]string{
		{"Website": "acme.com"},
		{"Website": "new.org"},
	}

	tests := []struct {
		name      string
		strategy  DuplicateStrategy
		want      []string
		wantLoads int
	}{
		{"update", StrategyUpdate, []string{"update:" + testID(1), "create:"}, 1},
		{"skip", StrategySkip, []string{"update:" + testID(1), "skip:"}, 1},
		{"create new", StrategyCreateNew, []string{"create:", "create:"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store, src := matchFixture(t, rows...)
			_, err := m.Resolve(context.Background(), ResolveRequest{
				ImportID: "imp1",
				TenantID: "t1",
				Entity:   EntityCompany,
				Columns:  ColumnMap{"domain": "Website"},
				Strategy: tt.strategy,
			})
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got := decisions(t, store); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("decisions = %v, want %v", got, tt.want)
			}
			if src.totalCalls() != tt.wantLoads {
				t.Errorf("source calls = %d, want %d", src.totalCalls(), tt.wantLoads)
			}
		})
	}
}

func TestMatchResolver_RerunIsIdempotent(t *testing.T) {
	m, store, _ := matchFixture(t,
		map[string]string{"Website": "acme.com"},
		map[string]string{"Website": "new.org"},
	)
	req := ResolveRequest{ImportID: "imp1", TenantID: "t1", Entity: EntityCompany, Columns: ColumnMap{"domain": "Website"}}
	ctx := context.Background()

	first, err := m.Resolve(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	// A correction between runs changes the outcome of a re-run
	if err := store.SetCorrection(ctx, "imp1", 2, "Website", "beta.io"); err != nil {
		t.Fatal(err)
	}
	second, err := m.Resolve(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if first.Created != 1 || second.Created != 0 || second.Updated != 2 {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
	want := []string{"update:" + testID(1), "update:" + testID(2)}
	if got := decisions(t, store); !reflect.DeepEqual(got, want) {
		t.Errorf("decisions = %v, want %v", got, want)
	}
}

func TestMatchResolver_NoMatcherMapped(t *testing.T) {
	m, store, src := matchFixture(t,
		map[string]string{"Sector": "Software"},
	)
	_, err := m.Resolve(context.Background(), ResolveRequest{
		ImportID: "imp1", TenantID: "t1", Entity: EntityCompany, Columns: ColumnMap{"industry": "Sector"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := decisions(t, store); !reflect.DeepEqual(got, []string{"create:"}) {
		t.Errorf("decisions = %v, want create", got)
	}
	if src.totalCalls() != 0 {
		t.Errorf("source calls = %d, want none", src.totalCalls())
	}
}

func TestMatchResolver_AlwaysCreateKind(t *testing.T) {
	m, store, _ := matchFixture(t)
	ctx := context.Background()
	if err := store.InsertRows(ctx, "notes", []StagedRow{{RowNumber: 1, RawData: map[string]string{"Title": "Call"}}}); err != nil {
		t.Fatal(err)
	}

	summary, err := m.Resolve(ctx, ResolveRequest{
		ImportID: "notes", TenantID: "t1", Entity: EntityNote, Columns: ColumnMap{"title": "Title"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Created != 1 || summary.MatchField != "" {
		t.Errorf("summary = %+v, want one create without matching", summary)
	}
}

func TestMatchResolver_UnknownEntity(t *testing.T) {
	m, _, _ := matchFixture(t)
	_, err := m.Resolve(context.Background(), ResolveRequest{ImportID: "imp1", TenantID: "t1", Entity: "widget"})
	if !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("Resolve() error = %v, want ErrUnknownEntity", err)
	}
}

func TestSelectMatcher(t *testing.T) {
	tests := []struct {
		name         string
		def          EntityDefinition
		columns      ColumnMap
		field        string
		wantField    string
		wantBehavior MatchBehavior
		wantOK       bool
	}{
		{"first mapped attribute", testCompanyDef, ColumnMap{"id": "Id", "name": "Name", "domain": "Web"}, "", "domain", CreateOrUpdate, true},
		{"requested field", testCompanyDef, ColumnMap{"name": "Name", "domain": "Web"}, "name", "name", CreateOrUpdate, true},
		{"requested field unmapped", testCompanyDef, ColumnMap{"name": "Name"}, "domain", "name", CreateOrUpdate, true},
		{"only id mapped", testCompanyDef, ColumnMap{"id": "Id"}, "", "id", UpdateOnly, true},
		{"nothing mapped keeps attribute behavior", testCompanyDef, ColumnMap{"industry": "Sector"}, "", "", CreateOrUpdate, false},
		{"always create kind", testNoteDef, ColumnMap{"body": "Body"}, "", "", AlwaysCreate, false},
		{"no matchers", EntityDefinition{}, ColumnMap{}, "", "", CreateOrUpdate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectMatcher(tt.def, tt.columns, tt.field)
			if got.Field != tt.wantField || got.Behavior != tt.wantBehavior || ok != tt.wantOK {
				t.Errorf("SelectMatcher() = (%+v, %v), want (%s, %s, %v)", got, ok, tt.wantField, tt.wantBehavior, tt.wantOK)
			}
		})
	}
}
