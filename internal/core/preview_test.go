package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func newTestPreview(src RecordSource) *PreviewService {
	return NewPreviewService(src, PreviewConfig{
		Counter: NewRowCounter(),
		Company: CompanyMatcherOptions{FilterPublicDomains: true},
	})
}

func companySource() *fakeSource {
	return newFakeSource().add(EntityCompany,
		Record{ID: testID(1), TenantID: "t1", Name: "Acme", Domains: []string{"acme.com"}, Attributes: map[string]string{"industry": "Software"}},
		Record{ID: testID(2), TenantID: "t1", Name: "Beta", Domains: []string{"beta.io"}},
	)
}

var companyColumns = ColumnMap{"name": "Name", "domain": "Website", "industry": "Industry"}

func TestPreview_Basic(t *testing.T) {
	setupEntities(t)
	src := companySource()
	path := writeCSV(t, "Name,Website,Industry\nAcme Inc,acme.com,Software\nGamma,gamma.io,Mining\nAcme Again,ACME.com,Finance\n")

	result, err := newTestPreview(src).Preview(context.Background(), PreviewRequest{
		Entity:   EntityCompany,
		FilePath: path,
		Columns:  companyColumns,
		TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	if result.RunID == "" || result.Entity != EntityCompany {
		t.Errorf("RunID = %q, Entity = %q", result.RunID, result.Entity)
	}
	if result.TotalRows != 3 || !result.TotalRowsExact || result.ProcessedRows != 3 || result.IsSampled {
		t.Errorf("totals = %d/%v processed %d sampled %v", result.TotalRows, result.TotalRowsExact, result.ProcessedRows, result.IsSampled)
	}
	if result.CreateCount != 1 || result.UpdateCount != 2 || result.ErrorCount != 0 {
		t.Errorf("counts create=%d update=%d error=%d", result.CreateCount, result.UpdateCount, result.ErrorCount)
	}

	first := result.Rows[0]
	if first.Action != ActionUpdate || first.Method != MethodAttribute || first.MatchField != "domain" || first.MatchedID != testID(1) {
		t.Errorf("row 1 = %+v", first)
	}
	if !reflect.DeepEqual(first.Changed, []string{"name"}) {
		t.Errorf("row 1 changed = %v, want [name]", first.Changed)
	}
	if first.Values["name"] != "Acme Inc" {
		t.Errorf("row 1 values should be keyed by field: %v", first.Values)
	}

	// Validation problems are reported without changing the decision
	second := result.Rows[1]
	if second.Action != ActionCreate || len(second.Errors) != 1 || second.Errors[0].Field != "industry" {
		t.Errorf("row 2 = %+v", second)
	}

	third := result.Rows[2]
	if !reflect.DeepEqual(third.Changed, []string{"domain", "industry", "name"}) {
		t.Errorf("row 3 changed = %v", third.Changed)
	}

	wantDup := []DuplicatePreview{{Key: "domain:acme.com", RowNumbers: []int{1, 3}}}
	if !reflect.DeepEqual(result.Duplicates, wantDup) {
		t.Errorf("Duplicates = %+v, want %+v", result.Duplicates, wantDup)
	}
	if src.totalCalls() != 1 {
		t.Errorf("source calls = %d, want 1", src.totalCalls())
	}
}

func scalingCSV(t *testing.T, rows, matching int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Name,Website\n")
	for i := 1; i <= rows; i++ {
		site := fmt.Sprintf("new%d.org", i)
		if i <= matching {
			site = "acme.com"
		}
		fmt.Fprintf(&b, "Row %d,%s\n", i, site)
	}
	return writeCSV(t, b.String())
}

func TestPreview_SampledCountsAreScaled(t *testing.T) {
	setupEntities(t)
	path := scalingCSV(t, 1500, 400)

	result, err := newTestPreview(companySource()).Preview(context.Background(), PreviewRequest{
		Entity:     EntityCompany,
		FilePath:   path,
		Columns:    ColumnMap{"name": "Name", "domain": "Website"},
		TenantID:   "t1",
		SampleSize: 1000,
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	if result.TotalRows != 1500 || !result.TotalRowsExact {
		t.Errorf("TotalRows = %d exact=%v, want 1500 exact", result.TotalRows, result.TotalRowsExact)
	}
	if result.ProcessedRows != 1000 || len(result.Rows) != 1000 || !result.IsSampled {
		t.Errorf("processed = %d rows = %d sampled = %v", result.ProcessedRows, len(result.Rows), result.IsSampled)
	}
	if result.UpdateCount != 600 || result.CreateCount != 900 {
		t.Errorf("scaled counts update=%d create=%d, want 600/900", result.UpdateCount, result.CreateCount)
	}
}

func TestPreview_FullRunIsNotSampled(t *testing.T) {
	setupEntities(t)
	path := scalingCSV(t, 1500, 400)

	result, err := newTestPreview(companySource()).Preview(context.Background(), PreviewRequest{
		Entity:   EntityCompany,
		FilePath: path,
		Columns:  ColumnMap{"name": "Name", "domain": "Website"},
		TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if result.IsSampled || result.UpdateCount != 400 || result.CreateCount != 1100 {
		t.Errorf("sampled=%v update=%d create=%d", result.IsSampled, result.UpdateCount, result.CreateCount)
	}
}

func TestPreview_EOFMakesEstimateExact(t *testing.T) {
	setupEntities(t)
	var b strings.Builder
	b.WriteString("Name,Website\nA,a.io\nB,b.io\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "A much longer company name %d,subsidiary-%d.example.com\n", i, i)
	}
	path := writeCSV(t, b.String())

	s := NewPreviewService(companySource(), PreviewConfig{Counter: RowCounter{ExactThreshold: 1, SampleRows: 2}})
	result, err := s.Preview(context.Background(), PreviewRequest{
		Entity:   EntityCompany,
		FilePath: path,
		Columns:  ColumnMap{"name": "Name", "domain": "Website"},
		TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if result.TotalRows != 12 || !result.TotalRowsExact || result.IsSampled {
		t.Errorf("TotalRows = %d exact=%v sampled=%v, want 12 exact", result.TotalRows, result.TotalRowsExact, result.IsSampled)
	}
	if result.CreateCount != 12 {
		t.Errorf("CreateCount = %d, want 12", result.CreateCount)
	}
}

func TestPreview_RowFailuresAreIsolated(t *testing.T) {
	setupEntities(t)
	path := writeCSV(t, "Name,Website\nA,a.io\nB,b.io\nC,c.io\nD,acme.com\n")

	s := newTestPreview(companySource())
	s.rowFn = func(run *previewRun, n int, raw map[string]string) (RowResult, error) {
		switch n {
		case 2:
			return RowResult{}, errors.New("lookup exploded")
		case 3:
			panic("nil map")
		}
		return run.resolveRow(n, raw)
	}

	result, err := s.Preview(context.Background(), PreviewRequest{
		Entity:   EntityCompany,
		FilePath: path,
		Columns:  ColumnMap{"name": "Name", "domain": "Website"},
		TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	got := make([]string, len(result.Rows))
	for i, r := range result.Rows {
		got[i] = fmt.Sprintf("%d:%s:%s", r.RowNumber, r.Action, r.Error)
	}
	want := []string{
		"1:create:",
		"2:error:lookup exploded",
		"3:error:panic: nil map",
		"4:update:",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %v, want %v", got, want)
	}
	if result.ErrorCount != 2 || result.CreateCount != 1 || result.UpdateCount != 1 {
		t.Errorf("counts error=%d create=%d update=%d", result.ErrorCount, result.CreateCount, result.UpdateCount)
	}
}

func TestPreview_ResolverMisuseAbortsRun(t *testing.T) {
	setupEntities(t)
	path := writeCSV(t, "Name,Website\nA,a.io\nB,b.io\n")

	s := newTestPreview(companySource())
	s.rowFn = func(run *previewRun, n int, raw map[string]string) (RowResult, error) {
		if n == 2 {
			return RowResult{}, fmt.Errorf("lookup: %w", ErrResolverNotLoaded)
		}
		return run.resolveRow(n, raw)
	}

	result, err := s.Preview(context.Background(), PreviewRequest{
		Entity:   EntityCompany,
		FilePath: path,
		Columns:  ColumnMap{"name": "Name", "domain": "Website"},
		TenantID: "t1",
	})
	if !errors.Is(err, ErrResolverNotLoaded) || result != nil {
		t.Errorf("Preview() = (%v, %v), want ErrResolverNotLoaded", result, err)
	}
}

func TestPreview_IDTier(t *testing.T) {
	setupEntities(t)
	path := writeCSV(t, "Id,Name,Website\n"+testID(2)+",Beta,acme.com\nnot-an-id,Acme,acme.com\n")

	result, err := newTestPreview(companySource()).Preview(context.Background(), PreviewRequest{
		Entity:   EntityCompany,
		FilePath: path,
		Columns:  ColumnMap{"id": "Id", "name": "Name", "domain": "Website"},
		TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	byID := result.Rows[0]
	if byID.Method != MethodID || byID.MatchField != "id" || byID.MatchedID != testID(2) {
		t.Errorf("row 1 = %+v, want id match", byID)
	}
	byDomain := result.Rows[1]
	if byDomain.Method != MethodAttribute || byDomain.MatchedID != testID(1) {
		t.Errorf("row 2 = %+v, want domain match", byDomain)
	}
	if len(byDomain.Errors) != 1 || byDomain.Errors[0].Field != "id" {
		t.Errorf("row 2 errors = %+v, want invalid id", byDomain.Errors)
	}
}

func TestPreview_Options(t *testing.T) {
	setupEntities(t)
	path := writeCSV(t, "Name,Website\nAcme,acme.co\nNew,new.org\n")
	columns := ColumnMap{"name": "Name", "domain": "Website"}

	t.Run("corrections are applied before matching", func(t *testing.T) {
		result, err := newTestPreview(companySource()).Preview(context.Background(), PreviewRequest{
			Entity:   EntityCompany,
			FilePath: path,
			Columns:  columns,
			TenantID: "t1",
			Options:  ImportOptions{Corrections: Corrections{"Website": {"acme.co": "acme.com"}}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if result.Rows[0].Action != ActionUpdate || result.Rows[0].Values["domain"] != "acme.com" {
			t.Errorf("row 1 = %+v", result.Rows[0])
		}
	})

	t.Run("skip strategy", func(t *testing.T) {
		result, err := newTestPreview(companySource()).Preview(context.Background(), PreviewRequest{
			Entity:   EntityCompany,
			FilePath: path,
			Columns:  columns,
			TenantID: "t1",
			Options:  ImportOptions{DuplicateStrategy: StrategySkip},
		})
		if err != nil {
			t.Fatal(err)
		}
		if result.SkipCount != 2 {
			t.Errorf("SkipCount = %d, want 2", result.SkipCount)
		}
	})

	t.Run("create new never loads records", func(t *testing.T) {
		src := companySource()
		result, err := newTestPreview(src).Preview(context.Background(), PreviewRequest{
			Entity:   EntityCompany,
			FilePath: path,
			Columns:  columns,
			TenantID: "t1",
			Options:  ImportOptions{DuplicateStrategy: StrategyCreateNew},
		})
		if err != nil {
			t.Fatal(err)
		}
		if result.CreateCount != 2 || src.totalCalls() != 0 {
			t.Errorf("CreateCount = %d, source calls = %d", result.CreateCount, src.totalCalls())
		}
	})
}

func TestPreview_Relationships(t *testing.T) {
	setupEntities(t)
	src := companySource().add(EntityPerson,
		Record{ID: testID(10), TenantID: "t1", Name: "Jane", Emails: []string{"jane@acme.com"}},
	)
	path := writeCSV(t, "Name,Email,Company\nJane,jane@acme.com,\nBob,bob@gmail.com,Newco\nAnn,ann@x.io,Beta\n")

	result, err := newTestPreview(src).Preview(context.Background(), PreviewRequest{
		Entity:   EntityPerson,
		FilePath: path,
		Columns:  ColumnMap{"name": "Name", "email": "Email", "company": "Company"},
		TenantID: "t1",
		Options:  ImportOptions{ResolveRelationships: true},
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	wantActions := []MatchAction{ActionUpdate, ActionCreate, ActionCreate}
	wantLinks := []LinkMatch{
		{TargetEntity: EntityCompany, DisplayName: "Acme", MatchType: MatchDomain, MatchCount: 1, MatchedID: testID(1)},
		{TargetEntity: EntityCompany, DisplayName: "Newco", MatchType: MatchNew},
		{TargetEntity: EntityCompany, DisplayName: "Beta", MatchType: MatchName, MatchCount: 1, MatchedID: testID(2)},
	}
	for i, row := range result.Rows {
		if row.Action != wantActions[i] {
			t.Errorf("row %d action = %s, want %s", row.RowNumber, row.Action, wantActions[i])
		}
		if got := row.Relationships["company"]; got != wantLinks[i] {
			t.Errorf("row %d company = %+v, want %+v", row.RowNumber, got, wantLinks[i])
		}
	}
	if src.calls[EntityPerson] != 1 || src.calls[EntityCompany] != 1 {
		t.Errorf("source calls = %v, want one per kind", src.calls)
	}
}

func TestPreview_RequestErrors(t *testing.T) {
	setupEntities(t)
	path := writeCSV(t, "Name,Website\nAcme,acme.com\n")
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		req     PreviewRequest
		wantErr string
	}{
		{"unknown entity", context.Background(), PreviewRequest{Entity: "widget", FilePath: path, TenantID: "t1"}, "unknown entity"},
		{"missing tenant", context.Background(), PreviewRequest{Entity: EntityCompany, FilePath: path, Columns: ColumnMap{"name": "Name"}}, "tenant id is required"},
		{"bad mapping", context.Background(), PreviewRequest{Entity: EntityCompany, FilePath: path, Columns: ColumnMap{"domain": "Website"}, TenantID: "t1"}, "invalid column mapping"},
		{"missing file", context.Background(), PreviewRequest{Entity: EntityCompany, FilePath: path + ".missing", Columns: ColumnMap{"name": "Name"}, TenantID: "t1"}, "no such file"},
		{"cancelled", cancelled, PreviewRequest{Entity: EntityCompany, FilePath: path, Columns: ColumnMap{"name": "Name"}, TenantID: "t1"}, "context canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestPreview(companySource()).Preview(tt.ctx, tt.req)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Preview() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestScaleCount(t *testing.T) {
	tests := []struct {
		count  int
		factor float64
		want   int
	}{
		{400, 1.5, 600},
		{600, 1.5, 900},
		{1, 2.5, 3},
		{0, 10, 0},
		{7, 1, 7},
	}

	for _, tt := range tests {
		if got := ScaleCount(tt.count, tt.factor); got != tt.want {
			t.Errorf("ScaleCount(%d, %v) = %d, want %d", tt.count, tt.factor, got, tt.want)
		}
	}
}

func TestDuplicatePreviews_Capped(t *testing.T) {
	keys := make(map[string][]int)
	for i := 0; i < 15; i++ {
		keys[fmt.Sprintf("name:dup%d", i)] = []int{i + 1, i + 100}
	}
	keys["name:single"] = []int{500}

	got := duplicatePreviews(keys)
	if len(got) != maxDuplicateSamples {
		t.Fatalf("len = %d, want %d", len(got), maxDuplicateSamples)
	}
	for i, d := range got {
		if d.RowNumbers[0] != i+1 {
			t.Errorf("duplicate %d starts at row %d, want ordered by first row", i, d.RowNumbers[0])
		}
	}
}
