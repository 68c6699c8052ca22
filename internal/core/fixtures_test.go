package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// testID returns a valid identifier; higher n sorts later.
func testID(n int) string {
	return fmt.Sprintf("01HZX0000000000000000000%02d", n)
}

// fakeSource serves fixed records and counts bulk loads per kind.
type fakeSource struct {
	records map[EntityKind][]Record
	calls   map[EntityKind]int
	err     error
	leaky   bool // Return every tenant's records
}

func newFakeSource() *fakeSource {
	return &fakeSource{records: make(map[EntityKind][]Record), calls: make(map[EntityKind]int)}
}

func (f *fakeSource) add(kind EntityKind, records ...Record) *fakeSource {
	f.records[kind] = append(f.records[kind], records...)
	return f
}

func (f *fakeSource) LoadRecords(_ context.Context, tenantID string, def EntityDefinition) ([]Record, error) {
	f.calls[def.Kind]++
	if f.err != nil {
		return nil, f.err
	}
	var out []Record
	for _, r := range f.records[def.Kind] {
		if f.leaky || r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) totalCalls() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

var (
	testCompanyDef = EntityDefinition{
		Kind:  EntityCompany,
		Label: "Companies",
		Fields: []FieldSpec{
			{Name: "id", Type: FieldID},
			{Name: "name", Label: "Name", Required: true, Aliases: []string{"company name"}},
			{Name: "domain", Label: "Domain", Type: FieldDomain, Aliases: []string{"website"}},
			{Name: "industry", Label: "Industry", Type: FieldChoice, Options: []string{"Software", "Finance"}},
			{Name: "founded_on", Label: "Founded", Rules: []string{"date"}},
		},
		Matchers: []MatchableField{
			{Field: "id", Behavior: UpdateOnly},
			{Field: "domain", Behavior: CreateOrUpdate},
			{Field: "name", Behavior: CreateOrUpdate},
		},
		Indexes: []IndexKey{IndexID, IndexDomain, IndexName},
	}

	testPersonDef = EntityDefinition{
		Kind:  EntityPerson,
		Label: "People",
		Fields: []FieldSpec{
			{Name: "id", Type: FieldID},
			{Name: "name", Label: "Name", Required: true, Aliases: []string{"full name"}},
			{Name: "email", Label: "Email", Type: FieldEmail, Aliases: []string{"email address"}},
			{Name: "phone", Label: "Phone", Type: FieldPhone, Aliases: []string{"phone number"}},
			{Name: "job_title", Label: "Job title"},
			{Name: "birthday", Label: "Birthday", Type: FieldDate},
			{Name: "company", Label: "Company"},
			{Name: "company_id", Type: FieldID},
			{Name: "company_domain", Type: FieldDomain},
		},
		Matchers: []MatchableField{
			{Field: "id", Behavior: UpdateOnly},
			{Field: "email", Behavior: CreateOrUpdate},
			{Field: "name", Behavior: CreateOrUpdate},
		},
		Indexes: []IndexKey{IndexID, IndexEmail, IndexName},
		Links: []EntityLink{{
			Key:          "company",
			Source:       "company",
			TargetEntity: EntityCompany,
			IDSource:     "company_id",
			EmailSource:  "email",
			DomainSource: "company_domain",
		}},
	}

	testNoteDef = EntityDefinition{
		Kind: EntityNote,
		Fields: []FieldSpec{
			{Name: "id", Type: FieldID},
			{Name: "title"},
			{Name: "body", Required: true},
		},
		Matchers: []MatchableField{
			{Field: "id", Behavior: UpdateOnly},
			{Field: "title", Behavior: AlwaysCreate},
		},
		Indexes: []IndexKey{IndexID},
	}
)

// setupEntities replaces the registry with the test kinds for one test.
func setupEntities(t *testing.T) {
	t.Helper()
	Clear()
	Register(testCompanyDef)
	Register(testPersonDef)
	Register(testNoteDef)
	t.Cleanup(Clear)
}

// writeCSV writes content to a temporary file and returns its path.
func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}
