package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/resolver/internal/core"
)

// testEnv points configuration at a temporary SQLite database.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(dir, "resolver.db"))
	t.Setenv("DB_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("IMPORT_UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(dir, "missing.env")}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const seedYAML = `entity: company
tenant: t1
records:
  - id: 01HZX000000000000000000001
    name: Acme
    domains: [acme.com]
`

const companiesCSV = "Company,Website\nAcme,acme.com\nGlobex,globex.com\nInitech,initech.com\n"

func TestImportWorkflow(t *testing.T) {
	dir := testEnv(t)
	csvPath := writeFile(t, dir, "companies.csv", companiesCSV)

	out, err := run(t, dir, "seed", writeFile(t, dir, "seed.yaml", seedYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 1 company records for tenant t1")

	out, err = run(t, dir, "detect", csvPath)
	require.NoError(t, err)
	var info core.FileInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "comma", info.Delimiter)
	assert.Equal(t, 3, info.RowCount.Rows)

	out, err = run(t, dir, "suggest", csvPath, "--entity", "company")
	require.NoError(t, err)
	var mapping mappingFile
	require.NoError(t, yaml.Unmarshal([]byte(out), &mapping))
	assert.Equal(t, core.EntityCompany, mapping.Entity)
	assert.Equal(t, "Website", mapping.Columns["domain"])
	mappingPath := writeFile(t, dir, "mapping.yaml", out)

	out, err = run(t, dir, "preview", csvPath, "--mapping", mappingPath, "--tenant", "t1")
	require.NoError(t, err)
	var preview core.PreviewResult
	require.NoError(t, json.Unmarshal([]byte(out), &preview))
	assert.Equal(t, 1, preview.UpdateCount)
	assert.Equal(t, 2, preview.CreateCount)

	out, err = run(t, dir, "import", csvPath, "--mapping", mappingPath, "--tenant", "t1", "--chunk", "2")
	require.NoError(t, err)
	var result importOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 3, result.Staged)
	assert.Equal(t, 2, result.Chunks)
	assert.Equal(t, 1, result.Summary.Updated)
	assert.Equal(t, 2, result.Summary.Created)

	out, err = run(t, dir, "rows", "--tenant", "t1", "--import", result.ImportID, "--limit", "0")
	require.NoError(t, err)
	var rows []core.StagedRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, core.ActionUpdate, rows[0].MatchAction)
	assert.Equal(t, "01HZX000000000000000000001", rows[0].MatchedID)

	// A skip strategy turns the creates into skips
	skipPath := writeFile(t, dir, "skip.yaml", "entity: company\ncolumns:\n  name: Company\n  domain: Website\noptions:\n  duplicateStrategy: skip\n")
	out, err = run(t, dir, "resolve", "--import", result.ImportID, "--mapping", skipPath, "--tenant", "t1")
	require.NoError(t, err)
	var summary core.ResolveSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 2, summary.Skipped)

	out, err = run(t, dir, "delete", "--tenant", "t1", "--import", result.ImportID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted import")

	_, err = run(t, dir, "rows", "--tenant", "t1", "--import", result.ImportID)
	assert.ErrorIs(t, err, core.ErrImportNotFound)
}

func TestRows_OtherTenant(t *testing.T) {
	dir := testEnv(t)
	csvPath := writeFile(t, dir, "companies.csv", companiesCSV)
	mappingPath := writeFile(t, dir, "mapping.yaml", "entity: company\ncolumns:\n  name: Company\n  domain: Website\n")

	out, err := run(t, dir, "import", csvPath, "--mapping", mappingPath, "--tenant", "t1")
	require.NoError(t, err)
	var result importOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))

	_, err = run(t, dir, "rows", "--tenant", "t2", "--import", result.ImportID)
	assert.ErrorIs(t, err, core.ErrImportNotFound)
	_, err = run(t, dir, "delete", "--tenant", "t2", "--import", result.ImportID)
	assert.ErrorIs(t, err, core.ErrImportNotFound)
}

func TestImport_RejectsZeroChunk(t *testing.T) {
	dir := testEnv(t)
	csvPath := writeFile(t, dir, "companies.csv", companiesCSV)
	mappingPath := writeFile(t, dir, "mapping.yaml", "entity: company\ncolumns:\n  name: Company\n")

	_, err := run(t, dir, "import", csvPath, "--mapping", mappingPath, "--tenant", "t1", "--chunk", "0")
	assert.ErrorContains(t, err, "--chunk must be positive")
}

func TestReadMapping(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"valid", "entity: company\ncolumns:\n  name: Company\n", ""},
		{"missing entity", "columns:\n  name: Company\n", "entity is required"},
		{"missing columns", "entity: company\n", "columns are required"},
		{"unknown entity", "entity: widget\ncolumns:\n  name: Company\n", "unknown entity"},
		{"not yaml", "entity: [\n", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := readMapping(writeFile(t, dir, "m.yaml", tt.content))
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "Company", m.Columns["name"])
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestReadSeed_InvalidID(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "seed.yaml", "entity: company\ntenant: t1\nrecords:\n  - id: nope\n    name: Acme\n")

	_, err := readSeed(path)
	assert.ErrorContains(t, err, `invalid id "nope"`)
}
