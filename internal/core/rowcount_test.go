package core

import (
	"fmt"
	"strings"
	"testing"
)

func TestRowCounter_Exact(t *testing.T) {
	path := writeCSV(t, "name,email\nA,a@x.com\n,\nB,b@x.com\nC,c@x.com\n")

	got, err := NewRowCounter().Count(path)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	// Blank rows are not counted
	if got != (RowCount{Rows: 3, Exact: true}) {
		t.Errorf("Count() = %+v, want 3 exact", got)
	}
}

func TestRowCounter_EmptyFile(t *testing.T) {
	got, err := NewRowCounter().Count(writeCSV(t, ""))
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if got != (RowCount{Rows: 0, Exact: true}) {
		t.Errorf("Count() = %+v, want 0 exact", got)
	}
}

func TestRowCounter_Estimate(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,name\n")
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&b, "%04d,abcdef\n", i) // 12 bytes per row
	}

	counter := RowCounter{ExactThreshold: 1, SampleRows: 10}
	got, err := counter.Count(writeCSV(t, b.String()))
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if got != (RowCount{Rows: 1000, Exact: false}) {
		t.Errorf("Count() = %+v, want 1000 estimated", got)
	}
}

func TestRowCounter_EstimateCoversWholeFile(t *testing.T) {
	counter := RowCounter{ExactThreshold: 1, SampleRows: 100}
	got, err := counter.Count(writeCSV(t, "id\n1\n2\n3\n"))
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if got != (RowCount{Rows: 3, Exact: true}) {
		t.Errorf("Count() = %+v, want 3 exact", got)
	}
}

func TestRowCounter_EstimateAgreesWithExact(t *testing.T) {
	content := "name,notes\nA,x\n\n,\nB,\"line one\nline two\"\nC,z\n"
	path := writeCSV(t, content)

	exact, err := NewRowCounter().Count(path)
	if err != nil {
		t.Fatalf("exact Count() error = %v", err)
	}
	sampled, err := RowCounter{ExactThreshold: 1, SampleRows: 100}.Count(path)
	if err != nil {
		t.Fatalf("sampled Count() error = %v", err)
	}
	if exact != (RowCount{Rows: 3, Exact: true}) {
		t.Errorf("exact Count() = %+v, want 3 exact", exact)
	}
	if sampled != exact {
		t.Errorf("sampled Count() = %+v, want %+v", sampled, exact)
	}
}

func TestRowCounter_EstimateSkipsBlankLines(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,name\n")
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&b, "%04d,abcdef\n", i) // 12 bytes per row
		b.WriteString(",\n")
	}

	counter := RowCounter{ExactThreshold: 1, SampleRows: 10}
	got, err := counter.Count(writeCSV(t, b.String()))
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	// Blank lines add bytes to the sample but never rows
	if got.Exact || got.Rows < 490 || got.Rows > 510 {
		t.Errorf("Count() = %+v, want about 500 estimated", got)
	}
}

func TestRowCounter_HeaderOffset(t *testing.T) {
	content := "Report\n\nid,name\n1,a\n2,b\n"
	tests := []struct {
		name    string
		counter RowCounter
	}{
		{"exact", RowCounter{HeaderOffset: 2}},
		{"estimate", RowCounter{ExactThreshold: 1, HeaderOffset: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.counter.Count(writeCSV(t, content))
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if got.Rows != 2 {
				t.Errorf("Count().Rows = %d, want 2", got.Rows)
			}
		})
	}
}

func TestRowCounter_MissingFile(t *testing.T) {
	if _, err := NewRowCounter().Count("/nonexistent/import.csv"); err == nil {
		t.Error("Count() should fail for a missing file")
	}
}
