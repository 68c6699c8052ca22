package core

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"
)

// RowReader yields data rows keyed by CSV column name. CSVFile implements it.
type RowReader interface {
	Next() (rowNumber int, values map[string]string, err error)
}

// ValueCount is one entry of a column's frequency table.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ColumnAnalysis holds statistics and issues for one mapped column.
// It is built once per analysis run and never mutated afterwards.
type ColumnAnalysis struct {
	CSVColumnName string         `json:"csvColumnName"`
	MappedToField string         `json:"mappedToField"`
	FieldType     FieldType      `json:"fieldType"`
	TotalValues   int            `json:"totalValues"`
	UniqueCount   int            `json:"uniqueCount"`
	BlankCount    int            `json:"blankCount"`
	UniqueValues  map[string]int `json:"uniqueValues"`
	Frequencies   []ValueCount   `json:"frequencies"` // Descending count, natural value order on ties
	Issues        []ValueIssue   `json:"issues"`
	IsRequired    bool           `json:"isRequired"`

	DetectedDateFormat   *DateFormat       `json:"detectedDateFormat,omitempty"`
	SelectedDateFormat   *DateFormat       `json:"selectedDateFormat,omitempty"`
	DateFormatConfidence *float64          `json:"dateFormatConfidence,omitempty"`
	DateDetection        *DateFormatResult `json:"dateDetection,omitempty"`
}

// ErrorCount returns the number of rows with error-severity issues.
func (c ColumnAnalysis) ErrorCount() int {
	n := 0
	for _, issue := range c.Issues {
		if issue.Severity == SeverityError {
			n += issue.RowCount
		}
	}
	return n
}

// HasErrors reports whether any issue has error severity.
func (c ColumnAnalysis) HasErrors() bool {
	for _, issue := range c.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// AnalyzeOptions configures a ColumnAnalyzer.
type AnalyzeOptions struct {
	DateFormats      map[string]DateFormat // User-selected format per target field
	DecimalSeparator string
}

// ColumnAnalyzer builds per-column statistics for the mapped fields of an entity.
type ColumnAnalyzer struct {
	def     EntityDefinition
	columns ColumnMap
	opts    AnalyzeOptions
}

// NewColumnAnalyzer creates an analyzer for def under the given column map.
// Mapped fields unknown to def are ignored.
func NewColumnAnalyzer(def EntityDefinition, columns ColumnMap, opts AnalyzeOptions) *ColumnAnalyzer {
	return &ColumnAnalyzer{def: def, columns: columns, opts: opts}
}

// columnStats accumulates one column during the row pass.
type columnStats struct {
	field  FieldSpec
	column string
	total  int
	blank  int
	counts map[string]int
}

// Analyze reads every row from r once and returns one analysis per mapped
// column, ordered by target field name.
func (a *ColumnAnalyzer) Analyze(r RowReader) ([]ColumnAnalysis, error) {
	var stats []*columnStats
	for _, field := range a.columns.Fields() {
		spec, ok := a.def.Field(field)
		if !ok {
			continue
		}
		stats = append(stats, &columnStats{
			field:  spec,
			column: a.columns.Column(field),
			counts: make(map[string]int),
		})
	}

	for {
		_, values, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("analyze columns: %w", err)
		}
		for _, s := range stats {
			s.total++
			v := strings.TrimSpace(values[s.column])
			if v == "" {
				s.blank++
				continue
			}
			s.counts[v]++
		}
	}

	result := make([]ColumnAnalysis, 0, len(stats))
	for _, s := range stats {
		result = append(result, a.finish(s))
	}
	return result, nil
}

// AnalyzeRows is Analyze over an in-memory row slice.
func (a *ColumnAnalyzer) AnalyzeRows(rows []map[string]string) ([]ColumnAnalysis, error) {
	return a.Analyze(&sliceReader{rows: rows})
}

func (a *ColumnAnalyzer) finish(s *columnStats) ColumnAnalysis {
	typ := ResolveFieldType(s.field)
	ca := ColumnAnalysis{
		CSVColumnName: s.column,
		MappedToField: s.field.Name,
		FieldType:     typ,
		TotalValues:   s.total,
		UniqueCount:   len(s.counts),
		BlankCount:    s.blank,
		UniqueValues:  s.counts,
		Frequencies:   sortedFrequencies(s.counts),
		Issues:        []ValueIssue{},
		IsRequired:    s.field.Required,
	}

	if ca.IsRequired && s.blank > 0 {
		ca.Issues = append(ca.Issues, ValueIssue{
			Value:     "",
			Message:   fmt.Sprintf("required field has %d blank rows", s.blank),
			RowCount:  s.blank,
			Severity:  SeverityError,
			IssueType: IssueInvalid,
		})
	}

	if typ.IsDate() {
		a.dateIssues(&ca, typ)
		return ca
	}

	opts := ValidateOptions{DecimalSeparator: a.opts.DecimalSeparator}
	for _, vc := range ca.Frequencies {
		if err := ValidateValue(vc.Value, s.field, opts); err != nil {
			ca.Issues = append(ca.Issues, ValueIssue{
				Value:     vc.Value,
				Message:   err.Error(),
				RowCount:  vc.Count,
				Severity:  SeverityError,
				IssueType: IssueInvalid,
			})
		}
	}
	return ca
}

// dateIssues detects the column's date format over its distinct values and
// reports values that fail under the effective format. While the format is
// unconfirmed, ambiguous values are warnings rather than parse errors.
func (a *ColumnAnalyzer) dateIssues(ca *ColumnAnalysis, typ FieldType) {
	distinct := make([]string, len(ca.Frequencies))
	for i, vc := range ca.Frequencies {
		distinct[i] = vc.Value
	}

	detection := DetectDateFormat(distinct)
	detected := detection.DetectedFormat
	confidence := detection.Confidence
	ca.DetectedDateFormat = &detected
	ca.DateFormatConfidence = &confidence
	ca.DateDetection = &detection

	format := detected
	selected, userSelected := a.opts.DateFormats[ca.MappedToField]
	if userSelected && selected != "" {
		format = selected
		ca.SelectedDateFormat = &selected
	} else {
		userSelected = false
	}

	withTime := typ == FieldDateTime
	for _, vc := range ca.Frequencies {
		if !userSelected && detection.NeedsConfirmation() && IsAmbiguousDate(vc.Value) {
			ca.Issues = append(ca.Issues, ValueIssue{
				Value:     vc.Value,
				Message:   fmt.Sprintf("ambiguous date: could be %s or %s", DateEuropean.Pattern(false), DateAmerican.Pattern(false)),
				RowCount:  vc.Count,
				Severity:  SeverityWarning,
				IssueType: IssueAmbiguous,
			})
			continue
		}
		if _, err := ParseDate(vc.Value, format, withTime); err != nil {
			ca.Issues = append(ca.Issues, ValueIssue{
				Value:     vc.Value,
				Message:   fmt.Sprintf("invalid date, expected %s", format.Pattern(withTime)),
				RowCount:  vc.Count,
				Severity:  SeverityError,
				IssueType: IssueInvalid,
			})
		}
	}
}

// sortedFrequencies orders values by descending count, ties by natural order.
func sortedFrequencies(counts map[string]int) []ValueCount {
	out := make([]ValueCount, 0, len(counts))
	for v, n := range counts {
		out = append(out, ValueCount{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return naturalLess(out[i].Value, out[j].Value)
	})
	return out
}

// naturalLess compares strings with embedded digit runs by numeric value,
// so "item2" sorts before "item10".
func naturalLess(a, b string) bool {
	ar, br := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ar) && j < len(br) {
		if unicode.IsDigit(ar[i]) && unicode.IsDigit(br[j]) {
			si := i
			for i < len(ar) && unicode.IsDigit(ar[i]) {
				i++
			}
			sj := j
			for j < len(br) && unicode.IsDigit(br[j]) {
				j++
			}
			na := strings.TrimLeft(string(ar[si:i]), "0")
			nb := strings.TrimLeft(string(br[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}
		if ar[i] != br[j] {
			return ar[i] < br[j]
		}
		i++
		j++
	}
	if len(ar)-i != len(br)-j {
		return len(ar)-i < len(br)-j
	}
	return a < b
}

// sliceReader adapts an in-memory row slice to RowReader.
type sliceReader struct {
	rows []map[string]string
	pos  int
}

func (s *sliceReader) Next() (int, map[string]string, error) {
	if s.pos >= len(s.rows) {
		return 0, nil, io.EOF
	}
	s.pos++
	return s.pos, s.rows[s.pos-1], nil
}

// Corrections maps a CSV column to raw values and their replacements.
type Corrections map[string]map[string]string

// Apply returns values with corrections overlaid. values is not modified.
func (c Corrections) Apply(values map[string]string) map[string]string {
	if len(c) == 0 {
		return values
	}
	out := make(map[string]string, len(values))
	for col, v := range values {
		if fixes, ok := c[col]; ok {
			if fixed, ok := fixes[v]; ok {
				v = fixed
			}
		}
		out[col] = v
	}
	return out
}

// CorrectedReader overlays corrections on every row of an underlying reader.
type CorrectedReader struct {
	RowReader
	Corrections Corrections
}

// Next returns the next row with corrections applied.
func (r CorrectedReader) Next() (int, map[string]string, error) {
	n, values, err := r.RowReader.Next()
	if err != nil {
		return n, values, err
	}
	return n, r.Corrections.Apply(values), nil
}
