package core

// validation.go validates individual values against a target field.
//
// Validation happens at two levels:
//  1. Value validation: ValidateValue checks one raw or corrected value against
//     its FieldSpec (type, format, choice set). It is pure: option sets and
//     date formats are supplied by the caller.
//  2. Row validation: RowValidator applies ValidateValue to every mapped field
//     of a row and collects all errors for the preview UI.

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Severity of a value issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// IssueType distinguishes unparseable values from ambiguous ones.
type IssueType string

const (
	IssueInvalid   IssueType = "invalid"
	IssueAmbiguous IssueType = "ambiguous"
)

// ValueIssue describes one distinct offending value of a column.
// RowCount is the number of rows sharing the value.
type ValueIssue struct {
	Value     string    `json:"value"`
	Message   string    `json:"message"`
	RowCount  int       `json:"rowCount"`
	Severity  Severity  `json:"severity"`
	IssueType IssueType `json:"issueType,omitempty"`
}

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string `json:"field"`           // Target field name
	Value   string `json:"value,omitempty"` // The invalid value
	Message string `json:"message"`         // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidateOptions carries the caller-supplied context for ValidateValue.
type ValidateOptions struct {
	DateFormat       DateFormat // Layout for date fields; ISO when empty
	DecimalSeparator string     // "." or ","; "." when empty
	Required         bool       // Overrides FieldSpec.Required when true
}

// ulidPattern is the store's canonical identifier: 26 Crockford base32 characters.
var ulidPattern = regexp.MustCompile(`^[0-7][0-9A-HJKMNP-TV-Z]{25}$`)

// ExampleID is shown in identifier format errors.
const ExampleID = "01ARZ3NDEKTSV4RRFFQ69G5FAV"

// IsValidID reports whether s has the canonical identifier syntax.
func IsValidID(s string) bool {
	return ulidPattern.MatchString(NormalizeID(s))
}

// ValidateValue validates a single value against spec. Blank values are
// valid unless the field is required. Returns nil if valid.
func ValidateValue(value string, spec FieldSpec, opts ValidateOptions) error {
	value = strings.TrimSpace(value)
	if value == "" {
		if spec.Required || opts.Required {
			return fmt.Errorf("required field is empty")
		}
		return nil
	}

	typ := ResolveFieldType(spec)

	switch typ {
	case FieldDate, FieldDateTime:
		format := opts.DateFormat
		if format == "" {
			format = DateISO
		}
		if _, err := ParseDate(value, format, typ == FieldDateTime); err != nil {
			return fmt.Errorf("invalid date, expected %s", format.Pattern(typ == FieldDateTime))
		}

	case FieldFloat:
		if _, err := ParseDecimal(value, opts.DecimalSeparator); err != nil {
			return err
		}

	case FieldChoice:
		options := fieldOptions(spec)
		if len(options) > 0 && !containsExact(options, value) {
			return fmt.Errorf("value must be one of: %s", strings.Join(options, ", "))
		}

	case FieldMultiChoice:
		options := fieldOptions(spec)
		if len(options) == 0 {
			return nil
		}
		for _, item := range strings.Split(value, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if !containsExact(options, item) {
				return fmt.Errorf("%q is not a valid option, valid options: %s", item, strings.Join(options, ", "))
			}
		}

	case FieldID:
		if !IsValidID(value) {
			return fmt.Errorf("invalid id, expected a 26-character ULID such as %s", ExampleID)
		}

	case FieldEmail:
		if !IsEmail(value) {
			return fmt.Errorf("invalid email address")
		}

	case FieldURL:
		if !IsURL(value) && !IsDomain(value) {
			return fmt.Errorf("invalid url")
		}

	case FieldPhone:
		if !IsPhone(value) {
			return fmt.Errorf("invalid phone number")
		}

	case FieldDomain:
		if !IsDomain(NormalizeDomain(value)) {
			return fmt.Errorf("invalid domain")
		}

	case FieldBool:
		if _, ok := ParseBool(value); !ok {
			return fmt.Errorf("must be yes/no, true/false, or 1/0")
		}
	}

	return nil
}

// ParseDecimal parses value under the given decimal separator convention.
// With "," the period is a grouping character; with "." the comma is.
// Grouping is only accepted in groups of three digits before the decimal
// mark, so "1.234,56" fails under "." instead of reading as 1.23456.
func ParseDecimal(value, separator string) (decimal.Decimal, error) {
	mark, group := ".", ","
	formatErr := fmt.Errorf("invalid number, expected format such as 1,234.56")
	if separator == "," {
		mark, group = ",", "."
		formatErr = fmt.Errorf("invalid number, expected decimal comma format such as 1.234,56")
	}

	s := strings.ReplaceAll(strings.TrimSpace(value), " ", "")
	if strings.Count(s, mark) > 1 {
		return decimal.Decimal{}, formatErr
	}
	whole, frac, hasFrac := strings.Cut(s, mark)
	if strings.Contains(frac, group) {
		return decimal.Decimal{}, formatErr
	}
	if strings.Contains(whole, group) {
		digits, ok := ungroup(whole, group)
		if !ok {
			return decimal.Decimal{}, formatErr
		}
		whole = digits
	}
	if hasFrac {
		s = whole + "." + frac
	} else {
		s = whole
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, formatErr
	}
	return d, nil
}

// ungroup removes group separators from an integer part such as "-12,345".
// The leading group holds one to three digits and every later group three.
func ungroup(whole, group string) (string, bool) {
	sign := ""
	if strings.HasPrefix(whole, "-") || strings.HasPrefix(whole, "+") {
		sign, whole = whole[:1], whole[1:]
	}
	parts := strings.Split(whole, group)
	for i, p := range parts {
		if !isDigits(p) {
			return "", false
		}
		if i == 0 && len(p) > 3 {
			return "", false
		}
		if i > 0 && len(p) != 3 {
			return "", false
		}
	}
	return sign + strings.Join(parts, ""), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseBool parses a boolean value.
// Accepts: true/false, yes/no, y/n, 1/0 (case-insensitive).
func ParseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true, true
	case "false", "no", "n", "0":
		return false, true
	}
	return false, false
}

// ResolveFieldType derives the effective type of a field: explicit metadata
// first, then hints from validation rule strings, else string.
func ResolveFieldType(spec FieldSpec) FieldType {
	if spec.Type != FieldUnspecified {
		return spec.Type
	}
	for _, rule := range spec.Rules {
		name, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(rule)), ":")
		switch name {
		case "date", "date_format", "before", "after":
			return FieldDate
		case "datetime":
			return FieldDateTime
		case "numeric", "decimal", "integer", "float":
			return FieldFloat
		case "boolean", "bool":
			return FieldBool
		case "email":
			return FieldEmail
		case "url", "active_url":
			return FieldURL
		case "phone":
			return FieldPhone
		case "domain":
			return FieldDomain
		case "ulid", "id":
			return FieldID
		case "in":
			return FieldChoice
		}
	}
	return FieldText
}

// fieldOptions returns the explicit options, else those of an "in:" rule.
func fieldOptions(spec FieldSpec) []string {
	if len(spec.Options) > 0 {
		return spec.Options
	}
	for _, rule := range spec.Rules {
		name, args, ok := strings.Cut(strings.TrimSpace(rule), ":")
		if !ok || !strings.EqualFold(name, "in") {
			continue
		}
		var options []string
		for _, o := range strings.Split(args, ",") {
			if o = strings.TrimSpace(o); o != "" {
				options = append(options, o)
			}
		}
		return options
	}
	return nil
}

func containsExact(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}

// ValidationResult contains the result of validating a row.
type ValidationResult struct {
	Valid  bool              // True if all validations passed
	Errors []ValidationError // List of validation errors (empty if Valid)
}

// RowValidator validates mapped rows against an entity's field specifications.
type RowValidator struct {
	specs            []FieldSpec
	dateFormats      map[string]DateFormat
	decimalSeparator string
}

// NewRowValidator creates a validator for the mapped fields of def.
// dateFormats carries the selected format per date field.
func NewRowValidator(def EntityDefinition, columns ColumnMap, dateFormats map[string]DateFormat, decimalSeparator string) *RowValidator {
	var specs []FieldSpec
	for _, f := range def.Fields {
		if columns.Column(f.Name) != "" {
			specs = append(specs, f)
		}
	}
	return &RowValidator{
		specs:            specs,
		dateFormats:      dateFormats,
		decimalSeparator: decimalSeparator,
	}
}

// ValidateRow validates values keyed by target field and returns all errors.
func (v *RowValidator) ValidateRow(values map[string]string) ValidationResult {
	result := ValidationResult{Valid: true}

	for _, spec := range v.specs {
		value := values[spec.Name]
		opts := ValidateOptions{
			DateFormat:       v.dateFormats[spec.Name],
			DecimalSeparator: v.decimalSeparator,
		}
		if err := ValidateValue(value, spec, opts); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   spec.Name,
				Value:   value,
				Message: err.Error(),
			})
		}
	}

	return result
}

// ValidateMapping checks that every required field is mapped and that every
// mapped column exists in the header. The error lists all problems.
func ValidateMapping(def EntityDefinition, columns ColumnMap, header []string) error {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}

	var problems []string
	for _, f := range def.Fields {
		col := columns.Column(f.Name)
		if col == "" {
			if f.Required {
				problems = append(problems, fmt.Sprintf("required field %q is not mapped", f.Name))
			}
			continue
		}
		if !present[col] {
			problems = append(problems, fmt.Sprintf("field %q is mapped to missing column %q", f.Name, col))
		}
	}

	for _, field := range columns.Fields() {
		if _, ok := def.Field(field); !ok {
			problems = append(problems, fmt.Sprintf("unknown field %q", field))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid column mapping: %s", strings.Join(problems, "; "))
	}
	return nil
}
