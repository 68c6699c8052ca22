package core

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType represents the expected data type for a target field.
type FieldType int

const (
	FieldUnspecified FieldType = iota
	FieldText
	FieldChoice
	FieldMultiChoice
	FieldDate
	FieldDateTime
	FieldFloat
	FieldBool
	FieldID
	FieldEmail
	FieldURL
	FieldPhone
	FieldDomain
)

var fieldTypeNames = map[FieldType]string{
	FieldUnspecified: "unspecified",
	FieldText:        "string",
	FieldChoice:      "choice",
	FieldMultiChoice: "multi_choice",
	FieldDate:        "date",
	FieldDateTime:    "datetime",
	FieldFloat:       "float",
	FieldBool:        "bool",
	FieldID:          "id",
	FieldEmail:       "email",
	FieldURL:         "url",
	FieldPhone:       "phone",
	FieldDomain:      "domain",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the type by name so analysis output stays readable.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (t *FieldType) UnmarshalText(b []byte) error {
	ft, ok := ParseFieldType(string(b))
	if !ok {
		return fmt.Errorf("unknown field type %q", string(b))
	}
	*t = ft
	return nil
}

// ParseFieldType looks up a FieldType by name (case-insensitive).
func ParseFieldType(s string) (FieldType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for ft, name := range fieldTypeNames {
		if name == s {
			return ft, true
		}
	}
	switch s {
	case "text":
		return FieldText, true
	case "enum", "select":
		return FieldChoice, true
	case "numeric", "number", "decimal":
		return FieldFloat, true
	}
	return FieldUnspecified, false
}

// IsDate reports whether the type carries a calendar date.
func (t FieldType) IsDate() bool {
	return t == FieldDate || t == FieldDateTime
}

// FieldSpec describes one target field of an entity.
type FieldSpec struct {
	Name     string    // Target field key: "email", "company_name"
	Label    string    // Display name
	Type     FieldType // FieldUnspecified derives the type from Rules
	Required bool
	Options  []string // Valid values for choice and multi-choice fields
	Rules    []string // Validation rule strings: "email", "date", "numeric", "in:a,b"
	Aliases  []string // Alternative header spellings used for mapping suggestions
}

// EntityKind identifies a business object type being imported.
type EntityKind string

const (
	EntityCompany     EntityKind = "company"
	EntityPerson      EntityKind = "person"
	EntityOpportunity EntityKind = "opportunity"
	EntityTask        EntityKind = "task"
	EntityNote        EntityKind = "note"
)

// MatchBehavior controls what happens when a matcher finds no record.
type MatchBehavior string

const (
	AlwaysCreate   MatchBehavior = "always_create"
	CreateOrUpdate MatchBehavior = "create_or_update"
	UpdateOnly     MatchBehavior = "update_only"
)

// MissAction returns the decision for a row whose value did not match.
func (b MatchBehavior) MissAction() MatchAction {
	if b == UpdateOnly {
		return ActionSkip
	}
	return ActionCreate
}

// MatchableField names an attribute of the target entity used for matching.
type MatchableField struct {
	Field    string        `json:"field"`
	Label    string        `json:"label"`
	Behavior MatchBehavior `json:"behavior"`
}

// EntityLink identifies a foreign entity a column resolves against.
type EntityLink struct {
	Key          string     `json:"key"`          // Link name: "company", "assignee"
	Source       string     `json:"source"`       // Target field holding the name or title
	TargetEntity EntityKind `json:"targetEntity"` // Kind resolved against
	TargetModel  string     `json:"targetModel"`  // Store table of the target kind

	IDSource     string `json:"idSource,omitempty"`     // Field holding the target's id
	EmailSource  string `json:"emailSource,omitempty"`  // Field holding an email of or near the target
	DomainSource string `json:"domainSource,omitempty"` // Field holding the target's domain
}

// IndexKey names one lookup index of the resolver cache.
// Keys other than the built-in ones index Record.Attributes by that name.
type IndexKey string

const (
	IndexID     IndexKey = "id"
	IndexEmail  IndexKey = "email"
	IndexDomain IndexKey = "domain"
	IndexName   IndexKey = "name"
)

// DuplicateStrategy is the user's choice of how matched rows are handled.
type DuplicateStrategy string

const (
	StrategyUpdate    DuplicateStrategy = "update"
	StrategySkip      DuplicateStrategy = "skip"
	StrategyCreateNew DuplicateStrategy = "create_new"
)

// Behavior maps the strategy onto matcher miss behavior.
func (s DuplicateStrategy) Behavior() MatchBehavior {
	switch s {
	case StrategySkip:
		return UpdateOnly
	case StrategyCreateNew:
		return AlwaysCreate
	default:
		return CreateOrUpdate
	}
}

// EntityDefinition contains everything needed to import one entity kind.
type EntityDefinition struct {
	Kind     EntityKind
	Label    string
	Table    string
	Fields   []FieldSpec
	Matchers []MatchableField // Evaluated in order; the id matcher comes first
	Indexes  []IndexKey       // Cache shape built by the resolver
	Links    []EntityLink
}

// Field returns the spec for a target field.
func (d EntityDefinition) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Matcher returns the matcher for a target field.
func (d EntityDefinition) Matcher(field string) (MatchableField, bool) {
	for _, m := range d.Matchers {
		if m.Field == field {
			return m, true
		}
	}
	return MatchableField{}, false
}

// HasIndex reports whether the cache shape includes key.
func (d EntityDefinition) HasIndex(key IndexKey) bool {
	for _, k := range d.Indexes {
		if k == key {
			return true
		}
	}
	return false
}

// ColumnMap maps target field names to CSV column names.
// A blank column means the field is not mapped.
type ColumnMap map[string]string

// Column returns the mapped CSV column for field, or "".
func (m ColumnMap) Column(field string) string {
	return strings.TrimSpace(m[field])
}

// Fields returns the mapped target fields in sorted order.
func (m ColumnMap) Fields() []string {
	fields := make([]string, 0, len(m))
	for f := range m {
		if m.Column(f) != "" {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	return fields
}
