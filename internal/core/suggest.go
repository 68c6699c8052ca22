package core

import (
	"sort"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Suggestion scores by how the header was recognised.
const (
	scoreExact    = 1.0
	scoreAlias    = 0.9
	scoreInferred = 0.6
	scoreFuzzyMax = 0.8
	scoreFuzzyMin = 0.4
)

// MappingSuggestion proposes a CSV column for a target field.
type MappingSuggestion struct {
	Field  string  `json:"field"`
	Column string  `json:"column"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"` // exact, alias, fuzzy, inferred
}

// SuggestMapping proposes a column map for def from the file header.
// samples holds a few values per column and lets inferred types (email,
// phone, url, domain) break ties. Every field and column is used at most once.
func SuggestMapping(def EntityDefinition, header []string, samples map[string][]string) (ColumnMap, []MappingSuggestion) {
	var candidates []MappingSuggestion

	inferred := make(map[string]TypeInference, len(header))
	for _, h := range header {
		inferred[h] = InferType(samples[h])
	}

	for _, f := range def.Fields {
		for _, h := range header {
			if c, ok := scoreHeader(f, h, inferred[h]); ok {
				candidates = append(candidates, c)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	usedField := make(map[string]bool)
	usedColumn := make(map[string]bool)
	columns := make(ColumnMap)
	var chosen []MappingSuggestion
	for _, c := range candidates {
		if usedField[c.Field] || usedColumn[c.Column] {
			continue
		}
		usedField[c.Field] = true
		usedColumn[c.Column] = true
		columns[c.Field] = c.Column
		chosen = append(chosen, c)
	}

	sort.Slice(chosen, func(i, j int) bool { return chosen[i].Field < chosen[j].Field })
	return columns, chosen
}

func scoreHeader(f FieldSpec, header string, inf TypeInference) (MappingSuggestion, bool) {
	h := normalizeHeaderKey(header)
	if h == "" {
		return MappingSuggestion{}, false
	}
	s := MappingSuggestion{Field: f.Name, Column: header}

	if h == normalizeHeaderKey(f.Name) || (f.Label != "" && h == normalizeHeaderKey(f.Label)) {
		s.Score, s.Reason = scoreExact, "exact"
		return s, true
	}
	for _, a := range f.Aliases {
		if h == normalizeHeaderKey(a) {
			s.Score, s.Reason = scoreAlias, "alias"
			return s, true
		}
	}

	best := -1
	for _, name := range []string{f.Name, f.Label} {
		pattern := strings.ReplaceAll(name, "_", " ")
		if pattern == "" {
			continue
		}
		if d := fuzzy.RankMatchNormalizedFold(pattern, header); d >= 0 && (best < 0 || d < best) {
			best = d
		}
	}
	if best >= 0 {
		// Fewer extra characters in the header means a closer match
		closeness := 1 - float64(best)/float64(len(header)+1)
		s.Score = scoreFuzzyMin + (scoreFuzzyMax-scoreFuzzyMin)*closeness
		s.Reason = "fuzzy"
		return s, true
	}

	for _, name := range inf.SuggestedFields {
		if name == f.Name {
			s.Score, s.Reason = scoreInferred*inf.Confidence, "inferred"
			return s, true
		}
	}
	return MappingSuggestion{}, false
}

// normalizeHeaderKey lower-cases and drops everything but letters and digits,
// so "E-mail Address" and "email_address" compare equal.
func normalizeHeaderKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
