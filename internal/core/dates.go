package core

// dates.go disambiguates date layouts from the literal shapes of values.
//
// A column of dates can only be ISO (YYYY-MM-DD), European (DD/MM/YYYY) or
// American (MM/DD/YYYY). Slash and dash triplets are classified by which slot
// holds a number greater than 12: such a value can only be a day. Values
// where both leading slots are <= 12 carry no evidence either way.
// No locale data is consulted.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateFormat is one of the supported date layouts.
type DateFormat string

const (
	DateISO      DateFormat = "ISO"
	DateEuropean DateFormat = "EUROPEAN"
	DateAmerican DateFormat = "AMERICAN"
)

// ParseDateFormat accepts the format names case-insensitively.
func ParseDateFormat(s string) (DateFormat, bool) {
	switch DateFormat(strings.ToUpper(strings.TrimSpace(s))) {
	case DateISO:
		return DateISO, true
	case DateEuropean:
		return DateEuropean, true
	case DateAmerican:
		return DateAmerican, true
	}
	return "", false
}

// Pattern returns the human-readable layout for error messages.
func (f DateFormat) Pattern(withTime bool) string {
	var p string
	switch f {
	case DateEuropean:
		p = "DD/MM/YYYY"
	case DateAmerican:
		p = "MM/DD/YYYY"
	default:
		p = "YYYY-MM-DD"
	}
	if withTime {
		p += " HH:MM[:SS]"
	}
	return p
}

// Confidence levels of DetectDateFormat.
const (
	dateConfidenceCertain    = 1.0
	dateConfidenceBase       = 0.7
	dateConfidenceSpan       = 0.25
	dateConfidenceCap        = 0.95
	dateConfidenceConflict   = 0.2
	dateConfidenceAmbiguous  = 0.3
	DateConfirmationRequired = 0.7 // Below this the user must confirm the format
)

// DateFormatResult summarizes the evidence found in a column of dates.
type DateFormatResult struct {
	DetectedFormat    DateFormat `json:"detectedFormat"`
	Confidence        float64    `json:"confidence"`
	ISOCount          int        `json:"isoCount"`
	EuropeanOnlyCount int        `json:"europeanOnlyCount"`
	AmericanOnlyCount int        `json:"americanOnlyCount"`
	AmbiguousCount    int        `json:"ambiguousCount"`
	InvalidCount      int        `json:"invalidCount"`
	TotalAnalyzed     int        `json:"totalAnalyzed"`
}

// NeedsConfirmation reports whether the detected format is too uncertain to apply silently.
func (r DateFormatResult) NeedsConfirmation() bool {
	return r.Confidence < DateConfirmationRequired
}

// dateShape is the classification of a single value.
type dateShape int

const (
	shapeInvalid dateShape = iota
	shapeISO
	shapeEuropeanOnly
	shapeAmericanOnly
	shapeAmbiguous
)

var (
	isoDatePattern = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:[T ](\d{1,2}):(\d{2})(?::(\d{2})(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?$`)
	tripletPattern = regexp.MustCompile(`^(\d{1,2})([/-])(\d{1,2})([/-])(\d{2}|\d{4})(?:[ T](\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
)

// classifyDate assigns a value to one evidence bucket using only its shape.
func classifyDate(value string) dateShape {
	value = strings.TrimSpace(value)

	if m := isoDatePattern.FindStringSubmatch(value); m != nil {
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			return shapeISO
		}
		return shapeInvalid
	}

	m := tripletPattern.FindStringSubmatch(value)
	if m == nil || m[2] != m[4] {
		return shapeInvalid
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[3])
	if a < 1 || b < 1 || a > 31 || b > 31 {
		return shapeInvalid
	}

	switch {
	case a > 12 && b <= 12:
		return shapeEuropeanOnly
	case a <= 12 && b > 12:
		return shapeAmericanOnly
	case a <= 12 && b <= 12:
		return shapeAmbiguous
	default:
		return shapeInvalid
	}
}

// DetectDateFormat classifies every non-blank value and derives the most
// likely layout with a confidence score. It is a pure function of the
// literal values.
func DetectDateFormat(values []string) DateFormatResult {
	var r DateFormatResult

	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		r.TotalAnalyzed++
		switch classifyDate(v) {
		case shapeISO:
			r.ISOCount++
		case shapeEuropeanOnly:
			r.EuropeanOnlyCount++
		case shapeAmericanOnly:
			r.AmericanOnlyCount++
		case shapeAmbiguous:
			r.AmbiguousCount++
		default:
			r.InvalidCount++
		}
	}

	eu, us, amb := r.EuropeanOnlyCount, r.AmericanOnlyCount, r.AmbiguousCount

	switch {
	case eu > 0 && us > 0:
		// Conflicting evidence; the caller must ask the user.
		r.Confidence = dateConfidenceConflict
		if eu >= us {
			r.DetectedFormat = DateEuropean
		} else {
			r.DetectedFormat = DateAmerican
		}
	case eu > 0:
		r.DetectedFormat = DateEuropean
		r.Confidence = scaledConfidence(eu, amb)
	case us > 0:
		r.DetectedFormat = DateAmerican
		r.Confidence = scaledConfidence(us, amb)
	case r.ISOCount > 0 && amb == 0:
		r.DetectedFormat = DateISO
		r.Confidence = dateConfidenceCertain
	case r.ISOCount > 0:
		r.DetectedFormat = DateISO
		r.Confidence = scaledConfidence(r.ISOCount, amb)
	case amb > 0:
		// No decisive evidence: ISO is the documented default, not a guess.
		r.DetectedFormat = DateISO
		r.Confidence = dateConfidenceAmbiguous
	default:
		r.DetectedFormat = DateISO
		r.Confidence = 0
	}

	return r
}

// scaledConfidence grows with the share of decisive values among all
// slash/dash evidence.
func scaledConfidence(decisive, ambiguous int) float64 {
	ratio := float64(decisive) / float64(decisive+ambiguous)
	c := dateConfidenceBase + dateConfidenceSpan*ratio
	if c > dateConfidenceCap {
		c = dateConfidenceCap
	}
	return c
}

// IsAmbiguousDate reports whether value reads as a valid date under both
// the European and American layouts.
func IsAmbiguousDate(value string) bool {
	return classifyDate(value) == shapeAmbiguous
}

// Date layouts per format. Single-digit day and month forms are accepted.
var (
	isoDateLayouts = []string{"2006-01-02", "2006-1-2"}
	isoTimeLayouts = []string{
		time.RFC3339, time.RFC3339Nano,
		"2006-01-02T15:04:05", "2006-01-02T15:04",
		"2006-01-02 15:04:05", "2006-01-02 15:04",
	}
	europeanDateLayouts = []string{"02/01/2006", "2/1/2006", "02-01-2006", "2-1-2006", "02/01/06", "2/1/06"}
	americanDateLayouts = []string{"01/02/2006", "1/2/2006", "01-02-2006", "1-2-2006", "01/02/06", "1/2/06"}
	timeSuffixes        = []string{" 15:04:05", " 15:04", " 3:04 PM", " 3:04:05 PM"}
)

// ParseDate parses value strictly against format. When withTime is true a
// time component is accepted in addition to the bare date.
func ParseDate(value string, format DateFormat, withTime bool) (time.Time, error) {
	value = strings.TrimSpace(value)

	var layouts []string
	switch format {
	case DateEuropean:
		layouts = withTimeLayouts(europeanDateLayouts, withTime)
	case DateAmerican:
		layouts = withTimeLayouts(americanDateLayouts, withTime)
	default:
		layouts = append([]string(nil), isoDateLayouts...)
		if withTime {
			layouts = append(layouts, isoTimeLayouts...)
		}
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected %s", value, format.Pattern(withTime))
}

func withTimeLayouts(dates []string, withTime bool) []string {
	layouts := append([]string(nil), dates...)
	if !withTime {
		return layouts
	}
	for _, d := range dates {
		for _, suffix := range timeSuffixes {
			layouts = append(layouts, d+suffix)
		}
	}
	return layouts
}
