package core

import (
	"regexp"
	"strings"
)

// Type inference thresholds.
const (
	MinInferenceSamples     = 3
	InferenceConfidenceGate = 0.7
)

var (
	emailPattern  = regexp.MustCompile(`^[A-Za-z0-9._%+\-']+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	urlPattern    = regexp.MustCompile(`(?i)^(https?://|www\.)[^\s]+\.[^\s]+$`)
	phonePattern  = regexp.MustCompile(`^\+?[0-9\s\-().]{7,20}$`)
	domainPattern = regexp.MustCompile(`(?i)^([a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
)

// InferredType is a semantic type detected from sample values.
type InferredType string

const (
	InferredUnknown InferredType = "unknown"
	InferredEmail   InferredType = "email"
	InferredURL     InferredType = "url"
	InferredPhone   InferredType = "phone"
	InferredDomain  InferredType = "domain"
)

// TypeInference is the result of InferType.
type TypeInference struct {
	Type            InferredType `json:"type"`
	Confidence      float64      `json:"confidence"`
	SuggestedFields []string     `json:"suggestedFields,omitempty"`
}

// typeCandidate pairs a semantic type with its matcher and the target
// fields it usually maps to.
type typeCandidate struct {
	typ    InferredType
	match  func(string) bool
	fields []string
}

// inferenceOrder is evaluated top-down; specific patterns precede permissive ones.
// Dates are excluded because their shapes overlap numeric and phone values.
var inferenceOrder = []typeCandidate{
	{InferredEmail, IsEmail, []string{"email", "emails", "work_email", "email_address"}},
	{InferredURL, IsURL, []string{"website", "url", "linkedin", "domain"}},
	{InferredPhone, IsPhone, []string{"phone", "phone_number", "mobile"}},
	{InferredDomain, IsDomain, []string{"domain", "website", "domains"}},
}

// InferType infers a semantic type from sample values. At least
// MinInferenceSamples non-blank samples are required; the first candidate
// whose match ratio reaches InferenceConfidenceGate wins.
func InferType(samples []string) TypeInference {
	values := make([]string, 0, len(samples))
	for _, s := range samples {
		if s = strings.TrimSpace(s); s != "" {
			values = append(values, s)
		}
	}

	if len(values) < MinInferenceSamples {
		return TypeInference{Type: InferredUnknown}
	}

	for _, c := range inferenceOrder {
		matches := 0
		for _, v := range values {
			if c.match(v) {
				matches++
			}
		}
		confidence := float64(matches) / float64(len(values))
		if confidence >= InferenceConfidenceGate {
			return TypeInference{
				Type:            c.typ,
				Confidence:      confidence,
				SuggestedFields: append([]string(nil), c.fields...),
			}
		}
	}

	return TypeInference{Type: InferredUnknown}
}

// IsEmail reports whether s looks like an email address.
func IsEmail(s string) bool {
	return len(s) <= 254 && emailPattern.MatchString(strings.TrimSpace(s))
}

// IsURL reports whether s looks like a web URL.
func IsURL(s string) bool {
	return urlPattern.MatchString(strings.TrimSpace(s))
}

// IsPhone reports whether s looks like a phone number with at least 7 digits.
func IsPhone(s string) bool {
	s = strings.TrimSpace(s)
	if !phonePattern.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 7
}

// IsDomain reports whether s is a bare host name such as "acme.com".
func IsDomain(s string) bool {
	return domainPattern.MatchString(strings.TrimSpace(s))
}
