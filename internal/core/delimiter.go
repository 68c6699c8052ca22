package core

import "bytes"

// DelimiterSampleSize is how many leading bytes DetectDelimiter inspects.
const DelimiterSampleSize = 1024

// DefaultDelimiter is used when a sample carries no delimiter signal.
const DefaultDelimiter = ','

// candidateDelimiters in tie-break order.
var candidateDelimiters = []byte{',', ';', '\t', '|'}

// DetectDelimiter infers the field delimiter from the first bytes of a file.
// It counts raw occurrences of each candidate and picks the most frequent;
// ties go to the earlier candidate. ok is false when no candidate occurs,
// in which case the default comma is returned.
func DetectDelimiter(sample []byte) (delim rune, ok bool) {
	if len(sample) > DelimiterSampleSize {
		sample = sample[:DelimiterSampleSize]
	}

	best, bestCount := byte(DefaultDelimiter), 0
	for _, c := range candidateDelimiters {
		if n := bytes.Count(sample, []byte{c}); n > bestCount {
			best, bestCount = c, n
		}
	}

	if bestCount == 0 {
		return DefaultDelimiter, false
	}
	return rune(best), true
}

// DelimiterName returns a readable name for a delimiter rune.
func DelimiterName(d rune) string {
	switch d {
	case ',':
		return "comma"
	case ';':
		return "semicolon"
	case '\t':
		return "tab"
	case '|':
		return "pipe"
	default:
		return string(d)
	}
}
