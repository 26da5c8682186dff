package model

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidDiagnosis is returned when a diagnosis code does not belong to
// the ICD-10 code space.
var ErrInvalidDiagnosis = errors.New("invalid ICD-10 diagnosis code")

// icd10Pattern matches a canonical dotted ICD-10 code: a chapter letter,
// two digits, and an optional subcategory of one or two digits.
var icd10Pattern = regexp.MustCompile(`^[A-Z][0-9]{2}(\.[0-9]{1,2})?$`)

// icd10Embedded finds ICD-10-like substrings inside free text, dotted or not.
var icd10Embedded = regexp.MustCompile(`[A-Z][0-9]{2}[0-9]?(\.[0-9]{1,2})?`)

// NormalizeDiagnosis converts a code to the canonical dotted form. A
// four-character code without a dot gets one inserted after the third
// character (C188 -> C18.8). Anything else is returned unchanged apart from
// surrounding whitespace and case.
func NormalizeDiagnosis(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) == 4 && !strings.Contains(code, ".") {
		return code[:3] + "." + code[3:]
	}
	return code
}

// ValidDiagnosis reports whether the code, after normalization, is a
// well-formed ICD-10 code.
func ValidDiagnosis(code string) bool {
	return icd10Pattern.MatchString(NormalizeDiagnosis(code))
}

// ExtractDiagnoses pulls every ICD-10-like substring out of a free-text
// diagnosis field, normalizes each match and drops the invalid ones. Order
// follows the source text left to right.
func ExtractDiagnoses(raw string) []string {
	matches := icd10Embedded.FindAllString(strings.ToUpper(raw), -1)
	var codes []string
	for _, m := range matches {
		code := NormalizeDiagnosis(m)
		if icd10Pattern.MatchString(code) {
			codes = append(codes, code)
		}
	}
	return codes
}
