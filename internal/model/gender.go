package model

import "strings"

// Gender is the administrative gender of a donor.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

// genderAbbreviations maps single-character source codes to genders.
var genderAbbreviations = map[string]Gender{
	"f": GenderFemale,
	"m": GenderMale,
	"o": GenderOther,
}

// ResolveGender maps a raw source value to a Gender. Single-character codes
// go through the abbreviation table; longer values are matched
// case-insensitively against the gender names. Anything unresolvable is
// unknown.
func ResolveGender(raw string) Gender {
	v := strings.ToLower(strings.TrimSpace(raw))
	if len(v) == 1 {
		if g, ok := genderAbbreviations[v]; ok {
			return g
		}
		return GenderUnknown
	}
	switch Gender(v) {
	case GenderMale, GenderFemale, GenderOther, GenderUnknown:
		return Gender(v)
	}
	return GenderUnknown
}
