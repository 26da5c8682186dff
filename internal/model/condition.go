package model

import (
	"fmt"
	"time"
)

// Condition is one ICD-10 diagnosis observed for a donor. On the remote
// store a donor accumulates a single condition resource that diagnoses are
// appended to, so Condition identity is the subject, not the code.
type Condition struct {
	Code       string
	SubjectID  string
	ObservedAt *time.Time
}

// NewCondition constructs a Condition. An invalid ICD-10 code is a hard
// failure; a valid code round-trips to its normalized dotted form.
func NewCondition(code, subjectID string, observedAt *time.Time) (Condition, error) {
	if subjectID == "" {
		return Condition{}, ErrMissingIdentifier
	}
	if !ValidDiagnosis(code) {
		return Condition{}, fmt.Errorf("%w: %q", ErrInvalidDiagnosis, code)
	}
	return Condition{
		Code:       NormalizeDiagnosis(code),
		SubjectID:  subjectID,
		ObservedAt: truncateDate(observedAt),
	}, nil
}

// Equal reports structural equality.
func (c Condition) Equal(o Condition) bool {
	return c.Code == o.Code && c.SubjectID == o.SubjectID && equalDate(c.ObservedAt, o.ObservedAt)
}
