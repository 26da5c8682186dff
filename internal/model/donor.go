package model

import (
	"errors"
	"time"
)

// ErrMissingIdentifier is returned when a required identifier field is empty.
var ErrMissingIdentifier = errors.New("missing identifier")

// Donor is a canonical biobank donor. Identity is the business identifier;
// the remote store's technical id is never carried here. Donors are immutable
// after construction.
type Donor struct {
	ID        string
	Gender    Gender
	BirthDate *time.Time
}

// NewDonor constructs a Donor. The identifier is required; the birth date,
// when present, is truncated to date-only precision.
func NewDonor(id string, gender Gender, birthDate *time.Time) (Donor, error) {
	if id == "" {
		return Donor{}, ErrMissingIdentifier
	}
	if gender == "" {
		gender = GenderUnknown
	}
	return Donor{ID: id, Gender: gender, BirthDate: truncateDate(birthDate)}, nil
}

// Equal reports structural equality, the change-detection relation used by
// the sync engine.
func (d Donor) Equal(o Donor) bool {
	return d.ID == o.ID && d.Gender == o.Gender && equalDate(d.BirthDate, o.BirthDate)
}

func truncateDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func equalDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
