package model

import (
	"errors"
	"time"
)

// ErrMissingDonor is returned when a sample does not name its donor.
var ErrMissingDonor = errors.New("sample has no donor identifier")

// Sample is a canonical biobank sample. It references its donor and its
// collection by identifier only; references are resolved against the remote
// store during sync, not during extraction.
type Sample struct {
	ID                 string
	DonorID            string
	MaterialType       *string
	Diagnoses          []string
	CollectionID       *string
	CollectedAt        *time.Time
	StorageTemperature *StorageTemperature
}

// NewSample constructs a Sample. Identifier and donor identifier are
// required. Diagnosis codes are normalized to dotted form; invalid codes are
// dropped. Whether a sample without any remaining diagnosis is acceptable is
// a source-format policy and is decided by the extractor, not here.
func NewSample(id, donorID string, diagnoses []string) (Sample, error) {
	if id == "" {
		return Sample{}, ErrMissingIdentifier
	}
	if donorID == "" {
		return Sample{}, ErrMissingDonor
	}
	var codes []string
	for _, c := range diagnoses {
		if ValidDiagnosis(c) {
			codes = append(codes, NormalizeDiagnosis(c))
		}
	}
	return Sample{ID: id, DonorID: donorID, Diagnoses: codes}, nil
}

// Equal reports structural equality over all fields. Diagnosis order is
// significant because both extraction and remote reconstruction preserve
// source order.
func (s Sample) Equal(o Sample) bool {
	if s.ID != o.ID || s.DonorID != o.DonorID {
		return false
	}
	if !equalStringPtr(s.MaterialType, o.MaterialType) {
		return false
	}
	if !equalStringPtr(s.CollectionID, o.CollectionID) {
		return false
	}
	if !equalDate(s.CollectedAt, o.CollectedAt) {
		return false
	}
	if (s.StorageTemperature == nil) != (o.StorageTemperature == nil) {
		return false
	}
	if s.StorageTemperature != nil && *s.StorageTemperature != *o.StorageTemperature {
		return false
	}
	if len(s.Diagnoses) != len(o.Diagnoses) {
		return false
	}
	for i := range s.Diagnoses {
		if s.Diagnoses[i] != o.Diagnoses[i] {
			return false
		}
	}
	return true
}
