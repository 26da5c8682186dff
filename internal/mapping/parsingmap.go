// Package mapping loads and validates the deployment's configuration
// documents: the parsing map that names which raw source field feeds which
// domain attribute, the code lookup tables, and the biobank/collection
// document. The parsing map is validated once at startup so that the
// extractors consume typed field accessors instead of chained key lookups.
package mapping

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DonorMap names the source fields for donor attributes.
type DonorMap struct {
	ID        string `mapstructure:"id"`
	Gender    string `mapstructure:"gender"`
	BirthDate string `mapstructure:"birthdate"`
}

// SampleDetails names the source fields nested under a sample record.
type SampleDetails struct {
	ID                 string `mapstructure:"id"`
	Diagnosis          string `mapstructure:"diagnosis"`
	MaterialType       string `mapstructure:"material_type"`
	SamplingDate       string `mapstructure:"sampling_date"`
	StorageTemperature string `mapstructure:"storage_temperature"`
	Collection         string `mapstructure:"collection"`
}

// SampleMap names the source fields for sample attributes.
type SampleMap struct {
	DonorID string        `mapstructure:"donor_id"`
	Details SampleDetails `mapstructure:"sample_details"`
}

// ConditionMap names the source fields for condition attributes.
type ConditionMap struct {
	Code          string `mapstructure:"icd-10_code"`
	PatientID     string `mapstructure:"patient_id"`
	DiagnosisDate string `mapstructure:"diagnosis_date"`
}

// ParsingMap is the validated, typed form of the user-supplied field-mapping
// document.
type ParsingMap struct {
	Donor     DonorMap     `mapstructure:"donor_map"`
	Sample    SampleMap    `mapstructure:"sample_map"`
	Condition ConditionMap `mapstructure:"condition_map"`
}

// IncompleteError reports required keys missing from the parsing map
// document. This kind means the deployment configuration itself is broken.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("parsing map incomplete: missing %s", strings.Join(e.Missing, ", "))
}

// UnresolvableError reports a configured field that does not resolve against
// real input data. This kind means the map is complete but the input schema
// has drifted away from it.
type UnresolvableError struct {
	Key   string
	Field string
}

func (e *UnresolvableError) Error() string {
	return fmt.Sprintf("parsing map key %s references field %q which is absent from input data", e.Key, e.Field)
}

// LoadParsingMap reads and unmarshals a parsing-map document. The result is
// not yet validated; call Validate before handing it to an extractor.
func LoadParsingMap(path string) (*ParsingMap, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read parsing map %s: %w", path, err)
	}
	pm := &ParsingMap{}
	if err := v.Unmarshal(pm); err != nil {
		return nil, fmt.Errorf("unmarshal parsing map %s: %w", path, err)
	}
	return pm, nil
}

// Validate verifies that every key the extraction layer needs is present.
// Optional keys (sampling date, storage temperature, collection attribute,
// diagnosis date) are not required.
func (pm *ParsingMap) Validate() error {
	var missing []string
	required := []struct {
		key   string
		value string
	}{
		{"donor_map.id", pm.Donor.ID},
		{"donor_map.gender", pm.Donor.Gender},
		{"donor_map.birthDate", pm.Donor.BirthDate},
		{"sample_map.donor_id", pm.Sample.DonorID},
		{"sample_map.sample_details.id", pm.Sample.Details.ID},
		{"sample_map.sample_details.diagnosis", pm.Sample.Details.Diagnosis},
		{"sample_map.sample_details.material_type", pm.Sample.Details.MaterialType},
		{"condition_map.icd-10_code", pm.Condition.Code},
		{"condition_map.patient_id", pm.Condition.PatientID},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}
	return nil
}

// FieldProbe answers whether a named field resolves against a real input
// record. The XML extractor provides one built from a representative file.
type FieldProbe interface {
	Has(field string) bool
}

// ValidateAgainstData checks every configured field against real input data.
// It assumes Validate has already passed; optional fields are only probed
// when configured.
func (pm *ParsingMap) ValidateAgainstData(probe FieldProbe) error {
	checks := []struct {
		key      string
		field    string
		optional bool
	}{
		{"donor_map.id", pm.Donor.ID, false},
		{"donor_map.gender", pm.Donor.Gender, false},
		{"donor_map.birthDate", pm.Donor.BirthDate, false},
		{"sample_map.donor_id", pm.Sample.DonorID, false},
		{"sample_map.sample_details.id", pm.Sample.Details.ID, false},
		{"sample_map.sample_details.diagnosis", pm.Sample.Details.Diagnosis, false},
		{"sample_map.sample_details.material_type", pm.Sample.Details.MaterialType, false},
		{"sample_map.sample_details.sampling_date", pm.Sample.Details.SamplingDate, true},
		{"sample_map.sample_details.storage_temperature", pm.Sample.Details.StorageTemperature, true},
		{"sample_map.sample_details.collection", pm.Sample.Details.Collection, true},
		{"condition_map.icd-10_code", pm.Condition.Code, false},
		{"condition_map.patient_id", pm.Condition.PatientID, false},
		{"condition_map.diagnosis_date", pm.Condition.DiagnosisDate, true},
	}
	for _, c := range checks {
		if c.field == "" && c.optional {
			continue
		}
		if !probe.Has(c.field) {
			return &UnresolvableError{Key: c.key, Field: c.field}
		}
	}
	return nil
}
