// Package fhir converts between the canonical domain model and FHIR R4
// resources following the BBMRI.de profiles. The conversion is symmetric on
// purpose: a resource reconstructed from the remote store goes through the
// exact same normalization (date-only precision, dotted ICD-10 codes) as a
// freshly extracted entity, so structural comparison never reports spurious
// differences.
package fhir

import (
	"fmt"
	"time"

	"github.com/samply/golang-fhir-models/fhir-models/fhir"

	"github.com/biobanking/blaze-sync/internal/model"
)

const (
	ICD10System = "http://hl7.org/fhir/sid/icd-10"

	MaterialTypeSystem       = "https://fhir.bbmri.de/CodeSystem/SampleMaterialType"
	StorageTemperatureSystem = "https://fhir.bbmri.de/CodeSystem/StorageTemperature"

	StorageTemperatureExtensionURL = "https://fhir.bbmri.de/StructureDefinition/StorageTemperature"
	SampleDiagnosisExtensionURL    = "https://fhir.bbmri.de/StructureDefinition/SampleDiagnosis"
	CustodianExtensionURL          = "https://fhir.bbmri.de/StructureDefinition/Custodian"
)

func ptr[T any](v T) *T { return &v }

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return ptr(t.Format("2006-01-02"))
}

// parseDate accepts the three FHIR date precisions. Truncated values default
// the missing granularity to 1, mirroring extraction.
func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, *s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d, nil
		}
	}
	return nil, fmt.Errorf("unparsable FHIR date %q", *s)
}

func identifier(value string) fhir.Identifier {
	return fhir.Identifier{Value: ptr(value)}
}

func firstIdentifier(ids []fhir.Identifier) string {
	for _, id := range ids {
		if id.Value != nil {
			return *id.Value
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Donor / Patient
// ---------------------------------------------------------------------------

func gender(g model.Gender) fhir.AdministrativeGender {
	switch g {
	case model.GenderMale:
		return fhir.AdministrativeGenderMale
	case model.GenderFemale:
		return fhir.AdministrativeGenderFemale
	case model.GenderOther:
		return fhir.AdministrativeGenderOther
	default:
		return fhir.AdministrativeGenderUnknown
	}
}

func genderFromFHIR(g *fhir.AdministrativeGender) model.Gender {
	if g == nil {
		return model.GenderUnknown
	}
	switch *g {
	case fhir.AdministrativeGenderMale:
		return model.GenderMale
	case fhir.AdministrativeGenderFemale:
		return model.GenderFemale
	case fhir.AdministrativeGenderOther:
		return model.GenderOther
	default:
		return model.GenderUnknown
	}
}

// Patient builds the FHIR Patient for a donor.
func Patient(d model.Donor) fhir.Patient {
	return fhir.Patient{
		Identifier: []fhir.Identifier{identifier(d.ID)},
		Gender:     ptr(gender(d.Gender)),
		BirthDate:  formatDate(d.BirthDate),
	}
}

// DonorFromPatient reconstructs a donor from its remote Patient resource.
func DonorFromPatient(p fhir.Patient) (model.Donor, error) {
	id := firstIdentifier(p.Identifier)
	if id == "" {
		return model.Donor{}, fmt.Errorf("patient resource carries no identifier")
	}
	birth, err := parseDate(p.BirthDate)
	if err != nil {
		return model.Donor{}, err
	}
	return model.NewDonor(id, genderFromFHIR(p.Gender), birth)
}

// ---------------------------------------------------------------------------
// Sample / Specimen
// ---------------------------------------------------------------------------

// Specimen builds the FHIR Specimen for a sample. patientRef is the resolved
// remote reference of the donor ("Patient/<id>"); the subject additionally
// carries the donor's business identifier so that reconstruction does not
// need a second fetch.
func Specimen(s model.Sample, patientRef string) fhir.Specimen {
	sp := fhir.Specimen{
		Identifier: []fhir.Identifier{identifier(s.ID)},
		Subject: &fhir.Reference{
			Reference:  ptr(patientRef),
			Identifier: ptr(identifier(s.DonorID)),
		},
	}
	if s.MaterialType != nil {
		sp.Type = &fhir.CodeableConcept{
			Coding: []fhir.Coding{{System: ptr(MaterialTypeSystem), Code: s.MaterialType}},
		}
	}
	if s.CollectedAt != nil {
		sp.Collection = &fhir.SpecimenCollection{CollectedDateTime: formatDate(s.CollectedAt)}
	}
	for _, code := range s.Diagnoses {
		sp.Extension = append(sp.Extension, fhir.Extension{
			Url: SampleDiagnosisExtensionURL,
			ValueCodeableConcept: &fhir.CodeableConcept{
				Coding: []fhir.Coding{{System: ptr(ICD10System), Code: ptr(code)}},
			},
		})
	}
	if s.StorageTemperature != nil {
		sp.Extension = append(sp.Extension, fhir.Extension{
			Url: StorageTemperatureExtensionURL,
			ValueCodeableConcept: &fhir.CodeableConcept{
				Coding: []fhir.Coding{{System: ptr(StorageTemperatureSystem), Code: ptr(string(*s.StorageTemperature))}},
			},
		})
	}
	if s.CollectionID != nil {
		sp.Extension = append(sp.Extension, fhir.Extension{
			Url: CustodianExtensionURL,
			ValueReference: &fhir.Reference{
				Identifier: ptr(identifier(*s.CollectionID)),
			},
		})
	}
	return sp
}

// SampleFromSpecimen reconstructs a sample from its remote Specimen resource.
func SampleFromSpecimen(sp fhir.Specimen) (model.Sample, error) {
	id := firstIdentifier(sp.Identifier)
	donorID := ""
	if sp.Subject != nil && sp.Subject.Identifier != nil && sp.Subject.Identifier.Value != nil {
		donorID = *sp.Subject.Identifier.Value
	}

	var diagnoses []string
	for _, ext := range sp.Extension {
		if ext.Url == SampleDiagnosisExtensionURL && ext.ValueCodeableConcept != nil {
			for _, coding := range ext.ValueCodeableConcept.Coding {
				if coding.Code != nil {
					diagnoses = append(diagnoses, *coding.Code)
				}
			}
		}
	}

	sample, err := model.NewSample(id, donorID, diagnoses)
	if err != nil {
		return model.Sample{}, err
	}

	if sp.Type != nil {
		for _, coding := range sp.Type.Coding {
			if coding.Code != nil {
				sample.MaterialType = coding.Code
				break
			}
		}
	}
	if sp.Collection != nil {
		collected, err := parseDate(sp.Collection.CollectedDateTime)
		if err != nil {
			return model.Sample{}, err
		}
		sample.CollectedAt = collected
	}
	for _, ext := range sp.Extension {
		switch ext.Url {
		case StorageTemperatureExtensionURL:
			if ext.ValueCodeableConcept != nil {
				for _, coding := range ext.ValueCodeableConcept.Coding {
					if coding.Code != nil {
						if t, ok := model.ParseStorageTemperature(*coding.Code); ok {
							sample.StorageTemperature = &t
						}
					}
				}
			}
		case CustodianExtensionURL:
			if ext.ValueReference != nil && ext.ValueReference.Identifier != nil {
				sample.CollectionID = ext.ValueReference.Identifier.Value
			}
		}
	}
	return sample, nil
}

// ---------------------------------------------------------------------------
// Condition
// ---------------------------------------------------------------------------

// ConditionResource builds the FHIR Condition for a donor's first diagnosis.
// Further diagnoses are appended to this resource's coding list rather than
// creating sibling resources.
func ConditionResource(c model.Condition, patientRef string) fhir.Condition {
	return fhir.Condition{
		Code: &fhir.CodeableConcept{
			Coding: []fhir.Coding{{System: ptr(ICD10System), Code: ptr(c.Code)}},
		},
		Subject: fhir.Reference{
			Reference:  ptr(patientRef),
			Identifier: ptr(identifier(c.SubjectID)),
		},
		OnsetDateTime: formatDate(c.ObservedAt),
	}
}

// ConditionCodes lists the normalized diagnosis codes a remote Condition
// resource already carries.
func ConditionCodes(c fhir.Condition) []string {
	var codes []string
	if c.Code == nil {
		return nil
	}
	for _, coding := range c.Code.Coding {
		if coding.Code != nil {
			codes = append(codes, model.NormalizeDiagnosis(*coding.Code))
		}
	}
	return codes
}

// AppendConditionCode adds a diagnosis to an existing Condition resource.
func AppendConditionCode(c *fhir.Condition, code string) {
	if c.Code == nil {
		c.Code = &fhir.CodeableConcept{}
	}
	c.Code.Coding = append(c.Code.Coding, fhir.Coding{System: ptr(ICD10System), Code: ptr(code)})
}

// ---------------------------------------------------------------------------
// Biobank / Organization, Collection / Group
// ---------------------------------------------------------------------------

// Organization builds the FHIR Organization for the deployment's biobank.
func Organization(b model.Biobank) fhir.Organization {
	org := fhir.Organization{
		Identifier: []fhir.Identifier{identifier(b.ID)},
		Active:     ptr(true),
		Name:       ptr(b.Name),
	}
	if b.Alias != "" {
		org.Alias = []string{b.Alias}
	}
	return org
}

// CollectionGroup builds the FHIR Group representing a sample collection.
// Members are Specimen references added by the membership update at the end
// of a sample pass.
func CollectionGroup(c model.Collection) fhir.Group {
	g := fhir.Group{
		Identifier: []fhir.Identifier{identifier(c.ID)},
		Active:     ptr(true),
		Type:       fhir.GroupTypeSubstance,
		Actual:     true,
	}
	if c.Name != "" {
		g.Name = ptr(c.Name)
	}
	return g
}

// AddGroupMembers appends specimen references to a collection Group,
// skipping references already present. It returns how many were added.
func AddGroupMembers(g *fhir.Group, refs []string) int {
	existing := map[string]bool{}
	for _, m := range g.Member {
		if m.Entity.Reference != nil {
			existing[*m.Entity.Reference] = true
		}
	}
	added := 0
	for _, ref := range refs {
		if existing[ref] {
			continue
		}
		existing[ref] = true
		g.Member = append(g.Member, fhir.GroupMember{Entity: fhir.Reference{Reference: ptr(ref)}})
		added++
	}
	return added
}
