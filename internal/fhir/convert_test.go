package fhir

import (
	"testing"
	"time"

	"github.com/biobanking/blaze-sync/internal/model"
)

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestDonorRoundTrip(t *testing.T) {
	donor, err := model.NewDonor("donor-1", model.GenderFemale, datePtr(1970, 3, 2))
	if err != nil {
		t.Fatalf("NewDonor: %v", err)
	}

	back, err := DonorFromPatient(Patient(donor))
	if err != nil {
		t.Fatalf("DonorFromPatient: %v", err)
	}
	if !donor.Equal(back) {
		t.Errorf("round trip changed donor: %+v vs %+v", donor, back)
	}
}

func TestDonorRoundTrip_NoBirthDate(t *testing.T) {
	donor, _ := model.NewDonor("donor-1", model.GenderUnknown, nil)
	back, err := DonorFromPatient(Patient(donor))
	if err != nil {
		t.Fatalf("DonorFromPatient: %v", err)
	}
	if !donor.Equal(back) {
		t.Errorf("round trip changed donor: %+v vs %+v", donor, back)
	}
}

func TestSampleRoundTrip(t *testing.T) {
	sample, err := model.NewSample("s-1", "donor-1", []string{"C188", "C50"})
	if err != nil {
		t.Fatalf("NewSample: %v", err)
	}
	material := "tissue-frozen"
	sample.MaterialType = &material
	coll := "coll:serum"
	sample.CollectionID = &coll
	sample.CollectedAt = datePtr(2020, 6, 1)
	temp := model.TemperatureMinus60to85
	sample.StorageTemperature = &temp

	back, err := SampleFromSpecimen(Specimen(sample, "Patient/abc"))
	if err != nil {
		t.Fatalf("SampleFromSpecimen: %v", err)
	}
	if !sample.Equal(back) {
		t.Errorf("round trip changed sample:\n got %+v\nwant %+v", back, sample)
	}
}

func TestSampleRoundTrip_SparseFields(t *testing.T) {
	sample, err := model.NewSample("s-2", "donor-1", nil)
	if err != nil {
		t.Fatalf("NewSample: %v", err)
	}
	back, err := SampleFromSpecimen(Specimen(sample, "Patient/abc"))
	if err != nil {
		t.Fatalf("SampleFromSpecimen: %v", err)
	}
	if !sample.Equal(back) {
		t.Errorf("round trip changed sample:\n got %+v\nwant %+v", back, sample)
	}
}

func TestConditionCodesAndAppend(t *testing.T) {
	cond, err := model.NewCondition("C188", "donor-1", datePtr(2019, 5, 4))
	if err != nil {
		t.Fatalf("NewCondition: %v", err)
	}
	res := ConditionResource(cond, "Patient/abc")

	codes := ConditionCodes(res)
	if len(codes) != 1 || codes[0] != "C18.8" {
		t.Fatalf("codes = %v, want [C18.8]", codes)
	}

	AppendConditionCode(&res, "C50")
	codes = ConditionCodes(res)
	if len(codes) != 2 || codes[1] != "C50" {
		t.Fatalf("codes after append = %v", codes)
	}
}

func TestAddGroupMembers_Deduplicates(t *testing.T) {
	g := CollectionGroup(model.Collection{ID: "coll:serum", Name: "Serum"})

	added := AddGroupMembers(&g, []string{"Specimen/1", "Specimen/2"})
	if added != 2 || len(g.Member) != 2 {
		t.Fatalf("added = %d, members = %d", added, len(g.Member))
	}
	added = AddGroupMembers(&g, []string{"Specimen/2", "Specimen/3"})
	if added != 1 || len(g.Member) != 3 {
		t.Fatalf("second add = %d, members = %d", added, len(g.Member))
	}
}

func TestOrganization(t *testing.T) {
	org := Organization(model.Biobank{ID: "bb-1", Name: "MMCI", Alias: "mmci"})
	if len(org.Identifier) != 1 || *org.Identifier[0].Value != "bb-1" {
		t.Errorf("identifier = %+v", org.Identifier)
	}
	if org.Name == nil || *org.Name != "MMCI" {
		t.Errorf("name = %v", org.Name)
	}
}
