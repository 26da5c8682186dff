package extract

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/biobanking/blaze-sync/internal/mapping"
	"github.com/biobanking/blaze-sync/internal/model"
)

func testParsingMap() *mapping.ParsingMap {
	return &mapping.ParsingMap{
		Donor: mapping.DonorMap{ID: "patient_id", Gender: "sex", BirthDate: "year_of_birth"},
		Sample: mapping.SampleMap{
			DonorID: "patient_id",
			Details: mapping.SampleDetails{
				ID:                 "sample_id",
				Diagnosis:          "diagnosis",
				MaterialType:       "material",
				SamplingDate:       "taken_at",
				StorageTemperature: "temperature",
				Collection:         "sample_type",
			},
		},
		Condition: mapping.ConditionMap{Code: "diagnosis", PatientID: "patient_id", DiagnosisDate: "diagnosed_at"},
	}
}

func testLookups() mapping.Lookups {
	return mapping.Lookups{
		MaterialType:       map[string]string{"T": "tissue-frozen", "S": "serum"},
		StorageTemperature: map[string]string{"-80": string(model.TemperatureMinus60to85), "RT": string(model.TemperatureRoom)},
		Collections:        map[string]string{"serum": "coll:serum", "default": "coll:general"},
	}
}

func writeInput(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func newTestExtractor(t *testing.T, format, dir string) *Extractor {
	t.Helper()
	e, err := New(format, dir, testParsingMap(), testLookups(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

const csvHeader = "patient_id,sex,year_of_birth,sample_id,diagnosis,material,taken_at,temperature,sample_type,diagnosed_at\n"

func TestCSV_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "export.csv", csvHeader+
		"donor-1,m,1980,sample-1,M058,T,2020-06-01,-80,serum,2019-05-04\n")

	e := newTestExtractor(t, FormatCSV, dir)

	donors, err := e.Donors()
	if err != nil {
		t.Fatalf("Donors: %v", err)
	}
	if len(donors) != 1 {
		t.Fatalf("got %d donors, want 1", len(donors))
	}
	if donors[0].Gender != model.GenderMale {
		t.Errorf("gender = %q, want male", donors[0].Gender)
	}
	wantBirth := time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	if donors[0].BirthDate == nil || !donors[0].BirthDate.Equal(wantBirth) {
		t.Errorf("birth date = %v, want %v", donors[0].BirthDate, wantBirth)
	}

	samples, err := e.Samples()
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	s := samples[0]
	if len(s.Diagnoses) != 1 || s.Diagnoses[0] != "M05.8" {
		t.Errorf("diagnoses = %v, want [M05.8]", s.Diagnoses)
	}
	if s.MaterialType == nil || *s.MaterialType != "tissue-frozen" {
		t.Errorf("material = %v", s.MaterialType)
	}
	if s.StorageTemperature == nil || *s.StorageTemperature != model.TemperatureMinus60to85 {
		t.Errorf("temperature = %v", s.StorageTemperature)
	}
	if s.CollectionID == nil || *s.CollectionID != "coll:serum" {
		t.Errorf("collection = %v", s.CollectionID)
	}
	wantCollected := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	if s.CollectedAt == nil || !s.CollectedAt.Equal(wantCollected) {
		t.Errorf("collected = %v, want %v", s.CollectedAt, wantCollected)
	}
}

func TestDonors_DeduplicatesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "a.csv", csvHeader+"donor-1,f,1970,s-1,C50,T,,,serum,\n")
	writeInput(t, dir, "b.csv", csvHeader+"donor-1,m,1980,s-2,C51,T,,,serum,\n")

	e := newTestExtractor(t, FormatCSV, dir)
	donors, err := e.Donors()
	if err != nil {
		t.Fatalf("Donors: %v", err)
	}
	if len(donors) != 1 {
		t.Fatalf("got %d donors, want 1", len(donors))
	}
	// Sorted filename order: a.csv wins.
	if donors[0].Gender != model.GenderFemale {
		t.Errorf("gender = %q, want female from a.csv", donors[0].Gender)
	}
}

func TestDonors_FreshSequencePerCall(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "a.csv", csvHeader+"donor-1,f,1970,s-1,C50,T,,,serum,\n")

	e := newTestExtractor(t, FormatCSV, dir)
	first, err := e.Donors()
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := e.Donors()
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("got %d then %d donors, want 1 and 1", len(first), len(second))
	}
}

func TestEmptyDirectory(t *testing.T) {
	e := newTestExtractor(t, FormatCSV, t.TempDir())
	donors, err := e.Donors()
	if err != nil {
		t.Fatalf("Donors on empty dir: %v", err)
	}
	if len(donors) != 0 {
		t.Fatalf("got %d donors, want 0", len(donors))
	}
}

func TestMalformedFileSkipped(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "bad.csv", "\"unterminated\n")
	writeInput(t, dir, "good.csv", csvHeader+"donor-1,f,1970,s-1,C50,T,,,serum,\n")

	e := newTestExtractor(t, FormatCSV, dir)
	donors, err := e.Donors()
	if err != nil {
		t.Fatalf("Donors: %v", err)
	}
	if len(donors) != 1 {
		t.Fatalf("got %d donors, want 1 from the healthy file", len(donors))
	}
}

func TestBadBirthDateRejectsDonorOnly(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "a.csv", csvHeader+
		"donor-1,f,not-a-date,s-1,C50,T,,,serum,\n"+
		"donor-2,m,1985,s-2,C51,T,,,serum,\n")

	e := newTestExtractor(t, FormatCSV, dir)
	donors, err := e.Donors()
	if err != nil {
		t.Fatalf("Donors: %v", err)
	}
	if len(donors) != 1 || donors[0].ID != "donor-2" {
		t.Fatalf("donors = %+v, want only donor-2", donors)
	}

	// The sibling sample from the rejected donor record still extracts.
	samples, err := e.Samples()
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
}

func TestConditions_FromCSV(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "a.csv", csvHeader+
		"donor-1,f,1970,s-1,C188,T,,,serum,2019-05-04\n"+
		"donor-2,m,1985,s-2,no diagnosis,T,,,serum,\n")

	e := newTestExtractor(t, FormatCSV, dir)
	conditions, err := e.Conditions()
	if err != nil {
		t.Fatalf("Conditions: %v", err)
	}
	if len(conditions) != 1 {
		t.Fatalf("got %d conditions, want 1", len(conditions))
	}
	c := conditions[0]
	if c.Code != "C18.8" || c.SubjectID != "donor-1" {
		t.Errorf("condition = %+v", c)
	}
	want := time.Date(2019, 5, 4, 0, 0, 0, 0, time.UTC)
	if c.ObservedAt == nil || !c.ObservedAt.Equal(want) {
		t.Errorf("observed = %v, want %v", c.ObservedAt, want)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2007", time.Date(2007, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2007-05", time.Date(2007, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2020-06-01", time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"2020-06-01T13:37:00Z", time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseDate(tt.in)
		if err != nil {
			t.Errorf("parseDate(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseDate("certainly not a date"); err == nil {
		t.Error("expected error for unparsable input")
	}
	if _, err := parseDate(""); err == nil {
		t.Error("expected error for empty input")
	}
}
