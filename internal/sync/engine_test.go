package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/biobanking/blaze-sync/internal/blaze"
	"github.com/biobanking/blaze-sync/internal/model"
)

// fakeGateway is an in-memory store double. failOn triggers a transport
// error on the named method.
type fakeGateway struct {
	orgs       map[string]model.Biobank
	groups     map[string][]string
	donors     map[string]model.Donor
	samples    map[string]model.Sample
	conditions map[string][]string

	membershipCalls int
	failOn          string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orgs:       map[string]model.Biobank{},
		groups:     map[string][]string{},
		donors:     map[string]model.Donor{},
		samples:    map[string]model.Sample{},
		conditions: map[string][]string{},
	}
}

func (g *fakeGateway) trip(method string) error {
	if g.failOn == method {
		return &blaze.TransportError{Op: method, Err: fmt.Errorf("connection refused")}
	}
	return nil
}

func (g *fakeGateway) Exists(ctx context.Context, resourceType, identifier string) (bool, error) {
	if err := g.trip("Exists"); err != nil {
		return false, err
	}
	switch resourceType {
	case blaze.ResourceOrganization:
		_, ok := g.orgs[identifier]
		return ok, nil
	case blaze.ResourceGroup:
		_, ok := g.groups[identifier]
		return ok, nil
	case blaze.ResourcePatient:
		_, ok := g.donors[identifier]
		return ok, nil
	case blaze.ResourceSpecimen:
		_, ok := g.samples[identifier]
		return ok, nil
	}
	return false, nil
}

func (g *fakeGateway) CreateBiobank(ctx context.Context, b model.Biobank) (string, error) {
	g.orgs[b.ID] = b
	return b.ID, nil
}

func (g *fakeGateway) CreateCollection(ctx context.Context, c model.Collection) (string, error) {
	g.groups[c.ID] = nil
	return c.ID, nil
}

func (g *fakeGateway) CreateDonor(ctx context.Context, d model.Donor) (string, error) {
	if err := g.trip("CreateDonor"); err != nil {
		return "", err
	}
	g.donors[d.ID] = d
	return d.ID, nil
}

func (g *fakeGateway) Donor(ctx context.Context, donorID string) (model.Donor, error) {
	return g.donors[donorID], nil
}

func (g *fakeGateway) UpdateDonor(ctx context.Context, d model.Donor) (string, error) {
	g.donors[d.ID] = d
	return d.ID, nil
}

func (g *fakeGateway) PatientRef(ctx context.Context, donorID string) (string, error) {
	if err := g.trip("PatientRef"); err != nil {
		return "", err
	}
	if _, ok := g.donors[donorID]; !ok {
		return "", fmt.Errorf("donor %q: %w", donorID, blaze.ErrNotFound)
	}
	return "Patient/" + donorID, nil
}

func (g *fakeGateway) CreateSample(ctx context.Context, s model.Sample, patientRef string) (string, error) {
	if err := g.trip("CreateSample"); err != nil {
		return "", err
	}
	g.samples[s.ID] = s
	return s.ID, nil
}

func (g *fakeGateway) Sample(ctx context.Context, sampleID string) (model.Sample, error) {
	return g.samples[sampleID], nil
}

func (g *fakeGateway) UpdateSample(ctx context.Context, s model.Sample, patientRef string) (string, error) {
	g.samples[s.ID] = s
	return s.ID, nil
}

func (g *fakeGateway) SpecimenRef(ctx context.Context, sampleID string) (string, error) {
	return "Specimen/" + sampleID, nil
}

func (g *fakeGateway) ConditionCodes(ctx context.Context, patientRef string) ([]string, bool, error) {
	codes, ok := g.conditions[patientRef]
	return codes, ok, nil
}

func (g *fakeGateway) CreateCondition(ctx context.Context, c model.Condition, patientRef string) (string, error) {
	g.conditions[patientRef] = []string{c.Code}
	return patientRef, nil
}

func (g *fakeGateway) AppendDiagnosis(ctx context.Context, c model.Condition, patientRef string) error {
	g.conditions[patientRef] = append(g.conditions[patientRef], c.Code)
	return nil
}

func (g *fakeGateway) AddSamplesToCollection(ctx context.Context, collectionID string, refs []string) error {
	g.membershipCalls++
	g.groups[collectionID] = append(g.groups[collectionID], refs...)
	return nil
}

func (g *fakeGateway) DeleteEverything(ctx context.Context) error { return nil }

type fakeSource struct {
	donors     []model.Donor
	samples    []model.Sample
	conditions []model.Condition
}

func (s *fakeSource) Donors() ([]model.Donor, error)         { return s.donors, nil }
func (s *fakeSource) Samples() ([]model.Sample, error)       { return s.samples, nil }
func (s *fakeSource) Conditions() ([]model.Condition, error) { return s.conditions, nil }

func mustDonor(t *testing.T, id string, g model.Gender) model.Donor {
	t.Helper()
	birth := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := model.NewDonor(id, g, &birth)
	if err != nil {
		t.Fatalf("NewDonor: %v", err)
	}
	return d
}

func mustSample(t *testing.T, id, donorID string, codes []string, collection string) model.Sample {
	t.Helper()
	s, err := model.NewSample(id, donorID, codes)
	if err != nil {
		t.Fatalf("NewSample: %v", err)
	}
	if collection != "" {
		s.CollectionID = &collection
	}
	return s
}

func testEngine(gw Gateway, src Source) *Engine {
	biobank := model.Biobank{ID: "bb-1", Name: "MMCI"}
	collections := []model.Collection{{ID: "coll:serum", Name: "Serum"}}
	return NewEngine(gw, src, biobank, collections, zerolog.Nop())
}

func TestRun_CreatesEverything(t *testing.T) {
	gw := newFakeGateway()
	src := &fakeSource{
		donors: []model.Donor{mustDonor(t, "donor-1", model.GenderFemale)},
		samples: []model.Sample{
			mustSample(t, "s-1", "donor-1", []string{"C188"}, "coll:serum"),
		},
	}

	summary := testEngine(gw, src).Run(context.Background())

	if !summary.Success {
		t.Fatalf("run failed: %s", summary.ErrorMessage)
	}
	if summary.Biobank.Processed != 1 || summary.Collections.Processed != 1 {
		t.Errorf("biobank/collections = %+v / %+v", summary.Biobank, summary.Collections)
	}
	if summary.Patients.Processed != 1 || summary.Specimens.Processed != 1 {
		t.Errorf("patients/specimens = %+v / %+v", summary.Patients, summary.Specimens)
	}
	if summary.Conditions.Processed != 1 {
		t.Errorf("conditions = %+v", summary.Conditions)
	}
	if got := gw.conditions["Patient/donor-1"]; len(got) != 1 || got[0] != "C18.8" {
		t.Errorf("recorded conditions = %v", got)
	}
	if got := gw.groups["coll:serum"]; len(got) != 1 || got[0] != "Specimen/s-1" {
		t.Errorf("collection members = %v", got)
	}
}

func TestRun_SecondRunSkipsEverything(t *testing.T) {
	gw := newFakeGateway()
	src := &fakeSource{
		donors: []model.Donor{mustDonor(t, "donor-1", model.GenderFemale)},
		samples: []model.Sample{
			mustSample(t, "s-1", "donor-1", []string{"C188"}, "coll:serum"),
		},
	}
	e := testEngine(gw, src)

	e.Run(context.Background())
	second := e.Run(context.Background())

	if !second.Success {
		t.Fatalf("second run failed: %s", second.ErrorMessage)
	}
	if second.TotalProcessed() != 0 {
		t.Errorf("second run processed %d, want 0: %+v", second.TotalProcessed(), second)
	}
	if second.Patients.Skipped != 1 || second.Specimens.Skipped != 1 {
		t.Errorf("second run skips = %+v", second)
	}
	// An unchanged sample triggers no condition traffic at all.
	if second.Conditions != (Counts{}) {
		t.Errorf("second run conditions = %+v, want none", second.Conditions)
	}
	if gw.membershipCalls != 1 {
		t.Errorf("membership calls after two runs = %d, want 1", gw.membershipCalls)
	}
}

func TestRun_UpdatedSampleRefreshesConditionsAndMembership(t *testing.T) {
	gw := newFakeGateway()
	src := &fakeSource{
		donors: []model.Donor{mustDonor(t, "donor-1", model.GenderFemale)},
		samples: []model.Sample{
			mustSample(t, "s-1", "donor-1", []string{"C188"}, "coll:serum"),
		},
	}
	e := testEngine(gw, src)
	e.Run(context.Background())

	src.samples = []model.Sample{
		mustSample(t, "s-1", "donor-1", []string{"C188", "C50"}, "coll:serum"),
	}
	second := e.Run(context.Background())

	if second.Specimens.Processed != 1 {
		t.Errorf("second run specimens = %+v", second.Specimens)
	}
	if second.Conditions.Processed != 1 || second.Conditions.Skipped != 1 {
		t.Errorf("second run conditions = %+v", second.Conditions)
	}
	if got := gw.conditions["Patient/donor-1"]; len(got) != 2 || got[1] != "C50" {
		t.Errorf("recorded codes = %v", got)
	}
	if gw.membershipCalls != 2 {
		t.Errorf("membership calls = %d, want 2", gw.membershipCalls)
	}
}

func TestRun_ChangedDonorIsUpdated(t *testing.T) {
	gw := newFakeGateway()
	src := &fakeSource{donors: []model.Donor{mustDonor(t, "donor-1", model.GenderUnknown)}}
	e := testEngine(gw, src)
	e.Run(context.Background())

	src.donors = []model.Donor{mustDonor(t, "donor-1", model.GenderFemale)}
	summary := e.Run(context.Background())

	if summary.Patients.Processed != 1 || summary.Patients.Skipped != 0 {
		t.Errorf("patients = %+v", summary.Patients)
	}
	if gw.donors["donor-1"].Gender != model.GenderFemale {
		t.Errorf("donor not updated: %+v", gw.donors["donor-1"])
	}
}

func TestRun_BatchesMembershipPerCollection(t *testing.T) {
	gw := newFakeGateway()
	src := &fakeSource{
		donors: []model.Donor{mustDonor(t, "donor-1", model.GenderFemale)},
		samples: []model.Sample{
			mustSample(t, "s-1", "donor-1", nil, "coll:serum"),
			mustSample(t, "s-2", "donor-1", nil, "coll:serum"),
			mustSample(t, "s-3", "donor-1", nil, "coll:serum"),
		},
	}

	testEngine(gw, src).Run(context.Background())

	if gw.membershipCalls != 1 {
		t.Errorf("membership calls = %d, want 1", gw.membershipCalls)
	}
	if got := gw.groups["coll:serum"]; len(got) != 3 {
		t.Errorf("members = %v", got)
	}
}

func TestRun_SkipsSampleOfUnknownDonor(t *testing.T) {
	gw := newFakeGateway()
	src := &fakeSource{
		samples: []model.Sample{
			mustSample(t, "s-1", "ghost", []string{"C50"}, "coll:serum"),
		},
	}

	summary := testEngine(gw, src).Run(context.Background())

	if !summary.Success {
		t.Fatalf("run failed: %s", summary.ErrorMessage)
	}
	if summary.Specimens.Skipped != 1 || summary.Specimens.Processed != 0 {
		t.Errorf("specimens = %+v", summary.Specimens)
	}
	if gw.membershipCalls != 0 {
		t.Errorf("membership calls = %d for skipped sample", gw.membershipCalls)
	}
}

func TestRun_TransportErrorAbortsOnlyCurrentPass(t *testing.T) {
	gw := newFakeGateway()
	gw.failOn = "CreateDonor"
	src := &fakeSource{
		donors: []model.Donor{
			mustDonor(t, "donor-1", model.GenderFemale),
			mustDonor(t, "donor-2", model.GenderMale),
		},
	}

	summary := testEngine(gw, src).Run(context.Background())

	if summary.Success {
		t.Fatal("run with transport failure reported success")
	}
	// One failure for the aborted pass, not one per donor.
	if summary.Patients.Failed != 1 {
		t.Errorf("patients failed = %d, want 1", summary.Patients.Failed)
	}
	// The biobank and collection passes ran before and succeeded.
	if summary.Biobank.Processed != 1 || summary.Collections.Processed != 1 {
		t.Errorf("earlier passes affected: %+v / %+v", summary.Biobank, summary.Collections)
	}
}

func TestRun_ConditionAppendAndSkip(t *testing.T) {
	gw := newFakeGateway()
	src := &fakeSource{
		donors: []model.Donor{mustDonor(t, "donor-1", model.GenderFemale)},
		samples: []model.Sample{
			mustSample(t, "s-1", "donor-1", []string{"C188"}, ""),
			mustSample(t, "s-2", "donor-1", []string{"C188", "C50"}, ""),
		},
	}

	summary := testEngine(gw, src).Run(context.Background())

	// C18.8 created once then skipped, C50 appended.
	if summary.Conditions.Processed != 2 || summary.Conditions.Skipped != 1 {
		t.Errorf("conditions = %+v", summary.Conditions)
	}
	got := gw.conditions["Patient/donor-1"]
	if len(got) != 2 || got[0] != "C18.8" || got[1] != "C50" {
		t.Errorf("recorded codes = %v", got)
	}
}

func TestRunConditions(t *testing.T) {
	gw := newFakeGateway()
	gw.donors["donor-1"] = mustDonor(t, "donor-1", model.GenderFemale)

	observed := time.Date(2019, 5, 4, 0, 0, 0, 0, time.UTC)
	cond, err := model.NewCondition("C188", "donor-1", &observed)
	if err != nil {
		t.Fatalf("NewCondition: %v", err)
	}
	ghost, err := model.NewCondition("C50", "ghost", nil)
	if err != nil {
		t.Fatalf("NewCondition: %v", err)
	}
	src := &fakeSource{conditions: []model.Condition{cond, ghost}}

	summary := testEngine(gw, src).RunConditions(context.Background())

	if !summary.Success {
		t.Fatalf("run failed: %s", summary.ErrorMessage)
	}
	if summary.Conditions.Processed != 1 || summary.Conditions.Skipped != 1 {
		t.Errorf("conditions = %+v", summary.Conditions)
	}
}

type panickySource struct{ fakeSource }

func (s *panickySource) Donors() ([]model.Donor, error) { panic("boom") }

func TestRun_RecoversFromPanic(t *testing.T) {
	gw := newFakeGateway()
	summary := testEngine(gw, &panickySource{}).Run(context.Background())

	if summary.Success {
		t.Fatal("panicked run reported success")
	}
	if summary.ErrorMessage == "" {
		t.Error("panicked run carries no error message")
	}
}
