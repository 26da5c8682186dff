// Package sync reconciles the extracted domain entities with the remote FHIR
// store. Every pass is idempotent: entities already present and structurally
// equal are skipped, changed ones are updated in place, missing ones are
// created. A second run over unchanged inputs uploads nothing.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/biobanking/blaze-sync/internal/blaze"
	"github.com/biobanking/blaze-sync/internal/model"
)

// Gateway is the remote store surface the engine needs. *blaze.Client
// implements it.
type Gateway interface {
	Exists(ctx context.Context, resourceType, identifier string) (bool, error)

	CreateBiobank(ctx context.Context, b model.Biobank) (string, error)
	CreateCollection(ctx context.Context, c model.Collection) (string, error)

	CreateDonor(ctx context.Context, d model.Donor) (string, error)
	Donor(ctx context.Context, donorID string) (model.Donor, error)
	UpdateDonor(ctx context.Context, d model.Donor) (string, error)
	PatientRef(ctx context.Context, donorID string) (string, error)

	CreateSample(ctx context.Context, s model.Sample, patientRef string) (string, error)
	Sample(ctx context.Context, sampleID string) (model.Sample, error)
	UpdateSample(ctx context.Context, s model.Sample, patientRef string) (string, error)
	SpecimenRef(ctx context.Context, sampleID string) (string, error)

	ConditionCodes(ctx context.Context, patientRef string) ([]string, bool, error)
	CreateCondition(ctx context.Context, c model.Condition, patientRef string) (string, error)
	AppendDiagnosis(ctx context.Context, c model.Condition, patientRef string) error

	AddSamplesToCollection(ctx context.Context, collectionID string, specimenRefs []string) error

	DeleteEverything(ctx context.Context) error
}

// Source yields the extracted entities. Each call rereads the inputs and
// returns a fresh slice. *extract.Extractor implements it.
type Source interface {
	Donors() ([]model.Donor, error)
	Samples() ([]model.Sample, error)
	Conditions() ([]model.Condition, error)
}

// Engine runs sync passes against one deployment's biobank and collections.
type Engine struct {
	gw          Gateway
	src         Source
	biobank     model.Biobank
	collections []model.Collection
	log         zerolog.Logger
}

// NewEngine wires a sync engine.
func NewEngine(gw Gateway, src Source, biobank model.Biobank, collections []model.Collection, log zerolog.Logger) *Engine {
	return &Engine{gw: gw, src: src, biobank: biobank, collections: collections, log: log}
}

// errAbortPass signals that the rest of the current entity type's pass is
// pointless because the store is unreachable. The next pass still starts.
var errAbortPass = errors.New("pass aborted")

// Run performs a full sync: biobank, collections, donors, then samples with
// their diagnoses interleaved. It never panics outward; an escaped panic is
// converted into an unsuccessful summary.
func (e *Engine) Run(ctx context.Context) (summary Summary) {
	summary.Timestamp = time.Now().UTC()
	summary.Success = true

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("sync run panicked")
			summary.Success = false
			summary.ErrorMessage = fmt.Sprintf("panic: %v", r)
		}
	}()

	e.runBiobank(ctx, &summary)
	e.runCollections(ctx, &summary)
	e.runDonors(ctx, &summary)
	e.runSamples(ctx, &summary)

	if summary.TotalFailed() > 0 {
		summary.Success = false
	}
	e.log.Info().
		Int("processed", summary.TotalProcessed()).
		Int("failed", summary.TotalFailed()).
		Bool("success", summary.Success).
		Msg("sync run finished")
	return summary
}

// RunConditions performs the standalone condition pass over condition-shaped
// input records, outside a full run.
func (e *Engine) RunConditions(ctx context.Context) (summary Summary) {
	summary.Timestamp = time.Now().UTC()
	summary.Success = true

	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("condition run panicked")
			summary.Success = false
			summary.ErrorMessage = fmt.Sprintf("panic: %v", r)
		}
	}()

	conditions, err := e.src.Conditions()
	if err != nil {
		summary.Success = false
		summary.ErrorMessage = err.Error()
		return summary
	}

	for _, cond := range conditions {
		if err := e.upsertCondition(ctx, cond, &summary.Conditions); err != nil {
			break
		}
	}
	if summary.Conditions.Failed > 0 {
		summary.Success = false
	}
	return summary
}

func (e *Engine) runBiobank(ctx context.Context, summary *Summary) {
	if e.biobank.ID == "" {
		return
	}
	found, err := e.gw.Exists(ctx, blaze.ResourceOrganization, e.biobank.ID)
	if err != nil {
		e.failEntity(&summary.Biobank, "biobank", e.biobank.ID, err)
		return
	}
	if found {
		summary.Biobank.Skipped++
		return
	}
	if _, err := e.gw.CreateBiobank(ctx, e.biobank); err != nil {
		e.failEntity(&summary.Biobank, "biobank", e.biobank.ID, err)
		return
	}
	summary.Biobank.Processed++
}

func (e *Engine) runCollections(ctx context.Context, summary *Summary) {
	for _, coll := range e.collections {
		found, err := e.gw.Exists(ctx, blaze.ResourceGroup, coll.ID)
		if err != nil {
			if e.failEntity(&summary.Collections, "collection", coll.ID, err) {
				return
			}
			continue
		}
		if found {
			summary.Collections.Skipped++
			continue
		}
		if _, err := e.gw.CreateCollection(ctx, coll); err != nil {
			if e.failEntity(&summary.Collections, "collection", coll.ID, err) {
				return
			}
			continue
		}
		summary.Collections.Processed++
	}
}

func (e *Engine) runDonors(ctx context.Context, summary *Summary) {
	donors, err := e.src.Donors()
	if err != nil {
		e.log.Error().Err(err).Msg("donor extraction failed")
		summary.Patients.Failed++
		return
	}
	for _, donor := range donors {
		if err := e.syncDonor(ctx, donor, &summary.Patients); errors.Is(err, errAbortPass) {
			return
		}
	}
}

func (e *Engine) syncDonor(ctx context.Context, donor model.Donor, counts *Counts) error {
	found, err := e.gw.Exists(ctx, blaze.ResourcePatient, donor.ID)
	if err != nil {
		return e.fail(counts, "donor", donor.ID, err)
	}
	if !found {
		if _, err := e.gw.CreateDonor(ctx, donor); err != nil {
			return e.fail(counts, "donor", donor.ID, err)
		}
		counts.Processed++
		return nil
	}

	remote, err := e.gw.Donor(ctx, donor.ID)
	if err != nil {
		return e.fail(counts, "donor", donor.ID, err)
	}
	if donor.Equal(remote) {
		counts.Skipped++
		return nil
	}
	if _, err := e.gw.UpdateDonor(ctx, donor); err != nil {
		return e.fail(counts, "donor", donor.ID, err)
	}
	counts.Processed++
	return nil
}

func (e *Engine) runSamples(ctx context.Context, summary *Summary) {
	samples, err := e.src.Samples()
	if err != nil {
		e.log.Error().Err(err).Msg("sample extraction failed")
		summary.Specimens.Failed++
		return
	}

	// Collection membership is batched: specimen references accumulate here
	// and each collection's Group is updated exactly once at the end.
	membership := map[string][]string{}

	for _, smp := range samples {
		if err := e.syncSample(ctx, smp, summary, membership); errors.Is(err, errAbortPass) {
			return
		}
	}

	collectionIDs := make([]string, 0, len(membership))
	for id := range membership {
		collectionIDs = append(collectionIDs, id)
	}
	sort.Strings(collectionIDs)
	for _, id := range collectionIDs {
		if err := e.gw.AddSamplesToCollection(ctx, id, membership[id]); err != nil {
			if e.failEntity(&summary.Collections, "collection membership", id, err) {
				return
			}
		}
	}
}

func (e *Engine) syncSample(ctx context.Context, smp model.Sample, summary *Summary, membership map[string][]string) error {
	patientRef, err := e.gw.PatientRef(ctx, smp.DonorID)
	if err != nil {
		if errors.Is(err, blaze.ErrNotFound) {
			// The sample names a donor that never made it to the store.
			e.log.Warn().Str("sample", smp.ID).Str("donor", smp.DonorID).Msg("skipping sample of unresolvable donor")
			summary.Specimens.Skipped++
			return nil
		}
		return e.fail(&summary.Specimens, "sample", smp.ID, err)
	}

	found, err := e.gw.Exists(ctx, blaze.ResourceSpecimen, smp.ID)
	if err != nil {
		return e.fail(&summary.Specimens, "sample", smp.ID, err)
	}

	if !found {
		if _, err := e.gw.CreateSample(ctx, smp, patientRef); err != nil {
			return e.fail(&summary.Specimens, "sample", smp.ID, err)
		}
		summary.Specimens.Processed++
	} else {
		remote, err := e.gw.Sample(ctx, smp.ID)
		if err != nil {
			return e.fail(&summary.Specimens, "sample", smp.ID, err)
		}
		if smp.Equal(remote) {
			// An identical sample needs no further calls: its diagnoses and
			// collection membership were recorded when it was first uploaded.
			summary.Specimens.Skipped++
			return nil
		}
		if _, err := e.gw.UpdateSample(ctx, smp, patientRef); err != nil {
			return e.fail(&summary.Specimens, "sample", smp.ID, err)
		}
		summary.Specimens.Processed++
	}

	// The sample's diagnoses double as the donor's condition record.
	for _, code := range smp.Diagnoses {
		cond, err := model.NewCondition(code, smp.DonorID, smp.CollectedAt)
		if err != nil {
			e.failEntity(&summary.Conditions, "condition", code, err)
			continue
		}
		if err := e.upsertCondition(ctx, cond, &summary.Conditions); err != nil {
			return err
		}
	}

	if smp.CollectionID != nil {
		ref, err := e.gw.SpecimenRef(ctx, smp.ID)
		if err != nil {
			return e.fail(&summary.Specimens, "sample", smp.ID, err)
		}
		membership[*smp.CollectionID] = append(membership[*smp.CollectionID], ref)
	}
	return nil
}

// upsertCondition records one diagnosis for one subject. Conditions are
// additive per subject: the first diagnosis creates the resource, later ones
// extend its coding list, and an already-recorded code is skipped.
func (e *Engine) upsertCondition(ctx context.Context, cond model.Condition, counts *Counts) error {
	patientRef, err := e.gw.PatientRef(ctx, cond.SubjectID)
	if err != nil {
		if errors.Is(err, blaze.ErrNotFound) {
			e.log.Warn().Str("subject", cond.SubjectID).Str("code", cond.Code).Msg("skipping condition of unresolvable donor")
			counts.Skipped++
			return nil
		}
		return e.fail(counts, "condition", cond.Code, err)
	}

	codes, found, err := e.gw.ConditionCodes(ctx, patientRef)
	if err != nil {
		return e.fail(counts, "condition", cond.Code, err)
	}
	if !found {
		if _, err := e.gw.CreateCondition(ctx, cond, patientRef); err != nil {
			return e.fail(counts, "condition", cond.Code, err)
		}
		counts.Processed++
		return nil
	}
	for _, existing := range codes {
		if existing == cond.Code {
			counts.Skipped++
			return nil
		}
	}
	if err := e.gw.AppendDiagnosis(ctx, cond, patientRef); err != nil {
		return e.fail(counts, "condition", cond.Code, err)
	}
	counts.Processed++
	return nil
}

// fail records a per-entity failure and decides whether the pass continues.
// A transport error means every further call of this pass would fail the
// same way, so the pass is aborted with a single failure count.
func (e *Engine) fail(counts *Counts, entity, id string, err error) error {
	counts.Failed++
	e.log.Error().Err(err).Str(entity, id).Msgf("%s sync failed", entity)
	if blaze.IsTransport(err) {
		return errAbortPass
	}
	return nil
}

// failEntity is fail for call sites that branch on the abort decision inline.
func (e *Engine) failEntity(counts *Counts, entity, id string, err error) bool {
	return errors.Is(e.fail(counts, entity, id, err), errAbortPass)
}
