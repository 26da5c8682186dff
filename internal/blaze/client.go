// Package blaze is the gateway to the remote Blaze FHIR store. It offers the
// narrow contract the sync engine needs: existence checks by business
// identifier, fetch, create, update, delete, and the batched collection
// membership update.
package blaze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"

	fhirconv "github.com/biobanking/blaze-sync/internal/fhir"
	"github.com/biobanking/blaze-sync/internal/model"
)

// FHIR resource type names used by the gateway.
const (
	ResourcePatient      = "Patient"
	ResourceSpecimen     = "Specimen"
	ResourceCondition    = "Condition"
	ResourceOrganization = "Organization"
	ResourceGroup        = "Group"
)

// Client talks to one Blaze base URL. It is safe for concurrent use.
type Client struct {
	base string
	hc   *http.Client
	log  zerolog.Logger
}

// New creates a gateway for the given FHIR base URL (".../fhir").
func New(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, int, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/fhir+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/fhir+json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &TransportError{Op: method + " " + path, Err: err}
	}
	return data, resp.StatusCode, nil
}

func (c *Client) search(ctx context.Context, resourceType string, query url.Values) (fhir.Bundle, error) {
	data, status, err := c.do(ctx, http.MethodGet, "/"+resourceType, query, nil)
	if err != nil {
		return fhir.Bundle{}, err
	}
	if status != http.StatusOK {
		return fhir.Bundle{}, fmt.Errorf("search %s: unexpected status %d", resourceType, status)
	}
	bundle, err := fhir.UnmarshalBundle(data)
	if err != nil {
		return fhir.Bundle{}, fmt.Errorf("search %s: decode bundle: %w", resourceType, err)
	}
	return bundle, nil
}

// Exists reports whether a resource of the given type with the given
// business identifier is present on the store.
func (c *Client) Exists(ctx context.Context, resourceType, identifier string) (bool, error) {
	bundle, err := c.search(ctx, resourceType, url.Values{
		"identifier": {identifier},
		"_summary":   {"count"},
	})
	if err != nil {
		return false, err
	}
	return bundle.Total != nil && *bundle.Total > 0, nil
}

// firstResource returns the raw resource of the bundle's first entry.
func firstResource(bundle fhir.Bundle) (json.RawMessage, bool) {
	for _, entry := range bundle.Entry {
		if len(entry.Resource) > 0 {
			return entry.Resource, true
		}
	}
	return nil, false
}

func resourceID(raw json.RawMessage) (string, error) {
	var probe struct {
		Id *string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", err
	}
	if probe.Id == nil || *probe.Id == "" {
		return "", fmt.Errorf("resource carries no id")
	}
	return *probe.Id, nil
}

// fhirID resolves a business identifier to the store's technical resource id.
func (c *Client) fhirID(ctx context.Context, resourceType, identifier string) (string, error) {
	bundle, err := c.search(ctx, resourceType, url.Values{"identifier": {identifier}})
	if err != nil {
		return "", err
	}
	raw, ok := firstResource(bundle)
	if !ok {
		return "", fmt.Errorf("%s %q: %w", resourceType, identifier, ErrNotFound)
	}
	return resourceID(raw)
}

func (c *Client) create(ctx context.Context, resourceType string, resource any) (string, error) {
	data, status, err := c.do(ctx, http.MethodPost, "/"+resourceType, nil, resource)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", fmt.Errorf("create %s: unexpected status %d: %s", resourceType, status, truncate(data))
	}
	return resourceID(data)
}

func (c *Client) update(ctx context.Context, resourceType, id string, resource any) (string, error) {
	data, status, err := c.do(ctx, http.MethodPut, "/"+resourceType+"/"+id, nil, resource)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("update %s/%s: unexpected status %d: %s", resourceType, id, status, truncate(data))
	}
	return id, nil
}

func truncate(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// ---------------------------------------------------------------------------
// Donors
// ---------------------------------------------------------------------------

// CreateDonor uploads a new Patient resource.
func (c *Client) CreateDonor(ctx context.Context, d model.Donor) (string, error) {
	return c.create(ctx, ResourcePatient, fhirconv.Patient(d))
}

// Donor fetches and reconstructs the donor with the given identifier.
func (c *Client) Donor(ctx context.Context, donorID string) (model.Donor, error) {
	bundle, err := c.search(ctx, ResourcePatient, url.Values{"identifier": {donorID}})
	if err != nil {
		return model.Donor{}, err
	}
	raw, ok := firstResource(bundle)
	if !ok {
		return model.Donor{}, fmt.Errorf("donor %q: %w", donorID, ErrNotFound)
	}
	patient, err := fhir.UnmarshalPatient(raw)
	if err != nil {
		return model.Donor{}, fmt.Errorf("donor %q: decode: %w", donorID, err)
	}
	return fhirconv.DonorFromPatient(patient)
}

// UpdateDonor replaces the remote Patient resource for the donor.
func (c *Client) UpdateDonor(ctx context.Context, d model.Donor) (string, error) {
	id, err := c.fhirID(ctx, ResourcePatient, d.ID)
	if err != nil {
		return "", err
	}
	patient := fhirconv.Patient(d)
	patient.Id = &id
	return c.update(ctx, ResourcePatient, id, patient)
}

// PatientRef resolves a donor identifier to its remote reference
// ("Patient/<id>").
func (c *Client) PatientRef(ctx context.Context, donorID string) (string, error) {
	id, err := c.fhirID(ctx, ResourcePatient, donorID)
	if err != nil {
		return "", err
	}
	return ResourcePatient + "/" + id, nil
}

// ---------------------------------------------------------------------------
// Samples
// ---------------------------------------------------------------------------

// CreateSample uploads a new Specimen resource referencing the donor.
func (c *Client) CreateSample(ctx context.Context, s model.Sample, patientRef string) (string, error) {
	return c.create(ctx, ResourceSpecimen, fhirconv.Specimen(s, patientRef))
}

// Sample fetches and reconstructs the sample with the given identifier.
func (c *Client) Sample(ctx context.Context, sampleID string) (model.Sample, error) {
	bundle, err := c.search(ctx, ResourceSpecimen, url.Values{"identifier": {sampleID}})
	if err != nil {
		return model.Sample{}, err
	}
	raw, ok := firstResource(bundle)
	if !ok {
		return model.Sample{}, fmt.Errorf("sample %q: %w", sampleID, ErrNotFound)
	}
	specimen, err := fhir.UnmarshalSpecimen(raw)
	if err != nil {
		return model.Sample{}, fmt.Errorf("sample %q: decode: %w", sampleID, err)
	}
	return fhirconv.SampleFromSpecimen(specimen)
}

// UpdateSample replaces the remote Specimen resource for the sample.
func (c *Client) UpdateSample(ctx context.Context, s model.Sample, patientRef string) (string, error) {
	id, err := c.fhirID(ctx, ResourceSpecimen, s.ID)
	if err != nil {
		return "", err
	}
	specimen := fhirconv.Specimen(s, patientRef)
	specimen.Id = &id
	return c.update(ctx, ResourceSpecimen, id, specimen)
}

// SpecimenRef resolves a sample identifier to its remote reference.
func (c *Client) SpecimenRef(ctx context.Context, sampleID string) (string, error) {
	id, err := c.fhirID(ctx, ResourceSpecimen, sampleID)
	if err != nil {
		return "", err
	}
	return ResourceSpecimen + "/" + id, nil
}

// ---------------------------------------------------------------------------
// Conditions
// ---------------------------------------------------------------------------

func (c *Client) conditionForSubject(ctx context.Context, patientRef string) (fhir.Condition, bool, error) {
	bundle, err := c.search(ctx, ResourceCondition, url.Values{"subject": {patientRef}})
	if err != nil {
		return fhir.Condition{}, false, err
	}
	raw, ok := firstResource(bundle)
	if !ok {
		return fhir.Condition{}, false, nil
	}
	cond, err := fhir.UnmarshalCondition(raw)
	if err != nil {
		return fhir.Condition{}, false, fmt.Errorf("condition for %s: decode: %w", patientRef, err)
	}
	return cond, true, nil
}

// ConditionCodes returns the diagnosis codes already recorded for the
// subject, and whether a condition resource exists at all. Conditions are
// keyed by subject, not by their own identifier, because a donor accumulates
// diagnoses in one additive resource.
func (c *Client) ConditionCodes(ctx context.Context, patientRef string) ([]string, bool, error) {
	cond, found, err := c.conditionForSubject(ctx, patientRef)
	if err != nil || !found {
		return nil, false, err
	}
	return fhirconv.ConditionCodes(cond), true, nil
}

// CreateCondition uploads the subject's first Condition resource.
func (c *Client) CreateCondition(ctx context.Context, cond model.Condition, patientRef string) (string, error) {
	return c.create(ctx, ResourceCondition, fhirconv.ConditionResource(cond, patientRef))
}

// AppendDiagnosis adds a diagnosis code to the subject's existing condition
// resource. Appending a code that is already recorded is a no-op.
func (c *Client) AppendDiagnosis(ctx context.Context, cond model.Condition, patientRef string) error {
	remote, found, err := c.conditionForSubject(ctx, patientRef)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("condition for %s: %w", patientRef, ErrNotFound)
	}
	for _, code := range fhirconv.ConditionCodes(remote) {
		if code == cond.Code {
			return nil
		}
	}
	fhirconv.AppendConditionCode(&remote, cond.Code)
	if remote.Id == nil {
		return fmt.Errorf("condition for %s carries no id", patientRef)
	}
	_, err = c.update(ctx, ResourceCondition, *remote.Id, remote)
	return err
}

// ---------------------------------------------------------------------------
// Biobank and collections
// ---------------------------------------------------------------------------

// CreateBiobank uploads the deployment's Organization resource.
func (c *Client) CreateBiobank(ctx context.Context, b model.Biobank) (string, error) {
	return c.create(ctx, ResourceOrganization, fhirconv.Organization(b))
}

// CreateCollection uploads a collection as an empty Group resource.
func (c *Client) CreateCollection(ctx context.Context, coll model.Collection) (string, error) {
	return c.create(ctx, ResourceGroup, fhirconv.CollectionGroup(coll))
}

// AddSamplesToCollection appends the given specimen references to the
// collection's Group in one update call.
func (c *Client) AddSamplesToCollection(ctx context.Context, collectionID string, specimenRefs []string) error {
	bundle, err := c.search(ctx, ResourceGroup, url.Values{"identifier": {collectionID}})
	if err != nil {
		return err
	}
	raw, ok := firstResource(bundle)
	if !ok {
		return fmt.Errorf("collection %q: %w", collectionID, ErrNotFound)
	}
	group, err := fhir.UnmarshalGroup(raw)
	if err != nil {
		return fmt.Errorf("collection %q: decode: %w", collectionID, err)
	}
	if added := fhirconv.AddGroupMembers(&group, specimenRefs); added == 0 {
		return nil
	}
	if group.Id == nil {
		return fmt.Errorf("collection %q carries no id", collectionID)
	}
	_, err = c.update(ctx, ResourceGroup, *group.Id, group)
	return err
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// deleteOrder removes dependents before the resources they reference.
var deleteOrder = []string{ResourceSpecimen, ResourceCondition, ResourcePatient, ResourceGroup, ResourceOrganization}

// DeleteEverything removes every resource of the five managed types from the
// store, page by page.
func (c *Client) DeleteEverything(ctx context.Context) error {
	for _, resourceType := range deleteOrder {
		for {
			bundle, err := c.search(ctx, resourceType, url.Values{"_count": {"100"}})
			if err != nil {
				return err
			}
			deleted := 0
			for _, entry := range bundle.Entry {
				if len(entry.Resource) == 0 {
					continue
				}
				id, err := resourceID(entry.Resource)
				if err != nil {
					return fmt.Errorf("delete %s: %w", resourceType, err)
				}
				_, status, err := c.do(ctx, http.MethodDelete, "/"+resourceType+"/"+id, nil, nil)
				if err != nil {
					return err
				}
				if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
					return fmt.Errorf("delete %s/%s: unexpected status %d", resourceType, id, status)
				}
				deleted++
			}
			if deleted == 0 {
				break
			}
		}
		c.log.Info().Str("resource", resourceType).Msg("deleted all resources")
	}
	return nil
}

// Ping checks whether the store currently answers its metadata endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, status, err := c.do(ctx, http.MethodGet, "/metadata", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("metadata returned status %d", status)
	}
	return nil
}

// WaitUntilAvailable polls the store's metadata endpoint with exponential
// backoff until it answers, the attempts are exhausted, or the context ends.
func (c *Client) WaitUntilAvailable(ctx context.Context, attempts int) error {
	delay := time.Second
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = c.Ping(ctx)
		if lastErr == nil {
			return nil
		}
		c.log.Warn().Err(lastErr).Int("attempt", i+1).Msg("blaze not available yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	return fmt.Errorf("blaze not available after %d attempts: %w", attempts, lastErr)
}
