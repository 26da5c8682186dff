package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/biobanking/blaze-sync/internal/mapping"
	"github.com/biobanking/blaze-sync/internal/model"
)

// Supported source formats.
const (
	FormatCSV  = "csv"
	FormatXML  = "xml"
	FormatJSON = "json"
)

// ErrUnknownFormat is returned for a source format outside csv/xml/json.
var ErrUnknownFormat = errors.New("unknown source format")

var errNoDiagnosis = errors.New("no valid diagnosis remains")

// diagnosisPolicy decides what happens to the extracted diagnosis codes of a
// sample record. The standardized CSV/XML exports carry one diagnosis per
// sample, so only the first match is kept and a record without one is still
// a sample; the unstandardized JSON export keeps every match and a record
// without any valid code fails construction.
type diagnosisPolicy int

const (
	diagnosisFirst diagnosisPolicy = iota
	diagnosisAll
)

// Extractor turns the files of one input directory into domain entities.
// Each entry point rereads the directory and yields a fresh finite sequence;
// nothing is consumed across calls. Files are visited in sorted filename
// order so first-occurrence-wins deduplication is deterministic.
type Extractor struct {
	dir     string
	reader  recordReader
	pm      *mapping.ParsingMap
	lookups mapping.Lookups
	policy  diagnosisPolicy
	log     zerolog.Logger
}

// New builds an extractor for the given source format.
func New(format, dir string, pm *mapping.ParsingMap, lookups mapping.Lookups, log zerolog.Logger) (*Extractor, error) {
	e := &Extractor{dir: dir, pm: pm, lookups: lookups, log: log}
	switch strings.ToLower(format) {
	case FormatCSV:
		e.reader = csvReader{}
		e.policy = diagnosisFirst
	case FormatXML:
		e.reader = xmlReader{}
		e.policy = diagnosisFirst
	case FormatJSON:
		e.reader = jsonReader{}
		e.policy = diagnosisAll
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return e, nil
}

// files lists the directory's matching files in sorted order.
func (e *Extractor) files() ([]string, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), e.reader.ext()) {
			paths = append(paths, filepath.Join(e.dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// each walks every record of every matching file. A file that fails to parse
// is logged and skipped without aborting its siblings.
func (e *Extractor) each(fn func(Record)) error {
	paths, err := e.files()
	if err != nil {
		return err
	}
	for _, path := range paths {
		records, err := e.reader.readFile(path)
		if err != nil {
			e.log.Error().Err(err).Str("file", path).Msg("skipping unreadable input file")
			continue
		}
		for _, rec := range records {
			fn(rec)
		}
	}
	return nil
}

// Probe returns a field probe built from the first record of the first
// matching file, used to validate the parsing map against real data.
func (e *Extractor) Probe() (mapping.FieldProbe, error) {
	paths, err := e.files()
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		records, err := e.reader.readFile(path)
		if err != nil || len(records) == 0 {
			continue
		}
		return records[0], nil
	}
	return nil, fmt.Errorf("no readable %s records under %s", e.reader.ext(), e.dir)
}

// ValidateMapping checks the configured field paths against a representative
// record so schema drift surfaces at startup instead of mid-run. Only XML
// exports carry a fixed document structure worth checking up front; CSV and
// JSON records vary per row and degrade gracefully during extraction.
func (e *Extractor) ValidateMapping() error {
	if _, ok := e.reader.(xmlReader); !ok {
		return nil
	}
	probe, err := e.Probe()
	if err != nil {
		e.log.Warn().Err(err).Msg("no input data yet, skipping parsing map data check")
		return nil
	}
	return e.pm.ValidateAgainstData(probe)
}

// Donors extracts all donors. Duplicate identifiers are dropped, first
// occurrence wins; a record that fails construction is logged and skipped.
func (e *Extractor) Donors() ([]model.Donor, error) {
	seen := map[string]bool{}
	var donors []model.Donor
	err := e.each(func(rec Record) {
		donor, err := e.buildDonor(rec)
		if err != nil {
			e.log.Debug().Err(err).Msg("skipping donor record")
			return
		}
		if seen[donor.ID] {
			return
		}
		seen[donor.ID] = true
		donors = append(donors, donor)
	})
	if err != nil {
		return nil, err
	}
	return donors, nil
}

// Samples extracts all samples.
func (e *Extractor) Samples() ([]model.Sample, error) {
	var samples []model.Sample
	err := e.each(func(rec Record) {
		sample, err := e.buildSample(rec)
		if err != nil {
			e.log.Debug().Err(err).Msg("skipping sample record")
			return
		}
		samples = append(samples, sample)
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// Conditions extracts all conditions.
func (e *Extractor) Conditions() ([]model.Condition, error) {
	var conditions []model.Condition
	err := e.each(func(rec Record) {
		cond, err := e.buildCondition(rec)
		if err != nil {
			e.log.Debug().Err(err).Msg("skipping condition record")
			return
		}
		conditions = append(conditions, cond)
	})
	if err != nil {
		return nil, err
	}
	return conditions, nil
}

func (e *Extractor) buildDonor(rec Record) (model.Donor, error) {
	id := rec.Get(e.pm.Donor.ID)
	if id == "" {
		return model.Donor{}, fmt.Errorf("donor: %w", model.ErrMissingIdentifier)
	}
	gender := model.ResolveGender(rec.Get(e.pm.Donor.Gender))

	var birthDate *time.Time
	if raw := rec.Get(e.pm.Donor.BirthDate); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			// An unparsable birth date rejects the whole donor record.
			return model.Donor{}, fmt.Errorf("donor %s: birth date %q: %w", id, raw, err)
		}
		birthDate = &t
	}
	return model.NewDonor(id, gender, birthDate)
}

func (e *Extractor) buildSample(rec Record) (model.Sample, error) {
	details := e.pm.Sample.Details
	id := rec.Get(details.ID)
	donorID := rec.Get(e.pm.Sample.DonorID)

	codes := model.ExtractDiagnoses(rec.Get(details.Diagnosis))
	switch e.policy {
	case diagnosisFirst:
		if len(codes) > 1 {
			codes = codes[:1]
		}
	case diagnosisAll:
		if len(codes) == 0 {
			return model.Sample{}, fmt.Errorf("sample %s: %w", id, errNoDiagnosis)
		}
	}

	sample, err := model.NewSample(id, donorID, codes)
	if err != nil {
		return model.Sample{}, err
	}

	if code := rec.Get(details.MaterialType); code != "" {
		sample.MaterialType = e.lookups.Material(code)
		if sample.MaterialType == nil {
			e.log.Debug().Str("sample", id).Str("code", code).Msg("unresolvable material type")
		}
	}

	if details.StorageTemperature != "" {
		code := rec.Get(details.StorageTemperature)
		sample.StorageTemperature = model.ResolveStorageTemperature(code, e.lookups.StorageTemperature)
		if code != "" && sample.StorageTemperature == nil {
			e.log.Debug().Str("sample", id).Str("code", code).Msg("unresolvable storage temperature")
		}
	}

	if details.SamplingDate != "" {
		if raw := rec.Get(details.SamplingDate); raw != "" {
			if t, err := parseDate(raw); err == nil {
				sample.CollectedAt = &t
			} else {
				e.log.Debug().Str("sample", id).Str("date", raw).Msg("unparsable sampling date, keeping record")
			}
		}
	}

	if details.Collection != "" {
		if collID, ok := e.lookups.CollectionFor(rec.Get(details.Collection)); ok {
			sample.CollectionID = &collID
		}
	}

	return sample, nil
}

func (e *Extractor) buildCondition(rec Record) (model.Condition, error) {
	subjectID := rec.Get(e.pm.Condition.PatientID)

	codes := model.ExtractDiagnoses(rec.Get(e.pm.Condition.Code))
	if len(codes) == 0 {
		return model.Condition{}, fmt.Errorf("condition for %s: %w", subjectID, errNoDiagnosis)
	}

	var observed *time.Time
	if e.pm.Condition.DiagnosisDate != "" {
		if raw := rec.Get(e.pm.Condition.DiagnosisDate); raw != "" {
			if t, err := parseDate(raw); err == nil {
				observed = &t
			} else {
				e.log.Debug().Str("subject", subjectID).Str("date", raw).Msg("unparsable diagnosis date, keeping record")
			}
		}
	}

	return model.NewCondition(codes[0], subjectID, observed)
}
