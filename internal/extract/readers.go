package extract

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clbanning/mxj/v2"
)

// recordReader is the per-format raw-reading strategy. A reader returns an
// error only when the whole file is unusable; the caller skips such files
// and moves on to their siblings.
type recordReader interface {
	ext() string
	readFile(path string) ([]Record, error)
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

type csvReader struct{}

func (csvReader) ext() string { return ".csv" }

func (csvReader) readFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) < 1 {
		return nil, nil
	}

	header := rows[0]
	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := flatRecord{}
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// ---------------------------------------------------------------------------
// XML
// ---------------------------------------------------------------------------

type xmlReader struct{}

func (xmlReader) ext() string { return ".xml" }

func (xmlReader) readFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := mxj.NewMapXml(data)
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	return splitXMLRecords(map[string]any(m)), nil
}

// splitXMLRecords locates the record elements inside a decoded document. The
// document root wraps either a repeated record element or a single record;
// field paths in the parsing map are relative to the record element.
func splitXMLRecords(doc map[string]any) []Record {
	var records []Record
	for _, rootVal := range doc {
		root, ok := rootVal.(map[string]any)
		if !ok {
			continue
		}
		for _, child := range root {
			switch v := child.(type) {
			case []any:
				for _, el := range v {
					if m, ok := el.(map[string]any); ok {
						records = append(records, treeRecord(m))
					}
				}
			case map[string]any:
				records = append(records, treeRecord(v))
			}
		}
		if len(records) == 0 {
			// Flat document: the root element itself is the record.
			records = append(records, treeRecord(root))
		}
	}
	return records
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

type jsonReader struct{}

func (jsonReader) ext() string { return ".json" }

func (jsonReader) readFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	switch v := decoded.(type) {
	case []any:
		records := make([]Record, 0, len(v))
		for _, el := range v {
			if m, ok := el.(map[string]any); ok {
				records = append(records, treeRecord(m))
			}
		}
		return records, nil
	case map[string]any:
		return []Record{treeRecord(v)}, nil
	default:
		return nil, fmt.Errorf("json document is neither an object nor an array")
	}
}
