package sync

import "time"

// Counts tallies the outcomes of one entity type's pass.
type Counts struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summary is the result of one sync run, returned to callers and persisted
// in the run history.
type Summary struct {
	Biobank      Counts    `json:"biobank"`
	Collections  Counts    `json:"collections"`
	Patients     Counts    `json:"patients"`
	Specimens    Counts    `json:"specimens"`
	Conditions   Counts    `json:"conditions"`
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func (s Summary) total(f func(Counts) int) int {
	return f(s.Biobank) + f(s.Collections) + f(s.Patients) + f(s.Specimens) + f(s.Conditions)
}

// TotalProcessed sums uploads and updates across all entity types.
func (s Summary) TotalProcessed() int { return s.total(func(c Counts) int { return c.Processed }) }

// TotalFailed sums failures across all entity types.
func (s Summary) TotalFailed() int { return s.total(func(c Counts) int { return c.Failed }) }
