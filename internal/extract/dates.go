package extract

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
)

var errEmptyDate = errors.New("empty date")

var (
	yearOnly      = regexp.MustCompile(`^\d{4}$`)
	yearMonthOnly = regexp.MustCompile(`^\d{4}-\d{1,2}$`)
)

// parseDate parses a date of unknown format. Truncated values default the
// missing granularity to 1 (a bare year becomes January 1st); anything that
// parses has its time of day zeroed, because the domain carries date-only
// semantics.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errEmptyDate
	}
	if yearOnly.MatchString(raw) {
		y, _ := strconv.Atoi(raw)
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	}
	if yearMonthOnly.MatchString(raw) {
		t, err := time.Parse("2006-1", raw)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
