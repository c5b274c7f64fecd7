package daylog

import (
	"fmt"
	"strings"
	"time"

	"thermolog/internal/tlog"
)

// DateLayout is the compact date used in file names and API queries.
const DateLayout = "20060102"

// FileName returns log_YYYYMMDD.bin for date.
func FileName(date time.Time) string {
	return "log_" + date.Format(DateLayout) + ".bin"
}

// ParseFileName extracts the date from a log file name.
func ParseFileName(name string) (time.Time, error) {
	if !strings.HasPrefix(name, "log_") || !strings.HasSuffix(name, ".bin") {
		return time.Time{}, fmt.Errorf("daylog: %q is not a log file name", name)
	}
	return ParseDate(strings.TrimSuffix(strings.TrimPrefix(name, "log_"), ".bin"))
}

// ParseDate parses a YYYYMMDD string.
func ParseDate(s string) (time.Time, error) {
	if len(s) != len(DateLayout) {
		return time.Time{}, fmt.Errorf("daylog: date %q: want YYYYMMDD", s)
	}
	d, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("daylog: date %q: %w", s, err)
	}
	return d, nil
}

// Size returns the byte length of a full day log for version v.
func Size(v tlog.Version) int {
	return v.FileSize(tlog.SamplesPerDay)
}
