package store

import (
	"time"

	"thermolog/internal/tlog"
)

// LogEntry describes one generated day log file.
type LogEntry struct {
	Date         string        `json:"date"` // YYYYMMDD
	RunID        string        `json:"run_id"`
	Path         string        `json:"path"`
	Size         int64         `json:"size"`
	Version      uint8         `json:"version"`
	Samples      int           `json:"samples"`
	Partial      bool          `json:"partial"`
	ValidStart   int           `json:"valid_start,omitempty"` // minute of day
	ValidEnd     int           `json:"valid_end,omitempty"`
	PressureBase float64       `json:"pressure_base,omitempty"`
	Scenario     string        `json:"scenario,omitempty"`
	Stats        tlog.DayStats `json:"stats"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

// BatchRun records the outcome of the last batch.
type BatchRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Days       int       `json:"days"`
	Failed     []string  `json:"failed,omitempty"`
}
