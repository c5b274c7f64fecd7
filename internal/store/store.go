package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store persists the catalog of generated logs and the batch run history.
type Store interface {
	// Log catalog, one entry per YYYYMMDD date.
	SaveLog(entry *LogEntry) error
	GetLog(date string) (*LogEntry, error)
	DeleteLog(date string) error
	// ListLogs returns entries with from <= date <= to in date order. An
	// empty bound is open.
	ListLogs(from, to string) ([]*LogEntry, error)

	// Batch runs.
	SaveRun(run *BatchRun) error
	LastRun() (*BatchRun, error)
	// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
	ListRuns(limit int) ([]*BatchRun, error)

	Close() error
}
