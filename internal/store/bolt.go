package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketLogs = []byte("logs")
	bucketRuns = []byte("runs")
)

// runKeyLayout is fixed width so byte order is chronological.
const runKeyLayout = "20060102T150405.000000000"

var _ Store = (*BoltStore)(nil)

// BoltStore implements Store on a single bbolt file. Log entries are keyed
// by date and runs by start time, so both buckets iterate in time order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the catalog at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketLogs, bucketRuns} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func runKey(run *BatchRun) []byte {
	return []byte(run.StartedAt.UTC().Format(runKeyLayout) + "/" + run.ID)
}

func put(tx *bolt.Tx, bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put(key, data)
}

// SaveLog inserts or replaces the entry for entry.Date.
func (s *BoltStore) SaveLog(entry *LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketLogs, []byte(entry.Date), entry)
	})
}

func (s *BoltStore) GetLog(date string) (*LogEntry, error) {
	var entry LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLogs).Get([]byte(date))
		if data == nil {
			return fmt.Errorf("log %s: %w", date, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteLog removes the entry for date. Deleting a missing entry is not an
// error.
func (s *BoltStore) DeleteLog(date string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLogs).Delete([]byte(date))
	})
}

func (s *BoltStore) ListLogs(from, to string) ([]*LogEntry, error) {
	entries := []*LogEntry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		k, v := c.First()
		if from != "" {
			k, v = c.Seek([]byte(from))
		}
		for ; k != nil; k, v = c.Next() {
			if to != "" && bytes.Compare(k, []byte(to)) > 0 {
				break
			}
			var entry LogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("log %s: %w", k, err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) SaveRun(run *BatchRun) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketRuns, runKey(run), run)
	})
}

func (s *BoltStore) LastRun() (*BatchRun, error) {
	runs, err := s.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("last run: %w", ErrNotFound)
	}
	return runs[0], nil
}

func (s *BoltStore) ListRuns(limit int) ([]*BatchRun, error) {
	runs := []*BatchRun{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) == limit {
				break
			}
			var run BatchRun
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("run %s: %w", k, err)
			}
			runs = append(runs, &run)
		}
		return nil
	})
	return runs, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
