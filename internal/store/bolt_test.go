package store

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"thermolog/internal/tlog"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetLog(t *testing.T) {
	s := newTestStore(t)

	entry := &LogEntry{
		Date:         "20240315",
		Path:         "/tmp/log_20240315.bin",
		Size:         17292,
		Version:      2,
		Samples:      1440,
		Partial:      true,
		ValidStart:   600,
		ValidEnd:     660,
		PressureBase: 1013.5,
		Stats:        tlog.DayStats{MinTemp: 20, MaxTemp: 21, AvgTemp: 20.5, HeaterOnMinutes: 12, ValidSamples: 60},
		GeneratedAt:  time.Now().Truncate(time.Millisecond),
	}

	if err := s.SaveLog(entry); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetLog("20240315")
	if err != nil {
		t.Fatal(err)
	}

	if got.Path != entry.Path {
		t.Errorf("path = %q, want %q", got.Path, entry.Path)
	}
	if got.Size != entry.Size {
		t.Errorf("size = %d, want %d", got.Size, entry.Size)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
	if !got.Partial || got.ValidStart != 600 || got.ValidEnd != 660 {
		t.Errorf("window = %v %d-%d, want partial 600-660", got.Partial, got.ValidStart, got.ValidEnd)
	}
	if got.Stats != entry.Stats {
		t.Errorf("stats = %+v, want %+v", got.Stats, entry.Stats)
	}
	if !got.GeneratedAt.Equal(entry.GeneratedAt) {
		t.Errorf("generated_at = %v, want %v", got.GeneratedAt, entry.GeneratedAt)
	}
}

func TestDeleteLog(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveLog(&LogEntry{Date: "20240101"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteLog("20240101"); err != nil {
		t.Fatal(err)
	}

	_, err := s.GetLog("20240101")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func dates(list []*LogEntry) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Date
	}
	return out
}

func TestListLogsRange(t *testing.T) {
	s := newTestStore(t)
	for _, d := range []string{"20240103", "20231231", "20240101", "20240110"} {
		if err := s.SaveLog(&LogEntry{Date: d}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		from, to string
		want     []string
	}{
		{"", "", []string{"20231231", "20240101", "20240103", "20240110"}},
		{"20240101", "", []string{"20240101", "20240103", "20240110"}},
		{"", "20240103", []string{"20231231", "20240101", "20240103"}},
		{"20240102", "20240109", []string{"20240103"}},
		{"20240111", "", []string{}},
	}
	for _, tt := range tests {
		list, err := s.ListLogs(tt.from, tt.to)
		if err != nil {
			t.Fatal(err)
		}
		if got := dates(list); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ListLogs(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSaveLogReplaces(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveLog(&LogEntry{Date: "20240101", Version: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveLog(&LogEntry{Date: "20240101", Version: 2}); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListLogs("", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Version != 2 {
		t.Errorf("list = %+v, want single v2 entry", list)
	}
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.LastRun(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: err = %v, want ErrNotFound", err)
	}

	base := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	// Saved out of order; history is ordered by start time.
	for _, r := range []*BatchRun{
		{ID: "b", StartedAt: base.Add(time.Hour), Days: 10},
		{ID: "a", StartedAt: base, Days: 8, Failed: []string{"20240102"}},
		{ID: "c", StartedAt: base.Add(2 * time.Hour), Days: 1},
	} {
		r.FinishedAt = r.StartedAt.Add(time.Second)
		if err := s.SaveRun(r); err != nil {
			t.Fatal(err)
		}
	}

	last, err := s.LastRun()
	if err != nil {
		t.Fatal(err)
	}
	if last.ID != "c" || last.Days != 1 {
		t.Errorf("last = %+v, want run c", last)
	}

	all, err := s.ListRuns(0)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	if want := []string{"c", "b", "a"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ListRuns(0) = %v, want %v", ids, want)
	}
	if len(all[2].Failed) != 1 || all[2].Failed[0] != "20240102" {
		t.Errorf("failed = %v", all[2].Failed)
	}

	two, err := s.ListRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(two) != 2 || two[0].ID != "c" {
		t.Errorf("ListRuns(2) = %d runs, first %q", len(two), two[0].ID)
	}
}
