package watch

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"thermolog/internal/events"
)

func startWatcher(t *testing.T) (string, <-chan events.FileChange) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	dir := t.TempDir()
	bus := events.NewBus(logger)
	t.Cleanup(bus.Close)

	ch := make(chan events.FileChange, 16)
	bus.On(events.EventFileChanged, func(e events.Event) {
		ch <- e.Data.(events.FileChange)
	})

	w, err := New(dir, bus, 20*time.Millisecond, logger)
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	t.Cleanup(w.Stop)
	return dir, ch
}

func next(t *testing.T, ch <-chan events.FileChange) events.FileChange {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no change event")
		return events.FileChange{}
	}
}

func TestWatcherCreateAndRemove(t *testing.T) {
	dir, ch := startWatcher(t)

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, ".log_20240315.bin.tmp"), []byte("x"), 0o644)
	path := filepath.Join(dir, "log_20240315.bin")
	if err := os.WriteFile(path, []byte("TLOG"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := next(t, ch)
	if c.Date != "20240315" || c.File != "log_20240315.bin" || !c.Exists {
		t.Errorf("got = %+v, want created log_20240315.bin", c)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	c = next(t, ch)
	if c.Exists {
		t.Errorf("got = %+v, want removed", c)
	}
}

func TestWatcherDebouncesAtomicWrite(t *testing.T) {
	dir, ch := startWatcher(t)

	tmp := filepath.Join(dir, "staging.tmp")
	if err := os.WriteFile(tmp, []byte("TLOG"), 0o644); err != nil {
		t.Fatal(err)
	}
	final := filepath.Join(dir, "log_20240316.bin")
	if err := os.Rename(tmp, final); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(final, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("more"))
	f.Close()

	c := next(t, ch)
	if c.Date != "20240316" || !c.Exists {
		t.Errorf("got = %+v", c)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second event %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewMissingDir(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	if _, err := New(filepath.Join(t.TempDir(), "nope"), events.NewBus(logger), 0, logger); err == nil {
		t.Error("expected error for missing dir")
	}
}
