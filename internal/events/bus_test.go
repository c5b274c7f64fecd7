package events

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"thermolog/internal/store"
)

func newTestBus(opts ...Option) *Bus {
	return NewBus(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})), opts...)
}

func TestBusOnAndUnsubscribe(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()
	var mu sync.Mutex
	var got []string
	unsub := bus.On(EventLogGenerated, func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})

	bus.Emit(Event{Type: EventLogGenerated})
	bus.Emit(Event{Type: EventLogFailed})
	bus.Flush()
	mu.Lock()
	if len(got) != 1 {
		t.Fatalf("calls = %d, want 1", len(got))
	}
	mu.Unlock()

	unsub()
	unsub()
	bus.Emit(Event{Type: EventLogGenerated})
	bus.Flush()
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Errorf("calls after unsubscribe = %d, want 1", len(got))
	}
}

func TestBusOnAll(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()
	var count atomic.Int32
	unsub := bus.OnAll(func(Event) { count.Add(1) })
	defer unsub()

	bus.Emit(Event{Type: EventBatchStarted})
	bus.Emit(Event{Type: EventBatchFinished})
	bus.Flush()
	if n := count.Load(); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()
	var got []string
	bus.OnAll(func(e Event) { got = append(got, e.Type) })

	want := []string{EventBatchStarted, EventLogGenerated, EventLogFailed, EventBatchFinished}
	for _, typ := range want {
		bus.Emit(Event{Type: typ})
	}
	bus.Flush()
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestBusRecoversPanic(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()
	var called atomic.Int32
	bus.On(EventLogFailed, func(Event) { panic("boom") })
	bus.OnAll(func(Event) { called.Add(1) })

	bus.Emit(Event{Type: EventLogFailed})
	bus.Emit(Event{Type: EventLogFailed})
	bus.Flush()
	if n := called.Load(); n != 2 {
		t.Errorf("other handler calls = %d, want 2", n)
	}
}

func TestBusSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()
	release := make(chan struct{})
	bus.On(EventLogGenerated, func(Event) { <-release })
	var fast atomic.Int32
	bus.On(EventLogGenerated, func(Event) { fast.Add(1) })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(Event{Type: EventLogGenerated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("Emit blocked on a stalled handler")
	}

	close(release)
	bus.Flush()
	if n := fast.Load(); n != 10 {
		t.Errorf("fast handler calls = %d, want 10", n)
	}
}

func TestBusDropsWhenQueueFull(t *testing.T) {
	bus := newTestBus(WithQueueSize(2))
	defer bus.Close()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var handled atomic.Int32
	bus.OnAll(func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		handled.Add(1)
	})

	bus.Emit(Event{Type: "first"})
	<-started
	for i := 0; i < 4; i++ {
		bus.Emit(Event{Type: "fill"})
	}
	if d := bus.Dropped(); d != 2 {
		t.Errorf("dropped = %d, want 2", d)
	}

	close(release)
	bus.Flush()
	if n := handled.Load(); n != 3 {
		t.Errorf("handled = %d, want 3", n)
	}
}

func TestBusClose(t *testing.T) {
	bus := newTestBus()
	var count atomic.Int32
	bus.OnAll(func(Event) { count.Add(1) })

	bus.Emit(Event{Type: EventBatchStarted})
	bus.Close()
	if n := count.Load(); n != 1 {
		t.Errorf("queued event handled %d times before close returned, want 1", n)
	}

	bus.Emit(Event{Type: EventBatchFinished})
	bus.OnAll(func(Event) { t.Error("subscriber added after close was called") })()
	bus.Emit(Event{Type: EventBatchFinished})
	bus.Flush()
	bus.Close()
	if n := count.Load(); n != 1 {
		t.Errorf("count after close = %d, want 1", n)
	}
}

func TestConstructors(t *testing.T) {
	entry := &store.LogEntry{Date: "20240315"}
	run := &store.BatchRun{ID: "r1", Days: 8}
	tests := []struct {
		event Event
		typ   string
		data  any
	}{
		{BatchStarted("r1", 8), EventBatchStarted, BatchStart{RunID: "r1", Days: 8}},
		{BatchFinished(run), EventBatchFinished, run},
		{LogGenerated(entry), EventLogGenerated, entry},
		{LogFailed("20240315", errors.New("disk full")), EventLogFailed, LogFailure{Date: "20240315", Error: "disk full"}},
		{LogFailed("20240315", nil), EventLogFailed, LogFailure{Date: "20240315"}},
		{FileChanged(FileChange{Date: "20240315", File: "20240315.tlog", Exists: true}), EventFileChanged,
			FileChange{Date: "20240315", File: "20240315.tlog", Exists: true}},
	}
	for _, tt := range tests {
		if tt.event.Type != tt.typ {
			t.Errorf("type = %q, want %q", tt.event.Type, tt.typ)
		}
		if tt.event.Data != tt.data {
			t.Errorf("%s data = %#v, want %#v", tt.typ, tt.event.Data, tt.data)
		}
	}
}
