// Package events is a small in-process pub/sub used to fan generation
// progress out to the MQTT publisher and WebSocket clients.
//
// Every subscriber owns a bounded queue drained by its own goroutine, so
// Emit never waits on a handler. A slow MQTT publish delays only the
// publisher's own queue, never the batch workers that emit.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"thermolog/internal/store"
)

// Event types
const (
	EventBatchStarted  = "batch_started"
	EventBatchFinished = "batch_finished"
	EventLogGenerated  = "log_generated"
	EventLogFailed     = "log_failed"
	EventFileChanged   = "log_file_changed"
)

// DefaultQueueSize is the per-subscriber backlog before events are dropped.
const DefaultQueueSize = 256

// Event is a generation event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BatchStart is the payload of EventBatchStarted.
type BatchStart struct {
	RunID string `json:"run_id"`
	Days  int    `json:"days"`
}

// LogFailure is the payload of EventLogFailed.
type LogFailure struct {
	Date  string `json:"date"`
	Error string `json:"error"`
}

// FileChange is the payload of EventFileChanged. Exists is false once the
// file has been removed or renamed away.
type FileChange struct {
	Date   string `json:"date"`
	File   string `json:"file"`
	Exists bool   `json:"exists"`
}

// BatchStarted announces a batch of days under runID.
func BatchStarted(runID string, days int) Event {
	return Event{Type: EventBatchStarted, Data: BatchStart{RunID: runID, Days: days}}
}

// BatchFinished carries the completed run summary.
func BatchFinished(run *store.BatchRun) Event {
	return Event{Type: EventBatchFinished, Data: run}
}

// LogGenerated carries the catalog entry of a freshly written day.
func LogGenerated(entry *store.LogEntry) Event {
	return Event{Type: EventLogGenerated, Data: entry}
}

// LogFailed reports a day that could not be generated.
func LogFailed(date string, err error) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Event{Type: EventLogFailed, Data: LogFailure{Date: date, Error: msg}}
}

// FileChanged reports a settled change to a day file on disk.
func FileChanged(c FileChange) Event {
	return Event{Type: EventFileChanged, Data: c}
}

// Handler is a callback for events. Handlers run on the subscriber's own
// goroutine and must not call Flush.
type Handler func(Event)

type subscriber struct {
	eventType string // empty matches every type
	handler   Handler
	queue     chan Event
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-subscriber backlog.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// Bus provides pub/sub for generation events.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	closed    bool
	queueSize int
	workers   sync.WaitGroup

	pendMu  sync.Mutex
	pendCnd *sync.Cond
	pending int

	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		subs:      make(map[uint64]*subscriber),
		queueSize: DefaultQueueSize,
		logger:    logger,
	}
	b.pendCnd = sync.NewCond(&b.pendMu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) On(eventType string, handler Handler) func() {
	return b.subscribe(eventType, handler)
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (b *Bus) OnAll(handler Handler) func() {
	return b.subscribe("", handler)
}

func (b *Bus) subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	s := &subscriber{eventType: eventType, handler: handler, queue: make(chan Event, b.queueSize)}
	b.subs[id] = s
	b.workers.Add(1)
	go b.run(s)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.queue)
			}
		})
	}
}

// Emit queues event for every matching subscriber without waiting for
// delivery. A subscriber whose queue is full misses the event.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.eventType != "" && s.eventType != event.Type {
			continue
		}
		b.track(1)
		select {
		case s.queue <- event:
		default:
			b.track(-1)
			b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber queue full", "type", event.Type)
		}
	}
}

// Flush blocks until every event queued so far has been handled.
func (b *Bus) Flush() {
	b.pendMu.Lock()
	for b.pending > 0 {
		b.pendCnd.Wait()
	}
	b.pendMu.Unlock()
}

// Dropped reports how many deliveries were skipped on full queues.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, lets subscribers drain what is already
// queued and waits for them to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.queue)
	}
	b.mu.Unlock()
	b.workers.Wait()
}

func (b *Bus) run(s *subscriber) {
	defer b.workers.Done()
	for event := range s.queue {
		b.deliver(s.handler, event)
		b.track(-1)
	}
}

func (b *Bus) deliver(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}

func (b *Bus) track(delta int) {
	b.pendMu.Lock()
	b.pending += delta
	if b.pending == 0 {
		b.pendCnd.Broadcast()
	}
	b.pendMu.Unlock()
}
