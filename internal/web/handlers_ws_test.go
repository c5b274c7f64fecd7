package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"thermolog/internal/events"
)

func startTestHub(t *testing.T) *WSHub {
	t.Helper()
	hub := NewWSHub(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

// settle gives the hub loop time to process queued work.
func settle() { time.Sleep(10 * time.Millisecond) }

func receivedTypes(c *wsClient) []string {
	var types []string
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return types
			}
			var ev events.Event
			json.Unmarshal(msg, &ev)
			types = append(types, ev.Type)
		default:
			return types
		}
	}
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := startTestHub(t)
	c := &wsClient{send: make(chan []byte, 16)}

	hub.register <- c
	settle()
	if n := hub.Clients(); n != 1 {
		t.Errorf("after register: clients = %d, want 1", n)
	}

	hub.unregister <- c
	settle()
	if n := hub.Clients(); n != 0 {
		t.Errorf("after unregister: clients = %d, want 0", n)
	}
	if _, ok := <-c.send; ok {
		t.Error("send queue should be closed after unregister")
	}
}

func TestWSHubFanOut(t *testing.T) {
	hub := startTestHub(t)

	all := &wsClient{send: make(chan []byte, 16)}
	files := &wsClient{send: make(chan []byte, 16)}
	files.subscribe([]string{events.EventFileChanged})
	hub.register <- all
	hub.register <- files
	settle()

	hub.Broadcast(events.Event{Type: events.EventLogGenerated, Data: map[string]string{"date": "20240315"}})
	hub.Broadcast(events.Event{Type: events.EventFileChanged, Data: map[string]string{"date": "20240315"}})
	settle()

	if got, want := receivedTypes(all), []string{events.EventLogGenerated, events.EventFileChanged}; !reflect.DeepEqual(got, want) {
		t.Errorf("unfiltered client got = %v, want %v", got, want)
	}
	if got, want := receivedTypes(files), []string{events.EventFileChanged}; !reflect.DeepEqual(got, want) {
		t.Errorf("filtered client got = %v, want %v", got, want)
	}
}

func TestWSHubEvictsFullClient(t *testing.T) {
	hub := startTestHub(t)

	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 16)}
	hub.register <- slow
	hub.register <- fast
	settle()

	hub.Broadcast(events.Event{Type: events.EventBatchStarted})
	hub.Broadcast(events.Event{Type: events.EventBatchFinished})
	settle()

	hub.mu.RLock()
	_, slowPresent := hub.clients[slow]
	_, fastPresent := hub.clients[fast]
	hub.mu.RUnlock()
	if slowPresent {
		t.Error("slow client should have been evicted")
	}
	if !fastPresent {
		t.Error("fast client should still be connected")
	}
}

func TestWSHubSkippedEventsDoNotEvict(t *testing.T) {
	hub := startTestHub(t)

	c := &wsClient{send: make(chan []byte, 1)}
	c.subscribe([]string{events.EventLogFailed})
	hub.register <- c
	settle()

	for i := 0; i < 5; i++ {
		hub.Broadcast(events.Event{Type: events.EventLogGenerated})
	}
	settle()
	if n := hub.Clients(); n != 1 {
		t.Errorf("clients = %d, want 1", n)
	}
}

func TestWSHubBroadcastNeverBlocks(t *testing.T) {
	hub := NewWSHub(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	// Not running: nothing drains the queue.
	for i := 0; i < wsQueueSize; i++ {
		hub.Broadcast(events.Event{Type: "fill"})
	}
	done := make(chan struct{})
	go func() {
		hub.Broadcast(events.Event{Type: "overflow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Broadcast blocked on a full queue")
	}
}

func TestWSHubStopClosesClients(t *testing.T) {
	hub := startTestHub(t)
	c := &wsClient{send: make(chan []byte, 16)}
	hub.register <- c
	settle()

	hub.Stop()
	hub.Stop()
	settle()
	if _, ok := <-c.send; ok {
		t.Error("send queue should be closed after Stop")
	}
}

func TestParseEventTypes(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"log_generated", []string{"log_generated"}},
		{" log_generated , ,log_file_changed ", []string{"log_generated", "log_file_changed"}},
	}
	for _, tt := range tests {
		if got := parseEventTypes(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseEventTypes(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestWSClientSubscribe(t *testing.T) {
	c := &wsClient{}
	if !c.wants(events.EventLogGenerated) {
		t.Error("new client should want every event")
	}
	c.subscribe([]string{events.EventLogFailed})
	if c.wants(events.EventLogGenerated) || !c.wants(events.EventLogFailed) {
		t.Errorf("after subscribe: subscribed = %v", c.subscribed())
	}
	c.subscribe(nil)
	if !c.wants(events.EventLogGenerated) {
		t.Error("empty subscribe should restore every event")
	}
}

func TestWSEndToEnd(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := events.NewBus(logger)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "log_20240315.bin"), []byte("TLOG"), 0o644)
	srv := NewServer(nil, dir, logger, WithEvents(bus), WithVersion("1.2.3"))
	defer srv.Stop()

	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?events=" + events.EventLogGenerated
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func(v any) {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(data, v); err != nil {
			t.Fatal(err)
		}
	}

	var hello struct {
		Type string    `json:"type"`
		Data helloData `json:"data"`
	}
	read(&hello)
	if hello.Type != EventHello || hello.Data.Version != "1.2.3" {
		t.Fatalf("hello = %+v", hello)
	}
	if !reflect.DeepEqual(hello.Data.Logs, []string{"20240315"}) {
		t.Errorf("hello logs = %v, want [20240315]", hello.Data.Logs)
	}
	if !reflect.DeepEqual(hello.Data.Events, []string{events.EventLogGenerated}) {
		t.Errorf("hello events = %v", hello.Data.Events)
	}

	// Registration with the hub is asynchronous.
	for i := 0; i < 100 && srv.wsHub.Clients() == 0; i++ {
		settle()
	}
	bus.Emit(events.Event{Type: events.EventBatchStarted})
	bus.Emit(events.Event{Type: events.EventLogGenerated, Data: map[string]string{"date": "20240316"}})

	var ev events.Event
	read(&ev)
	if ev.Type != events.EventLogGenerated {
		t.Errorf("event = %q, want %q (batch_started is filtered)", ev.Type, events.EventLogGenerated)
	}
}
