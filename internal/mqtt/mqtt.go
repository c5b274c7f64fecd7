// Package mqtt publishes a summary of every generated day log to an MQTT
// broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"thermolog/internal/events"
	"thermolog/internal/store"
)

// Publisher sends payloads to the broker.
type Publisher interface {
	// Publish sends payload to topic. Failures are reported, never fatal.
	Publish(topic string, payload []byte, retained bool) error

	// Close publishes the offline state and disconnects.
	Close() error
}

// LogTopic returns the retained summary topic for a YYYYMMDD date.
func LogTopic(prefix, date string) string {
	return prefix + "/logs/" + date
}

// StateTopic returns the online/offline availability topic.
func StateTopic(prefix string) string {
	return prefix + "/bridge/state"
}

// LastRunTopic returns the topic carrying the latest batch outcome.
func LastRunTopic(prefix string) string {
	return prefix + "/bridge/last_run"
}

// Summary is the JSON payload published for one day log.
type Summary struct {
	Date        string   `json:"date"`
	File        string   `json:"file"`
	Bytes       int64    `json:"bytes"`
	Version     uint8    `json:"version"`
	Samples     int      `json:"samples"`
	Valid       int      `json:"valid_samples"`
	Window      string   `json:"window,omitempty"`
	MinTemp     *float64 `json:"min_temp"`
	MaxTemp     *float64 `json:"max_temp"`
	AvgTemp     *float64 `json:"avg_temp"`
	HeaterOn    int      `json:"heater_on_minutes"`
	Scenario    string   `json:"scenario,omitempty"`
	GeneratedAt string   `json:"generated_at"`
}

// FormatSummary creates the JSON payload for a catalog entry. Temperatures
// are null when the day holds no valid sample.
func FormatSummary(e *store.LogEntry) ([]byte, error) {
	s := Summary{
		Date:        e.Date,
		File:        e.Path,
		Bytes:       e.Size,
		Version:     e.Version,
		Samples:     e.Samples,
		Valid:       e.Stats.ValidSamples,
		HeaterOn:    e.Stats.HeaterOnMinutes,
		Scenario:    e.Scenario,
		GeneratedAt: e.GeneratedAt.UTC().Format(time.RFC3339),
	}
	if e.Partial {
		s.Window = fmt.Sprintf("%02d:%02d-%02d:%02d", e.ValidStart/60, e.ValidStart%60, e.ValidEnd/60, e.ValidEnd%60)
	}
	if e.Stats.ValidSamples > 0 {
		s.MinTemp, s.MaxTemp, s.AvgTemp = &e.Stats.MinTemp, &e.Stats.MaxTemp, &e.Stats.AvgTemp
	}
	return json.Marshal(s)
}

// Bridge forwards generation events from the bus to a Publisher.
type Bridge struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
	unsub  []func()
}

// NewBridge creates a bridge publishing under prefix.
func NewBridge(pub Publisher, prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		pub:    pub,
		prefix: prefix,
		logger: logger.With("component", "mqtt"),
	}
}

// Start subscribes to bus.
func (b *Bridge) Start(bus *events.Bus) {
	b.unsub = append(b.unsub,
		bus.On(events.EventLogGenerated, b.handleLogGenerated),
		bus.On(events.EventBatchFinished, b.handleBatchFinished),
	)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop unsubscribes and closes the publisher.
func (b *Bridge) Stop() {
	for _, u := range b.unsub {
		u()
	}
	b.unsub = nil
	if err := b.pub.Close(); err != nil {
		b.logger.Warn("MQTT close", "err", err)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleLogGenerated(event events.Event) {
	entry, ok := event.Data.(*store.LogEntry)
	if !ok {
		return
	}
	payload, err := FormatSummary(entry)
	if err != nil {
		b.logger.Error("format summary", "date", entry.Date, "err", err)
		return
	}
	topic := LogTopic(b.prefix, entry.Date)
	if err := b.pub.Publish(topic, payload, true); err != nil {
		b.logger.Warn("MQTT publish", "topic", topic, "err", err)
	}
}

func (b *Bridge) handleBatchFinished(event events.Event) {
	run, ok := event.Data.(*store.BatchRun)
	if !ok {
		return
	}
	payload, err := json.Marshal(run)
	if err != nil {
		b.logger.Error("format batch run", "err", err)
		return
	}
	topic := LastRunTopic(b.prefix)
	if err := b.pub.Publish(topic, payload, true); err != nil {
		b.logger.Warn("MQTT publish", "topic", topic, "err", err)
	}
}
