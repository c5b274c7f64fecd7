// Package daylog assembles one calendar day of simulated thermostat samples
// into a TLOG file.
package daylog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"thermolog/internal/sim"
	"thermolog/internal/tlog"
)

// ErrWriteFailure wraps errors returned by the destination writer.
var ErrWriteFailure = errors.New("daylog: write failure")

// Window is a half-open range of valid minutes [Start, End).
type Window struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// HourWindow returns the window covering whole hours [startHour, endHour).
func HourWindow(startHour, endHour int) *Window {
	return &Window{Start: startHour * 60, End: endHour * 60}
}

// Contains reports whether minute is inside w.
func (w Window) Contains(minute int) bool {
	return minute >= w.Start && minute < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// Transform may rewrite a record just before it is encoded. Sentinel records
// are passed as well. A Transform that also implements io.Closer is closed
// once the day has been generated.
type Transform interface {
	Apply(rec *tlog.Record) error
}

// TransformFunc adapts a function to Transform.
type TransformFunc func(rec *tlog.Record) error

func (f TransformFunc) Apply(rec *tlog.Record) error { return f(rec) }

// DayConfig is everything needed to build one day. Nil Window means full mode.
type DayConfig struct {
	Date         time.Time
	Version      tlog.Version
	Window       *Window
	PressureBase float64
	Sticky       bool
	Seed         uint64
	Transform    Transform
}

// Builder writes day logs.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a builder.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Records generates the 1440 records of cfg's day.
func (b *Builder) Records(cfg DayConfig) ([]tlog.Record, error) {
	if c, ok := cfg.Transform.(io.Closer); ok {
		defer c.Close()
	}
	if !cfg.Version.Valid() {
		return nil, fmt.Errorf("daylog: version %d: %w", cfg.Version, tlog.ErrUnsupportedVersion)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, seedFromDate(cfg.Date)))

	full := sim.DefaultConfig()
	partial := sim.PartialConfig()
	full.Sticky, partial.Sticky = cfg.Sticky, cfg.Sticky
	if cfg.Version == tlog.V2 {
		full.Pressure, partial.Pressure = true, true
		full.PressureBase, partial.PressureBase = cfg.PressureBase, cfg.PressureBase
	}

	model := sim.New(full, rng)
	if cfg.Window != nil {
		model = sim.New(partial, rng)
	}

	records := make([]tlog.Record, tlog.SamplesPerDay)
	for minute := range records {
		s := model.Sample(minute)
		rec := s.Record()
		if cfg.Window != nil && !cfg.Window.Contains(minute) {
			rec = tlog.SentinelRecord(uint16(minute))
			rec.Pressure = s.Pressure
		}
		if cfg.Version != tlog.V2 {
			rec.Pressure = 0
		}
		if cfg.Transform != nil {
			if err := cfg.Transform.Apply(&rec); err != nil {
				return nil, fmt.Errorf("transform minute %d: %w", minute, err)
			}
		}
		records[minute] = rec
	}
	return records, nil
}

// File generates the complete log file for cfg.
func (b *Builder) File(cfg DayConfig) (*tlog.LogFile, error) {
	records, err := b.Records(cfg)
	if err != nil {
		return nil, err
	}
	y, m, d := cfg.Date.Date()
	return &tlog.LogFile{
		Header: tlog.Header{
			Version:    cfg.Version,
			Year:       uint16(y),
			Month:      uint8(m),
			Day:        uint8(d),
			NumSamples: tlog.SamplesPerDay,
		},
		Records: records,
	}, nil
}

// Build writes the day log for cfg to w and returns the number of bytes
// written.
func (b *Builder) Build(w io.Writer, cfg DayConfig) (int64, error) {
	f, err := b.File(cfg)
	if err != nil {
		return 0, err
	}
	n, err := f.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("%w: %s: %w", ErrWriteFailure, FileName(cfg.Date), err)
	}
	b.logger.Debug("day log built", "date", cfg.Date.Format(time.DateOnly), "version", cfg.Version, "bytes", n, "partial", cfg.Window != nil)
	return n, nil
}

// Encode returns the day log for cfg as bytes.
func (b *Builder) Encode(cfg DayConfig) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(cfg.Version.FileSize(tlog.SamplesPerDay))
	if _, err := b.Build(&buf, cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func seedFromDate(d time.Time) uint64 {
	y, m, day := d.Date()
	return uint64(y)*10000 + uint64(m)*100 + uint64(day)
}
