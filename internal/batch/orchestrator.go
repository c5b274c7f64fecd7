// Package batch generates day logs for a set of dates, in parallel, and
// records each result in the catalog.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"thermolog/internal/daylog"
	"thermolog/internal/events"
	"thermolog/internal/store"
	"thermolog/internal/tlog"
)

// Scenarios resolves a scenario id to a record transform.
type Scenarios interface {
	Transform(id string) (daylog.Transform, error)
}

// Config holds orchestrator settings.
type Config struct {
	Seed    uint64
	Workers int
	Sticky  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCatalog records every generated day in s.
func WithCatalog(s store.Store) Option {
	return func(o *Orchestrator) {
		o.catalog = s
	}
}

// WithEvents emits progress events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(o *Orchestrator) {
		o.events = bus
	}
}

// WithScenarios enables Job.Scenario.
func WithScenarios(s Scenarios) Option {
	return func(o *Orchestrator) {
		o.scenarios = s
	}
}

// Orchestrator drives the day builder across jobs.
type Orchestrator struct {
	builder   *daylog.Builder
	sink      Sink
	cfg       Config
	logger    *slog.Logger
	catalog   store.Store
	events    *events.Bus
	scenarios Scenarios
	now       func() time.Time
}

// Result is the outcome of one job.
type Result struct {
	Job   Job
	Path  string
	Size  int64
	Stats tlog.DayStats
	Err   error
}

// New creates an orchestrator writing to sink.
func New(builder *daylog.Builder, sink Sink, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	o := &Orchestrator{
		builder: builder,
		sink:    sink,
		cfg:     cfg,
		logger:  logger.With("component", "batch"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run generates every job. Days are independent: a failed day does not stop
// the others. Results are in job order; the error joins every failure.
func (o *Orchestrator) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	started := o.now()
	runID := uuid.NewString()
	o.emit(events.BatchStarted(runID, len(jobs)))

	results := make([]Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Job: job, Err: err}
				return nil
			}
			results[i] = o.runOne(job, runID)
			return nil
		})
	}
	g.Wait()

	var (
		errs   []error
		failed []string
	)
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			failed = append(failed, r.Job.Date.Format(daylog.DateLayout))
		}
	}

	run := &store.BatchRun{ID: runID, StartedAt: started, FinishedAt: o.now(), Days: len(jobs), Failed: failed}
	if o.catalog != nil {
		if err := o.catalog.SaveRun(run); err != nil {
			o.logger.Warn("save batch run", "err", err)
		}
	}
	o.emit(events.BatchFinished(run))
	o.logger.Info("batch finished", "days", len(jobs), "failed", len(failed), "took", run.FinishedAt.Sub(started))

	return results, errors.Join(errs...)
}

// RunOne builds, stores and catalogs a single day outside any batch.
func (o *Orchestrator) RunOne(job Job) Result {
	return o.runOne(job, uuid.NewString())
}

func (o *Orchestrator) runOne(job Job, runID string) Result {
	res := Result{Job: job}
	date := job.Date.Format(daylog.DateLayout)

	f, err := o.build(job)
	if err != nil {
		res.Err = fmt.Errorf("day %s: %w", date, err)
		o.fail(date, res.Err)
		return res
	}
	data, err := f.MarshalBinary()
	if err != nil {
		res.Err = fmt.Errorf("day %s: %w", date, err)
		o.fail(date, res.Err)
		return res
	}
	path, err := o.sink.Write(daylog.FileName(job.Date), data)
	if err != nil {
		res.Err = fmt.Errorf("day %s: %w: %w", date, daylog.ErrWriteFailure, err)
		o.fail(date, res.Err)
		return res
	}

	res.Path = path
	res.Size = int64(len(data))
	res.Stats = tlog.Stats(f.Records)

	entry := &store.LogEntry{
		Date:         date,
		RunID:        runID,
		Path:         path,
		Size:         res.Size,
		Version:      uint8(job.Version),
		Samples:      len(f.Records),
		PressureBase: job.PressureBase,
		Scenario:     job.Scenario,
		Stats:        res.Stats,
		GeneratedAt:  o.now(),
	}
	if job.Window != nil {
		entry.Partial = true
		entry.ValidStart = job.Window.Start
		entry.ValidEnd = job.Window.End
	}
	if o.catalog != nil {
		if err := o.catalog.SaveLog(entry); err != nil {
			o.logger.Warn("catalog log", "date", date, "err", err)
		}
	}

	attrs := []any{"path", path, "bytes", res.Size, "date", job.Date.Format(time.DateOnly), "samples", len(f.Records), "version", job.Version}
	if job.Window != nil {
		attrs = append(attrs, "valid", job.Window.String())
	}
	o.logger.Info("generated", attrs...)
	o.emit(events.LogGenerated(entry))
	return res
}

func (o *Orchestrator) build(job Job) (*tlog.LogFile, error) {
	cfg := daylog.DayConfig{
		Date:         job.Date,
		Version:      job.Version,
		Window:       job.Window,
		PressureBase: job.PressureBase,
		Sticky:       o.cfg.Sticky,
		Seed:         o.cfg.Seed,
	}
	if job.Scenario != "" {
		if o.scenarios == nil {
			return nil, fmt.Errorf("scenario %q: scenarios disabled", job.Scenario)
		}
		tr, err := o.scenarios.Transform(job.Scenario)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", job.Scenario, err)
		}
		cfg.Transform = tr
	}
	return o.builder.File(cfg)
}

func (o *Orchestrator) fail(date string, err error) {
	o.logger.Error("generate day", "date", date, "err", err)
	o.emit(events.LogFailed(date, err))
}

func (o *Orchestrator) emit(event events.Event) {
	if o.events != nil {
		o.events.Emit(event)
	}
}
