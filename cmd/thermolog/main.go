package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"thermolog/internal/batch"
	"thermolog/internal/daylog"
	"thermolog/internal/events"
	"thermolog/internal/scenario"
	"thermolog/internal/store"
	"thermolog/internal/tlog"
	"thermolog/internal/watch"
	"thermolog/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Output struct {
		Dir     string `yaml:"dir"`
		Version uint8  `yaml:"version"` // 1 or 2
	} `yaml:"output"`
	Batch struct {
		Plan         string  `yaml:"plan"` // "default", "lastweek", "range", "none"
		Seed         uint64  `yaml:"seed"`
		Workers      int     `yaml:"workers"`
		Sticky       bool    `yaml:"sticky_hysteresis"`
		BasePressure float64 `yaml:"base_pressure"`
		DaysBefore   int     `yaml:"days_before"`
		DaysAfter    int     `yaml:"days_after"`
		Scenario     string  `yaml:"scenario"`
		Partial      struct {
			StartHour int `yaml:"start_hour"`
			EndHour   int `yaml:"end_hour"`
		} `yaml:"partial"`
	} `yaml:"batch"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Web struct {
		Listen         string   `yaml:"listen"` // empty: exit after the batch
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScenariosDir string `yaml:"scenarios_dir"`
}

func (c *Config) validate() error {
	if !tlog.Version(c.Output.Version).Valid() {
		return fmt.Errorf("output.version must be 1 or 2, got %d", c.Output.Version)
	}
	switch c.Batch.Plan {
	case "default", "lastweek", "range", "none":
	default:
		return fmt.Errorf("batch.plan must be default, lastweek, range or none, got %q", c.Batch.Plan)
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers)
	}
	if c.Batch.DaysBefore < 0 || c.Batch.DaysAfter < 0 {
		return fmt.Errorf("batch.days_before and batch.days_after must not be negative")
	}
	if c.Batch.BasePressure < 0 {
		return fmt.Errorf("batch.base_pressure must not be negative, got %v", c.Batch.BasePressure)
	}
	p := c.Batch.Partial
	if p.StartHour < 0 || p.EndHour > 24 || p.StartHour >= p.EndHour {
		return fmt.Errorf("batch.partial must satisfy 0 <= start_hour < end_hour <= 24, got %d-%d", p.StartHour, p.EndHour)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	explicit := len(os.Args) > 1
	if explicit {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		cfg, err = parseConfig(nil)
	}
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("thermolog starting", "version", version, "output", cfg.Output.Dir, "log_version", cfg.Output.Version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	sink, err := batch.NewDirSink(cfg.Output.Dir)
	if err != nil {
		logger.Error("open output", "err", err)
		os.Exit(1)
	}

	bus := events.NewBus(logger)
	batchOpts := []batch.Option{batch.WithCatalog(db), batch.WithEvents(bus)}

	scenarios, err := scenario.NewManager(cfg.ScenariosDir)
	if err != nil {
		logger.Error("create scenario manager", "err", err)
		os.Exit(1)
	}
	engine := scenario.NewEngine(scenarios, logger, scenario.DefaultTimeout)
	batchOpts = append(batchOpts, batch.WithScenarios(engine))

	orch := batch.New(daylog.NewBuilder(logger), sink, batch.Config{
		Seed:    cfg.Batch.Seed,
		Workers: cfg.Batch.Workers,
		Sticky:  cfg.Batch.Sticky,
	}, logger, batchOpts...)

	// Publish MQTT summaries (no-op when built with no_mqtt tag).
	mqtt := initMQTT(bus, cfg, logger)

	jobs := planJobs(cfg, time.Now())
	if len(jobs) > 0 {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		_, err := orch.Run(ctx, jobs)
		stop()
		if err != nil {
			logger.Error("batch failed", "err", err)
			if cfg.Web.Listen == "" {
				bus.Close()
				mqtt.Stop()
				db.Close()
				os.Exit(1)
			}
		}
	}

	if cfg.Web.Listen == "" {
		// Drain queued summaries before the MQTT client disconnects.
		bus.Close()
		mqtt.Stop()
		logger.Info("done")
		return
	}

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithEvents(bus),
		web.WithGenerator(orch, cfg.Batch.Seed, cfg.Batch.BasePressure),
		web.WithScenarios(scenarios, engine),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webServer := web.NewServer(db, cfg.Output.Dir, logger, webOpts...)

	watcher, err := watch.New(cfg.Output.Dir, bus, 0, logger)
	if err != nil {
		logger.Warn("output dir not watched", "dir", cfg.Output.Dir, "err", err)
	} else {
		watcher.Start()
	}

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	if watcher != nil {
		watcher.Stop()
	}
	bus.Close()
	webServer.Stop()
	mqtt.Stop()

	logger.Info("goodbye")
}

// planJobs expands the configured plan for today. Every job gets the
// configured version, window and scenario.
func planJobs(cfg *Config, today time.Time) []batch.Job {
	v := tlog.Version(cfg.Output.Version)
	window := daylog.HourWindow(cfg.Batch.Partial.StartHour, cfg.Batch.Partial.EndHour)

	var jobs []batch.Job
	switch cfg.Batch.Plan {
	case "none":
		return nil
	case "lastweek":
		jobs = batch.PlanLastWeek(today, window)
	case "range":
		jobs = batch.PlanRange(today, cfg.Batch.DaysBefore, cfg.Batch.DaysAfter, v, cfg.Batch.Seed, cfg.Batch.BasePressure)
	default:
		jobs = batch.PlanDefault(today, v, cfg.Batch.Seed, cfg.Batch.BasePressure)
	}

	for i := range jobs {
		j := &jobs[i]
		if j.Window != nil {
			j.Window = window
		}
		if j.Version != v {
			j.Version = v
			if v == tlog.V2 {
				j.PressureBase = batch.PressureBase(cfg.Batch.Seed, j.Date, cfg.Batch.BasePressure)
			}
		}
		j.Scenario = cfg.Batch.Scenario
	}
	return jobs
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

// parseConfig decodes YAML and fills defaults. Empty input yields the
// stock configuration.
func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "logs"
	}
	if cfg.Output.Version == 0 {
		cfg.Output.Version = uint8(tlog.V1)
	}
	if cfg.Batch.Plan == "" {
		cfg.Batch.Plan = "default"
	}
	if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = runtime.NumCPU()
	}
	if cfg.Batch.Plan == "range" && cfg.Batch.DaysBefore == 0 && cfg.Batch.DaysAfter == 0 {
		cfg.Batch.DaysBefore, cfg.Batch.DaysAfter = 5, 4
	}
	if cfg.Batch.Partial.StartHour == 0 && cfg.Batch.Partial.EndHour == 0 {
		cfg.Batch.Partial.StartHour, cfg.Batch.Partial.EndHour = 10, 11
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "thermolog.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "thermolog"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.ScenariosDir == "" {
		cfg.ScenariosDir = "scenarios"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
