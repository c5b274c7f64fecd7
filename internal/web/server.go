// Package web serves the generated day logs over HTTP and pushes generation
// events to WebSocket clients.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"thermolog/internal/batch"
	"thermolog/internal/events"
	"thermolog/internal/scenario"
	"thermolog/internal/store"
)

// Generator builds a single day on demand.
type Generator interface {
	RunOne(job batch.Job) batch.Result
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithGenerator enables POST /api/generate. seed and basePressure derive the
// pressure base of version 2 days when the request leaves it out.
func WithGenerator(g Generator, seed uint64, basePressure float64) ServerOption {
	return func(s *Server) {
		s.gen = g
		s.seed = seed
		s.basePressure = basePressure
	}
}

// WithEvents broadcasts bus events to WebSocket clients.
func WithEvents(bus *events.Bus) ServerOption {
	return func(s *Server) {
		s.bus = bus
	}
}

// ScenarioChecker validates scenario code before it is saved.
type ScenarioChecker interface {
	Validate(id, code string) error
}

// WithScenarios serves the scenario scripts in mgr. A non-nil check rejects
// scripts that do not compile.
func WithScenarios(mgr *scenario.Manager, check ScenarioChecker) ServerOption {
	return func(s *Server) {
		s.scenarios = mgr
		s.scenarioCheck = check
	}
}

// Server is the HTTP API server.
type Server struct {
	catalog        store.Store
	outputDir      string
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	gen            Generator
	seed           uint64
	basePressure   float64
	bus            *events.Bus
	scenarios      *scenario.Manager
	scenarioCheck  ScenarioChecker
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a server for the logs in outputDir.
func NewServer(catalog store.Store, outputDir string, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		catalog:   catalog,
		outputDir: outputDir,
		logger:    logger.With("component", "web"),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	if s.bus != nil {
		s.unsubEvents = s.bus.OnAll(func(event events.Event) {
			s.wsHub.Broadcast(event)
		})
	}

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for its goroutine.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/logs", s.handleAPIListCatalog)
	s.mux.HandleFunc("GET /api/logs/{date}", s.handleAPIGetCatalog)
	s.mux.HandleFunc("GET /api/log", s.handleAPILog)
	s.mux.HandleFunc("DELETE /api/log", s.handleAPIDeleteLog)
	s.mux.HandleFunc("GET /api/log/raw", s.handleAPILogRaw)
	s.mux.HandleFunc("GET /api/log/list", s.handleAPILogList)
	s.mux.HandleFunc("GET /api/log/stats", s.handleAPILogStats)
	s.mux.HandleFunc("POST /api/generate", s.handleAPIGenerate)
	s.mux.HandleFunc("GET /api/batch/last", s.handleAPILastRun)
	s.mux.HandleFunc("GET /api/batch/runs", s.handleAPIListRuns)
	s.mux.HandleFunc("GET /api/scenarios", s.handleAPIListScenarios)
	s.mux.HandleFunc("GET /api/scenarios/{id}", s.handleAPIGetScenario)
	s.mux.HandleFunc("PUT /api/scenarios/{id}", s.handleAPISaveScenario)
	s.mux.HandleFunc("DELETE /api/scenarios/{id}", s.handleAPIDeleteScenario)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket upgrade cannot carry custom headers, so only /api/ is
	// key-protected.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
