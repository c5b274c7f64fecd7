package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"thermolog/internal/batch"
	"thermolog/internal/daylog"
	"thermolog/internal/store"
	"thermolog/internal/tlog"
)

// logPoint is one sample of GET /api/log. Missing values are null.
type logPoint struct {
	T        string   `json:"t"`
	Temp     *float64 `json:"temp"`
	Hum      *int     `json:"hum"`
	Heat     int      `json:"heat"`
	Setpoint *float64 `json:"setpoint"`
	Press    *int     `json:"press"`
}

type logResponse struct {
	Date    string     `json:"date"`
	Version uint8      `json:"version"`
	Samples int        `json:"samples"`
	Data    []logPoint `json:"data"`
}

type statsResponse struct {
	Date    string `json:"date"`
	Version uint8  `json:"version"`
	Samples int    `json:"samples"`
	tlog.DayStats
}

type generateRequest struct {
	Date         string         `json:"date"`
	Version      uint8          `json:"version"`
	Window       *daylog.Window `json:"window,omitempty"`
	PressureBase float64        `json:"pressure_base,omitempty"`
	Scenario     string         `json:"scenario,omitempty"`
}

type generateResponse struct {
	Date  string        `json:"date"`
	Path  string        `json:"path"`
	Bytes int64         `json:"bytes"`
	Stats tlog.DayStats `json:"stats"`
}

func toPoint(r tlog.Record, v tlog.Version) logPoint {
	p := logPoint{
		T: fmt.Sprintf("%02d:%02d", r.MinuteOfDay/60, r.MinuteOfDay%60),
	}
	if t, ok := r.Temperature(); ok {
		p.Temp = &t
	}
	if sp, ok := r.Setpoint(); ok {
		p.Setpoint = &sp
	}
	if r.HasHumidity() {
		h := int(r.Humidity)
		p.Hum = &h
	}
	if r.RelayOn() {
		p.Heat = 1
	}
	if v == tlog.V2 && r.Pressure != 0 {
		press := int(r.Pressure)
		p.Press = &press
	}
	return p
}

// logPath resolves the ?date= query to a file in the output directory.
func (s *Server) logPath(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	raw := r.URL.Query().Get("date")
	date, err := daylog.ParseDate(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid date, want YYYYMMDD")
		return "", "", false
	}
	return filepath.Join(s.outputDir, daylog.FileName(date)), raw, true
}

func (s *Server) readLog(w http.ResponseWriter, r *http.Request) (*tlog.LogFile, bool) {
	path, _, ok := s.logPath(w, r)
	if !ok {
		return nil, false
	}
	f, err := tlog.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "log not found")
		return nil, false
	}
	if err != nil {
		s.logger.Warn("invalid log file", "path", path, "err", err)
		s.writeError(w, http.StatusInternalServerError, "invalid log file")
		return nil, false
	}
	return f, true
}

func (s *Server) handleAPILog(w http.ResponseWriter, r *http.Request) {
	f, ok := s.readLog(w, r)
	if !ok {
		return
	}
	resp := logResponse{
		Date:    fmt.Sprintf("%04d-%02d-%02d", f.Header.Year, f.Header.Month, f.Header.Day),
		Version: uint8(f.Header.Version),
		Samples: len(f.Records),
		Data:    make([]logPoint, 0, len(f.Records)),
	}
	for _, rec := range f.Records {
		resp.Data = append(resp.Data, toPoint(rec, f.Header.Version))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPILogStats(w http.ResponseWriter, r *http.Request) {
	f, ok := s.readLog(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		Date:     f.Header.DateString(),
		Version:  uint8(f.Header.Version),
		Samples:  len(f.Records),
		DayStats: tlog.Stats(f.Records),
	})
}

func (s *Server) handleAPILogRaw(w http.ResponseWriter, r *http.Request) {
	path, date, ok := s.logPath(w, r)
	if !ok {
		return
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "log not found")
		return
	}
	if err != nil {
		s.logger.Error("open log", "path", path, "err", err)
		s.writeError(w, http.StatusInternalServerError, "cannot open log file")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `inline; filename="log_`+date+`.bin"`)
	if st, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(st.Size(), 10))
	}
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Debug("send raw log", "path", path, "err", err)
	}
}

// logDates lists the YYYYMMDD dates of the log files in the output
// directory, sorted. A missing directory has none.
func (s *Server) logDates() ([]string, error) {
	dates := []string{}
	entries, err := os.ReadDir(s.outputDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return dates, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if d, err := daylog.ParseFileName(e.Name()); err == nil {
			dates = append(dates, d.Format(daylog.DateLayout))
		}
	}
	sort.Strings(dates)
	return dates, nil
}

func (s *Server) handleAPILogList(w http.ResponseWriter, r *http.Request) {
	dates, err := s.logDates()
	if err != nil {
		s.logger.Error("read output dir", "dir", s.outputDir, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, dates)
}

func (s *Server) handleAPIDeleteLog(w http.ResponseWriter, r *http.Request) {
	path, date, ok := s.logPath(w, r)
	if !ok {
		return
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, "log not found")
			return
		}
		s.logger.Error("delete log", "path", path, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if s.catalog != nil {
		if err := s.catalog.DeleteLog(date); err != nil {
			s.logger.Warn("catalog delete", "date", date, "err", err)
		}
	}
	s.logger.Info("log deleted", "path", path)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIGenerate(w http.ResponseWriter, r *http.Request) {
	if s.gen == nil {
		s.writeError(w, http.StatusNotImplemented, "generation disabled")
		return
	}

	var req generateRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := daylog.ParseDate(req.Date)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid date, want YYYYMMDD")
		return
	}
	if req.Version == 0 {
		req.Version = uint8(tlog.V1)
	}
	v := tlog.Version(req.Version)
	if !v.Valid() {
		s.writeError(w, http.StatusBadRequest, "version must be 1 or 2")
		return
	}
	if req.Window != nil && (req.Window.Start < 0 || req.Window.End > tlog.SamplesPerDay || req.Window.Start >= req.Window.End) {
		s.writeError(w, http.StatusBadRequest, "window must satisfy 0 <= start < end <= 1440")
		return
	}

	if req.PressureBase < 0 {
		s.writeError(w, http.StatusBadRequest, "pressure_base must not be negative; omit it to derive one")
		return
	}

	job := batch.Job{Date: date, Version: v, Window: req.Window, Scenario: req.Scenario}
	if v == tlog.V2 {
		job.PressureBase = req.PressureBase
		if job.PressureBase == 0 {
			job.PressureBase = batch.PressureBase(s.seed, date, s.basePressure)
		}
	}

	res := s.gen.RunOne(job)
	if res.Err != nil {
		s.logger.Error("generate", "date", req.Date, "err", res.Err)
		s.writeError(w, http.StatusInternalServerError, res.Err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, generateResponse{
		Date:  date.Format(daylog.DateLayout),
		Path:  res.Path,
		Bytes: res.Size,
		Stats: res.Stats,
	})
}

// requireCatalog answers 501 when the server runs without a catalog.
func (s *Server) requireCatalog(w http.ResponseWriter) bool {
	if s.catalog == nil {
		s.writeError(w, http.StatusNotImplemented, "catalog disabled")
		return false
	}
	return true
}

// handleAPIListCatalog lists catalog entries, optionally limited to
// ?from=YYYYMMDD and ?to=YYYYMMDD (inclusive).
func (s *Server) handleAPIListCatalog(w http.ResponseWriter, r *http.Request) {
	if !s.requireCatalog(w) {
		return
	}
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := daylog.ParseDate(d); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid date, want YYYYMMDD")
			return
		}
	}
	entries, err := s.catalog.ListLogs(from, to)
	if err != nil {
		s.logger.Error("list catalog", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAPIGetCatalog(w http.ResponseWriter, r *http.Request) {
	if !s.requireCatalog(w) {
		return
	}
	entry, err := s.catalog.GetLog(r.PathValue("date"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "log not found")
		return
	}
	if err != nil {
		s.logger.Error("get catalog", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAPILastRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireCatalog(w) {
		return
	}
	run, err := s.catalog.LastRun()
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no batch run recorded")
		return
	}
	if err != nil {
		s.logger.Error("get last run", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleAPIListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireCatalog(w) {
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.catalog.ListRuns(limit)
	if err != nil {
		s.logger.Error("list runs", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}
