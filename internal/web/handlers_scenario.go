package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"thermolog/internal/scenario"
)

type scenarioItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type saveScenarioRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
}

func (s *Server) handleAPIListScenarios(w http.ResponseWriter, r *http.Request) {
	out := []scenarioItem{}
	if s.scenarios == nil {
		s.writeJSON(w, http.StatusOK, out)
		return
	}
	scripts, err := s.scenarios.List()
	if err != nil {
		s.logger.Error("list scenarios", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	for _, sc := range scripts {
		out = append(out, scenarioItem{ID: sc.ID, Name: sc.Meta.Name, Description: sc.Meta.Description})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// scenarioError maps manager errors to a response. It reports whether err
// was handled.
func (s *Server) scenarioError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, scenario.ErrInvalidID):
		s.writeError(w, http.StatusBadRequest, "invalid scenario id")
	case errors.Is(err, fs.ErrNotExist):
		s.writeError(w, http.StatusNotFound, "scenario not found")
	default:
		s.logger.Error("scenario", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
	return true
}

func (s *Server) handleAPIGetScenario(w http.ResponseWriter, r *http.Request) {
	if s.scenarios == nil {
		s.writeError(w, http.StatusNotFound, "scenario not found")
		return
	}
	sc, err := s.scenarios.Get(r.PathValue("id"))
	if s.scenarioError(w, err) {
		return
	}
	s.writeJSON(w, http.StatusOK, sc)
}

// handleAPISaveScenario creates or replaces a script. Code that fails to
// compile in the sandbox is rejected with 400.
func (s *Server) handleAPISaveScenario(w http.ResponseWriter, r *http.Request) {
	if s.scenarios == nil {
		s.writeError(w, http.StatusNotImplemented, "scenarios disabled")
		return
	}
	id := r.PathValue("id")

	var req saveScenarioRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LuaCode == "" {
		s.writeError(w, http.StatusBadRequest, "lua_code is required")
		return
	}
	if s.scenarioCheck != nil {
		if err := s.scenarioCheck.Validate(id, req.LuaCode); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	sc, err := s.scenarios.Save(id, scenario.ScriptMeta{Name: req.Name, Description: req.Description}, req.LuaCode)
	if s.scenarioError(w, err) {
		return
	}
	s.logger.Info("scenario saved", "id", sc.ID)
	s.writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleAPIDeleteScenario(w http.ResponseWriter, r *http.Request) {
	if s.scenarios == nil {
		s.writeError(w, http.StatusNotFound, "scenario not found")
		return
	}
	id := r.PathValue("id")
	if s.scenarioError(w, s.scenarios.Delete(id)) {
		return
	}
	s.logger.Info("scenario deleted", "id", id)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
