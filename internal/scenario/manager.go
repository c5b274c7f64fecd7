package scenario

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// validID checks that a scenario ID is safe to use as a filename component.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\") && !strings.Contains(id, "..")
}

// Manager reads scenario scripts from a directory.
type Manager struct {
	dir string
	mu  sync.RWMutex
}

// NewManager creates a manager rooted at dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scenarios dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the scenarios directory.
func (m *Manager) Dir() string { return m.dir }

// List returns all scripts in the directory, sorted by ID.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}

	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		s, err := parseFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue // skip unreadable scripts
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

// Get returns a single script by ID.
func (m *Manager) Get(id string) (*Script, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := parseFile(filepath.Join(m.dir, id+".lua"))
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", id, err)
	}
	return s, nil
}

// Save writes a script as id.lua, replacing any existing one. meta is stored
// as the metadata line above code.
func (m *Manager) Save(id string, meta ScriptMeta, code string) (*Script, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	header, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	s := &Script{
		ID:       id,
		Meta:     meta,
		LuaCode:  code,
		FilePath: filepath.Join(m.dir, id+".lua"),
	}
	if s.Meta.Name == "" {
		s.Meta.Name = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	content := "-- " + string(header) + "\n" + code
	if err := os.WriteFile(s.FilePath, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("save scenario %s: %w", id, err)
	}
	return s, nil
}

// Delete removes id.lua.
func (m *Manager) Delete(id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(filepath.Join(m.dir, id+".lua")); err != nil {
		return fmt.Errorf("delete scenario %s: %w", id, err)
	}
	return nil
}

func parseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Script{
		ID:       strings.TrimSuffix(filepath.Base(path), ".lua"),
		FilePath: path,
		LuaCode:  string(data),
	}

	first, rest, _ := strings.Cut(s.LuaCode, "\n")
	if strings.HasPrefix(first, "-- {") {
		if err := json.Unmarshal([]byte(strings.TrimPrefix(first, "-- ")), &s.Meta); err != nil {
			slog.Warn("scenario metadata parse error", "file", path, "err", err)
		}
		s.LuaCode = strings.TrimLeft(rest, "\n")
	}
	if s.Meta.Name == "" {
		s.Meta.Name = s.ID
	}
	return s, nil
}
