package scenario

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T, files map[string]string) *Manager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scenarios")
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func TestManagerList(t *testing.T) {
	m := newTestManager(t, map[string]string{
		"dropout.lua": "-- {\"name\": \"Sensor dropout\", \"description\": \"afternoon outage\"}\nfunction on_sample(s) end\n",
		"plain.lua":   "function on_sample(s) end\n",
		"notes.txt":   "ignored",
	})

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 2 {
		t.Fatalf("list count = %d, want 2", len(scripts))
	}
	if scripts[0].ID != "dropout" || scripts[1].ID != "plain" {
		t.Errorf("ids = %q, %q, want dropout, plain", scripts[0].ID, scripts[1].ID)
	}
	if scripts[0].Meta.Name != "Sensor dropout" {
		t.Errorf("name = %q, want Sensor dropout", scripts[0].Meta.Name)
	}
	if scripts[0].Meta.Description != "afternoon outage" {
		t.Errorf("description = %q", scripts[0].Meta.Description)
	}
	if scripts[0].LuaCode != "function on_sample(s) end\n" {
		t.Errorf("code = %q, metadata line not stripped", scripts[0].LuaCode)
	}
	if scripts[1].Meta.Name != "plain" {
		t.Errorf("default name = %q, want plain", scripts[1].Meta.Name)
	}
}

func TestManagerGetInvalidID(t *testing.T) {
	m := newTestManager(t, nil)
	for _, id := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q) succeeded, want error", id)
		}
	}
}

func TestManagerGetMissing(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.Get("nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want not exist", err)
	}
}

func TestManagerSaveAndDelete(t *testing.T) {
	m := newTestManager(t, nil)

	code := "function on_sample(s) s.hum = nil end\n"
	saved, err := m.Save("humidity_loss", ScriptMeta{Name: "Humidity loss", Description: "no RH all day"}, code)
	if err != nil {
		t.Fatal(err)
	}
	if saved.FilePath != filepath.Join(m.Dir(), "humidity_loss.lua") {
		t.Errorf("path = %q", saved.FilePath)
	}

	got, err := m.Get("humidity_loss")
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.Name != "Humidity loss" || got.Meta.Description != "no RH all day" {
		t.Errorf("meta = %+v", got.Meta)
	}
	if got.LuaCode != code {
		t.Errorf("code = %q, want %q", got.LuaCode, code)
	}

	if _, err := m.Save("humidity_loss", ScriptMeta{}, "function on_sample(s) end\n"); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Get("humidity_loss"); got.Meta.Name != "humidity_loss" {
		t.Errorf("replaced name = %q, want id as default", got.Meta.Name)
	}

	if err := m.Delete("humidity_loss"); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete("humidity_loss"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second delete: err = %v, want not exist", err)
	}
}

func TestManagerRejectsInvalidIDs(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.Save("../escape", ScriptMeta{}, ""); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Save: err = %v, want ErrInvalidID", err)
	}
	if err := m.Delete("a/b"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Delete: err = %v, want ErrInvalidID", err)
	}
	if _, err := m.Get(".."); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Get: err = %v, want ErrInvalidID", err)
	}
}
