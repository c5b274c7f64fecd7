// Package scenario loads Lua scripts that rewrite generated samples, used to
// inject sensor dropouts, stuck relays and similar faults into a day log.
package scenario

import "errors"

var (
	// ErrNoHandler is returned when a script does not define on_sample.
	ErrNoHandler = errors.New("scenario: on_sample not defined")
	// ErrInvalidID is returned for IDs that are not a plain file name stem.
	ErrInvalidID = errors.New("scenario: invalid id")
)

// ScriptMeta is read from the first line of a script: -- {"name": "..."}
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Script is a single scenario file on disk.
type Script struct {
	ID       string     `json:"id"` // filename stem (no .lua)
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}
