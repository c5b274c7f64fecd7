//go:build no_scenario

package scenario

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"thermolog/internal/daylog"
)

// DefaultTimeout matches the Lua build.
const DefaultTimeout = 5 * time.Second

// ErrDisabled is returned by Transform when scenario support is compiled out.
var ErrDisabled = errors.New("scenario: disabled")

// Engine is a no-op stub when scenarios are disabled.
type Engine struct{}

// NewEngine returns a stub engine.
func NewEngine(_ *Manager, _ *slog.Logger, _ time.Duration) *Engine { return &Engine{} }

// Transform always fails.
func (e *Engine) Transform(id string) (daylog.Transform, error) {
	return nil, fmt.Errorf("scenario %s: %w", id, ErrDisabled)
}

// Validate always fails.
func (e *Engine) Validate(id, _ string) error {
	return fmt.Errorf("scenario %s: %w", id, ErrDisabled)
}
