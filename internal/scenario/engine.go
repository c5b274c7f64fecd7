//go:build !no_scenario

package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	lua "github.com/yuin/gopher-lua"

	"thermolog/internal/daylog"
	"thermolog/internal/tlog"
)

// DefaultTimeout bounds the time one script may spend on a whole day.
const DefaultTimeout = 5 * time.Second

// Engine compiles scenario scripts into record transforms.
type Engine struct {
	manager *Manager
	logger  *slog.Logger
	timeout time.Duration
}

// NewEngine creates an engine. A zero timeout uses DefaultTimeout.
func NewEngine(mgr *Manager, logger *slog.Logger, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		manager: mgr,
		logger:  logger.With("component", "scenario"),
		timeout: timeout,
	}
}

// Transform loads scenario id and returns a transform running its on_sample
// function. The returned transform owns a Lua VM and serves a single day.
func (e *Engine) Transform(id string) (daylog.Transform, error) {
	s, err := e.manager.Get(id)
	if err != nil {
		return nil, err
	}
	t, err := e.compile(s)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Validate compiles code in the sandbox and checks that it defines
// on_sample. The top level of the script runs once; on_sample does not.
func (e *Engine) Validate(id, code string) error {
	t, err := e.compile(&Script{ID: id, LuaCode: code})
	if err != nil {
		return err
	}
	return t.Close()
}

func (e *Engine) compile(s *Script) (*luaTransform, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	L := newSandbox()
	L.SetContext(ctx)

	t := &luaTransform{id: s.ID, state: L, cancel: cancel}
	logger := e.logger.With("scenario", s.ID)
	mod := L.NewTable()
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		logger.Info(L.CheckString(1))
		return 0
	}))
	mod.RawSetString("no_temp", lua.LNumber(tlog.NoTemperature))
	mod.RawSetString("no_hum", lua.LNumber(tlog.NoHumidity))
	L.SetGlobal("scenario", mod)

	if err := L.DoString(s.LuaCode); err != nil {
		t.Close()
		return nil, fmt.Errorf("load scenario %s: %w", s.ID, err)
	}
	fn, ok := L.GetGlobal("on_sample").(*lua.LFunction)
	if !ok {
		t.Close()
		return nil, fmt.Errorf("load scenario %s: %w", s.ID, ErrNoHandler)
	}
	t.fn = fn
	return t, nil
}

// newSandbox returns a VM without filesystem, process or module loading
// access.
func newSandbox() *lua.LState {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "loadstring", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

type luaTransform struct {
	id     string
	state  *lua.LState
	fn     *lua.LFunction
	cancel context.CancelFunc
}

// Apply calls on_sample(s). The function may mutate s or return a new table;
// either way the resulting fields are written back into rec.
func (t *luaTransform) Apply(rec *tlog.Record) error {
	L := t.state
	tbl := recordTable(L, rec)
	if err := L.CallByParam(lua.P{Fn: t.fn, NRet: 1, Protect: true}, tbl); err != nil {
		return fmt.Errorf("scenario %s: %w", t.id, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	if rt, ok := ret.(*lua.LTable); ok {
		tbl = rt
	}
	if err := applyTable(tbl, rec); err != nil {
		return fmt.Errorf("scenario %s: %w", t.id, err)
	}
	return nil
}

// Close releases the VM.
func (t *luaTransform) Close() error {
	t.cancel()
	t.state.Close()
	return nil
}

// recordTable exposes rec to Lua. Temperatures are in degrees; missing values
// are nil.
func recordTable(L *lua.LState, rec *tlog.Record) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("minute", lua.LNumber(rec.MinuteOfDay))
	tbl.RawSetString("valid", lua.LBool(rec.HasTemperature()))
	if v, ok := rec.Temperature(); ok {
		tbl.RawSetString("temp", lua.LNumber(v))
	}
	if v, ok := rec.Setpoint(); ok {
		tbl.RawSetString("setpoint", lua.LNumber(v))
	}
	if rec.HasHumidity() {
		tbl.RawSetString("hum", lua.LNumber(rec.Humidity))
	}
	tbl.RawSetString("flags", lua.LNumber(rec.Flags))
	tbl.RawSetString("heat", lua.LBool(rec.RelayOn()))
	tbl.RawSetString("bank", lua.LNumber(rec.ActiveBank))
	tbl.RawSetString("pressure", lua.LNumber(rec.Pressure))
	return tbl
}

// applyTable writes the fields of tbl back into rec, clamping each value to
// its on-disk width. minute and valid are read-only.
func applyTable(tbl *lua.LTable, rec *tlog.Record) error {
	temp, ok, err := numberField(tbl, "temp")
	if err != nil {
		return err
	}
	rec.TempCenti = tlog.NoTemperature
	if ok {
		rec.TempCenti = centi(temp)
	}

	sp, ok, err := numberField(tbl, "setpoint")
	if err != nil {
		return err
	}
	rec.SetpointCenti = tlog.NoTemperature
	if ok {
		rec.SetpointCenti = centi(sp)
	}

	hum, ok, err := numberField(tbl, "hum")
	if err != nil {
		return err
	}
	rec.Humidity = tlog.NoHumidity
	if ok {
		rec.Humidity = uint8(clamp(hum, 0, math.MaxUint8))
	}

	flags, ok, err := numberField(tbl, "flags")
	if err != nil {
		return err
	}
	if ok {
		rec.Flags = uint8(clamp(flags, 0, math.MaxUint8))
	}
	switch tbl.RawGetString("heat") {
	case lua.LTrue:
		rec.Flags |= tlog.FlagRelayOn
	case lua.LFalse:
		rec.Flags &^= tlog.FlagRelayOn
	}

	bank, ok, err := numberField(tbl, "bank")
	if err != nil {
		return err
	}
	if ok {
		rec.ActiveBank = uint8(clamp(bank, 0, math.MaxUint8))
	}

	press, ok, err := numberField(tbl, "pressure")
	if err != nil {
		return err
	}
	rec.Pressure = 0
	if ok {
		rec.Pressure = uint16(clamp(press, 0, math.MaxUint16))
	}
	return nil
}

func numberField(tbl *lua.LTable, name string) (float64, bool, error) {
	switch v := tbl.RawGetString(name).(type) {
	case *lua.LNilType:
		return 0, false, nil
	case lua.LNumber:
		return float64(v), true, nil
	default:
		return 0, false, fmt.Errorf("field %s: want number, got %s", name, v.Type())
	}
}

// centi converts degrees to hundredths, keeping clear of the sentinel.
func centi(deg float64) int16 {
	return int16(clamp(math.Round(deg*100), math.MinInt16+1, math.MaxInt16))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, math.Round(v)))
}
