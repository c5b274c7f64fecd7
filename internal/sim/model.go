// Package sim generates plausible per-minute thermostat samples: a scheduled
// room temperature with noise, a hysteresis-driven heater relay, humidity
// correlated with the relay and a slow barometric pressure wave.
package sim

import (
	"math"
	"math/rand/v2"

	"thermolog/internal/tlog"
)

// Config holds the day-level model parameters.
type Config struct {
	Schedule Schedule

	// SetpointOffset is added to the scheduled base to obtain the setpoint.
	SetpointOffset float64
	// Hysteresis is the width of the band below the setpoint where the relay
	// decision is not forced.
	Hysteresis float64
	// DeadZoneOn is the probability of the relay being on inside the band.
	DeadZoneOn float64
	// Sticky keeps the previous minute's relay state inside the band instead
	// of drawing it.
	Sticky bool

	// NightHumidity adds 5% before 07:00 and after 22:59.
	NightHumidity bool

	// Pressure enables the barometric channel. PressureBase is its daily
	// mean in hPa; every value is clamped to [950, 1050] whatever the base.
	Pressure     bool
	PressureBase float64
}

// DefaultConfig is the full-day model.
func DefaultConfig() Config {
	return Config{
		Schedule:       DefaultSchedule,
		SetpointOffset: 0.5,
		Hysteresis:     0.5,
		DeadZoneOn:     0.3,
		NightHumidity:  true,
	}
}

// PartialConfig is the model used inside the valid window of partial logs.
func PartialConfig() Config {
	return Config{
		Schedule:       FlatSchedule(20.5, 0.5),
		SetpointOffset: 0.5,
		Hysteresis:     0.5,
		DeadZoneOn:     0.3,
	}
}

const (
	humidityBase   = 55
	humidityHeater = 8
	humidityNight  = 5
	humidityMin    = 30
	humidityMax    = 70

	pressureSwing = 10.0
	pressureMin   = 950
	pressureMax   = 1050
)

// Sample is one simulated minute.
type Sample struct {
	Minute        int
	Temperature   float64
	Setpoint      float64
	TempCenti     int16
	SetpointCenti int16
	HeaterOn      bool
	Humidity      uint8
	ActiveBank    uint8
	Pressure      uint16
}

// Record converts s to its on-disk form.
func (s Sample) Record() tlog.Record {
	r := tlog.Record{
		MinuteOfDay:   uint16(s.Minute),
		TempCenti:     s.TempCenti,
		Humidity:      s.Humidity,
		SetpointCenti: s.SetpointCenti,
		ActiveBank:    s.ActiveBank,
		Pressure:      s.Pressure,
	}
	if s.HeaterOn {
		r.Flags = tlog.FlagRelayOn
	}
	return r
}

// Model produces samples for one day. It is not safe for concurrent use; the
// only state it carries is the RNG and, in sticky mode, the last relay state.
type Model struct {
	cfg      Config
	rng      *rand.Rand
	heaterOn bool
}

// New creates a model drawing randomness from rng.
func New(cfg Config, rng *rand.Rand) *Model {
	return &Model{cfg: cfg, rng: rng}
}

// NewSeeded creates a model with a PCG generator seeded from seed.
func NewSeeded(cfg Config, seed uint64) *Model {
	return New(cfg, rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)))
}

// Sample generates minute (0..1439) of the day.
func (m *Model) Sample(minute int) Sample {
	hour := minute / 60
	base, noise := m.cfg.Schedule.At(minute)

	temp := base + m.uniform(noise)
	setpoint := base + m.cfg.SetpointOffset

	s := Sample{
		Minute:        minute,
		Temperature:   temp,
		Setpoint:      setpoint,
		TempCenti:     centi(temp),
		SetpointCenti: centi(setpoint),
		ActiveBank:    uint8((hour / 6) % 4),
	}
	s.HeaterOn = m.relay(s.TempCenti, s.SetpointCenti)
	s.Humidity = m.humidity(hour, s.HeaterOn)
	if m.cfg.Pressure {
		s.Pressure = m.pressure(minute)
	}
	return s
}

// relay applies the hysteresis rule on the stored centesimi so the on-disk
// values satisfy it exactly.
func (m *Model) relay(temp, setpoint int16) bool {
	band := int32(math.Round(m.cfg.Hysteresis * 100))
	switch {
	case int32(temp) < int32(setpoint)-band:
		m.heaterOn = true
	case temp > setpoint:
		m.heaterOn = false
	case m.cfg.Sticky:
		// keep previous state
	default:
		m.heaterOn = m.rng.Float64() < m.cfg.DeadZoneOn
	}
	return m.heaterOn
}

func (m *Model) humidity(hour int, heaterOn bool) uint8 {
	h := humidityBase
	if heaterOn {
		h += -humidityHeater + m.intRange(-3, 2)
	} else {
		h += m.intRange(-2, 5)
	}
	if m.cfg.NightHumidity && (hour < 7 || hour > 22) {
		h += humidityNight
	}
	return uint8(clamp(h, humidityMin, humidityMax))
}

func (m *Model) pressure(minute int) uint16 {
	wave := pressureSwing * math.Sin(2*math.Pi*float64(minute)/tlog.SamplesPerDay)
	p := int(math.Round(m.cfg.PressureBase+wave)) + m.intRange(-2, 2)
	return uint16(clamp(p, pressureMin, pressureMax))
}

// uniform returns a value in [-amp, +amp].
func (m *Model) uniform(amp float64) float64 {
	return amp * (2*m.rng.Float64() - 1)
}

// intRange returns an integer in [lo, hi].
func (m *Model) intRange(lo, hi int) int {
	return lo + m.rng.IntN(hi-lo+1)
}

func centi(v float64) int16 {
	c := math.Round(v * 100)
	if c <= math.MinInt16 {
		return math.MinInt16 + 1
	}
	if c > math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(c)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
