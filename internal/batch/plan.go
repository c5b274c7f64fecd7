package batch

import (
	"math"
	"math/rand/v2"
	"time"

	"thermolog/internal/daylog"
	"thermolog/internal/tlog"
)

// Job describes one day to generate.
type Job struct {
	Date         time.Time
	Version      tlog.Version
	Window       *daylog.Window
	PressureBase float64
	Scenario     string
}

// PlanDefault returns the stock set for version v: PlanLastWeek with a
// 10:00-11:00 partial day for version 1, and the ten days from today-5 to
// today+4 for version 2.
func PlanDefault(today time.Time, v tlog.Version, seed uint64, basePressure float64) []Job {
	if v == tlog.V2 {
		return PlanRange(today, 5, 4, v, seed, basePressure)
	}
	return PlanLastWeek(today, daylog.HourWindow(10, 11))
}

// PlanLastWeek is the version 1 default set: today and the six days before,
// plus a partial log for tomorrow with data only inside window.
func PlanLastWeek(today time.Time, window *daylog.Window) []Job {
	today = midnight(today)
	jobs := make([]Job, 0, 8)
	for i := 0; i < 7; i++ {
		jobs = append(jobs, Job{Date: today.AddDate(0, 0, -i), Version: tlog.V1})
	}
	jobs = append(jobs, Job{Date: today.AddDate(0, 0, 1), Version: tlog.V1, Window: window})
	return jobs
}

// PlanRange is the version 2 default set: every day from today-before to
// today+after inclusive, each with its own pressure base.
func PlanRange(today time.Time, before, after int, v tlog.Version, seed uint64, basePressure float64) []Job {
	today = midnight(today)
	jobs := make([]Job, 0, before+after+1)
	for i := -before; i <= after; i++ {
		d := today.AddDate(0, 0, i)
		jobs = append(jobs, Job{Date: d, Version: v, PressureBase: PressureBase(seed, d, basePressure)})
	}
	return jobs
}

// PressureBase returns the mean pressure for date: base plus a slow weather
// wave over the year and up to ±3 hPa of jitter drawn from (seed, date).
func PressureBase(seed uint64, date time.Time, base float64) float64 {
	if base == 0 {
		base = 1013
	}
	rng := rand.New(rand.NewPCG(seed, uint64(midnight(date).Unix())))
	offset := 8 * math.Sin(2*math.Pi*float64(date.YearDay())/10)
	jitter := float64(rng.IntN(7) - 3)
	return math.Round(base + offset + jitter)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
